package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dentalink/clinic-portal/internal/backend"
)

func testClient(t *testing.T) *backend.Client {
	t.Helper()
	client, err := backend.New(backend.Config{BaseURL: "http://clinic.invalid"})
	require.NoError(t, err)
	return client
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("upstream-secret"))
	require.NoError(t, err)
	return token
}

func TestCreateAndGet(t *testing.T) {
	reg := NewRegistry(time.Hour, nil, nil)
	state := reg.Create(&backend.AuthResponse{
		User: backend.AuthUser{ID: 4, Role: RoleOdontologo, Email: "doc@clinica.test"},
	}, testClient(t))

	require.NotEmpty(t, state.ID)
	assert.Equal(t, RoleOdontologo, state.Role)
	assert.NotNil(t, state.Charts)

	got, ok := reg.Get(state.ID)
	require.True(t, ok)
	assert.Same(t, state, got)

	reg.Delete(state.ID)
	_, ok = reg.Get(state.ID)
	assert.False(t, ok)
}

func TestRoleFallsBackToTokenClaim(t *testing.T) {
	reg := NewRegistry(time.Hour, nil, nil)
	token := signedToken(t, jwt.MapClaims{"role": RoleAdmin, "exp": float64(time.Now().Add(time.Hour).Unix())})

	state := reg.Create(&backend.AuthResponse{
		Token: token,
		User:  backend.AuthUser{ID: 1, Email: "admin@clinica.test"},
	}, testClient(t))

	assert.Equal(t, RoleAdmin, state.Role)
}

func TestExpiryTightenedToTokenExp(t *testing.T) {
	reg := NewRegistry(8*time.Hour, nil, nil)
	exp := time.Now().Add(10 * time.Minute)
	token := signedToken(t, jwt.MapClaims{"exp": float64(exp.Unix())})

	state := reg.Create(&backend.AuthResponse{
		Token: token,
		User:  backend.AuthUser{Role: RoleOdontologo},
	}, testClient(t))

	assert.WithinDuration(t, exp, state.ExpiresAt, 2*time.Second)
}

func TestExpiredSessionEvicted(t *testing.T) {
	reg := NewRegistry(time.Hour, nil, nil)
	state := reg.Create(&backend.AuthResponse{
		User: backend.AuthUser{Role: RoleOdontologo},
	}, testClient(t))

	reg.mu.Lock()
	state.ExpiresAt = time.Now().Add(-time.Minute)
	reg.mu.Unlock()

	_, ok := reg.Get(state.ID)
	assert.False(t, ok)
	// eviction is permanent
	reg.mu.RLock()
	_, stillThere := reg.sessions[state.ID]
	reg.mu.RUnlock()
	assert.False(t, stillThere)
}

func requireMiddlewareEngine(reg *Registry, roles ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/guarded", reg.Require(roles...), func(c *gin.Context) {
		state, _ := FromContext(c)
		c.JSON(http.StatusOK, gin.H{"email": state.Email})
	})
	return engine
}

func TestRequireRejectsMissingCookie(t *testing.T) {
	reg := NewRegistry(time.Hour, nil, nil)
	engine := requireMiddlewareEngine(reg)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/guarded", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRejectsWrongRole(t *testing.T) {
	reg := NewRegistry(time.Hour, nil, nil)
	state := reg.Create(&backend.AuthResponse{
		User: backend.AuthUser{Role: RolePaciente, Email: "pac@clinica.test"},
	}, testClient(t))
	engine := requireMiddlewareEngine(reg, RoleOdontologo, RoleAdmin)

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: state.ID})
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireAdmitsAllowedRole(t *testing.T) {
	reg := NewRegistry(time.Hour, nil, nil)
	state := reg.Create(&backend.AuthResponse{
		User: backend.AuthUser{Role: RoleOdontologo, Email: "doc@clinica.test"},
	}, testClient(t))
	engine := requireMiddlewareEngine(reg, RoleOdontologo, RoleAdmin)

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: state.ID})
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "doc@clinica.test")
}
