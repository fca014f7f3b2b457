package session

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dentalink/clinic-portal/internal/audit"
	"github.com/dentalink/clinic-portal/internal/backend"
	"github.com/dentalink/clinic-portal/internal/chart"
)

// CookieName carries the portal session id.
const CookieName = "portal_session"

const contextKey = "portal.session"

var (
	ErrNotAuthenticated = errors.New("sesion no iniciada")
	ErrForbidden        = errors.New("sin permisos para esta seccion")
)

// Roles understood by the portal. The remote API is the authority; the
// portal only routes on them.
const (
	RoleAdmin      = "ADMIN"
	RoleOdontologo = "ODONTOLOGO"
	RolePaciente   = "PACIENTE"
)

// State is one authenticated portal session: who the user is, the upstream
// client holding their cookies and CSRF token, and their open clinical
// workspaces. Sessions are held server-side and addressed by an opaque
// cookie; handlers receive State explicitly rather than reading ambient
// globals.
type State struct {
	ID        string
	Role      string
	Email     string
	UserID    int64
	ExpiresAt time.Time
	Backend   *backend.Client
	Charts    *chart.Manager
}

// Registry holds live sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*State
	ttl      time.Duration
	audits   audit.Service
	logger   *zap.Logger
}

// NewRegistry creates a registry with the given session lifetime. audits
// may be nil.
func NewRegistry(ttl time.Duration, audits audit.Service, logger *zap.Logger) *Registry {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[string]*State),
		ttl:      ttl,
		audits:   audits,
		logger:   logger,
	}
}

// Create registers a session for an authenticated user and returns it. The
// expiry is the registry TTL, tightened to the upstream token's exp claim
// when one is present.
func (r *Registry) Create(auth *backend.AuthResponse, client *backend.Client) *State {
	role := auth.User.Role
	expires := time.Now().Add(r.ttl)

	if claims := unverifiedClaims(auth.Token); claims != nil {
		if role == "" {
			if c, ok := claims["role"].(string); ok {
				role = c
			}
		}
		if exp, ok := claims["exp"].(float64); ok {
			tokenExp := time.Unix(int64(exp), 0)
			if tokenExp.Before(expires) {
				expires = tokenExp
			}
		}
	}

	state := &State{
		ID:        uuid.NewString(),
		Role:      role,
		Email:     auth.User.Email,
		UserID:    auth.User.ID,
		ExpiresAt: expires,
		Backend:   client,
		Charts: chart.NewManager(client, r.audits, r.logger, chart.Actor{
			Email: auth.User.Email,
			Role:  role,
		}),
	}

	r.mu.Lock()
	r.sessions[state.ID] = state
	r.mu.Unlock()
	return state
}

// unverifiedClaims decodes the upstream JWT without checking its signature.
// The remote API verifies tokens; the portal only reads routing claims.
func unverifiedClaims(token string) jwt.MapClaims {
	if token == "" {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	return claims
}

// Get looks a session up, evicting it when expired.
func (r *Registry) Get(id string) (*State, bool) {
	r.mu.RLock()
	state, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(state.ExpiresAt) {
		r.Delete(id)
		return nil, false
	}
	return state, true
}

// Delete removes a session.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Require is gin middleware admitting only authenticated sessions, further
// restricted to the given roles when any are named. The session State is
// placed on the request context for FromContext.
func (r *Registry) Require(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}
	return func(c *gin.Context) {
		id, err := c.Cookie(CookieName)
		if err != nil || id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": ErrNotAuthenticated.Error()})
			return
		}
		state, ok := r.Get(id)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": ErrNotAuthenticated.Error()})
			return
		}
		if len(allowed) > 0 && !allowed[state.Role] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": ErrForbidden.Error()})
			return
		}
		c.Set(contextKey, state)
		c.Next()
	}
}

// FromContext returns the session placed by Require.
func FromContext(c *gin.Context) (*State, bool) {
	v, ok := c.Get(contextKey)
	if !ok {
		return nil, false
	}
	state, ok := v.(*State)
	return state, ok
}
