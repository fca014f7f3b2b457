package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dentalink/clinic-portal/internal/audit"
	"github.com/dentalink/clinic-portal/internal/backend"
	"github.com/dentalink/clinic-portal/internal/ledger"
	"github.com/dentalink/clinic-portal/internal/session"
)

// upstream fakes the remote clinic API behind the portal.
type upstream struct {
	role     string
	patient  backend.Patient
	patches  int
	badLogin bool
}

func (u *upstream) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if u.badLogin {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"message": "Credenciales invalidas"})
			return
		}
		json.NewEncoder(w).Encode(backend.AuthResponse{
			CSRFToken: "csrf-1",
			User:      backend.AuthUser{ID: 1, Role: u.role, Email: "doc@clinica.test"},
		})
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/patients", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"patients": []backend.Patient{u.patient}})
	})
	mux.HandleFunc("/patients/7", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			u.patches++
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"patient": u.patient})
	})
	mux.HandleFunc("/patients/7/appointments", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"appointments": []backend.Appointment{}})
	})
	return mux
}

type portal struct {
	engine *gin.Engine
	cookie *http.Cookie
}

func newPortal(t *testing.T, u *upstream) *portal {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := httptest.NewServer(u.handler())
	t.Cleanup(srv.Close)

	registry := session.NewRegistry(time.Hour, audit.NewService(nil), zap.NewNop())
	handler := NewHandler(registry, backend.Config{BaseURL: srv.URL}, audit.NewService(nil), zap.NewNop())
	router := NewRouter(handler, registry, 10*time.Second, "*")
	return &portal{engine: router.SetupRouter(zap.NewNop())}
}

func (p *portal) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if p.cookie != nil {
		req.AddCookie(p.cookie)
	}
	w := httptest.NewRecorder()
	p.engine.ServeHTTP(w, req)
	return w
}

func (p *portal) login(t *testing.T) {
	t.Helper()
	w := p.do(t, http.MethodPost, "/api/auth/login", `{"email":"doc@clinica.test","password":"secret"}`)
	require.Equal(t, http.StatusOK, w.Code)
	for _, c := range w.Result().Cookies() {
		if c.Name == session.CookieName {
			p.cookie = c
			return
		}
	}
	t.Fatal("no session cookie issued")
}

func TestLoginIssuesSessionCookie(t *testing.T) {
	p := newPortal(t, &upstream{role: session.RoleOdontologo})
	p.login(t)

	w := p.do(t, http.MethodGet, "/api/patients", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "patients")
}

func TestLoginFailurePassesUpstreamMessage(t *testing.T) {
	p := newPortal(t, &upstream{role: session.RoleOdontologo, badLogin: true})
	w := p.do(t, http.MethodPost, "/api/auth/login", `{"email":"doc@clinica.test","password":"bad"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Credenciales invalidas")
}

func TestClinicalRoutesRequireSession(t *testing.T) {
	p := newPortal(t, &upstream{role: session.RoleOdontologo})
	w := p.do(t, http.MethodGet, "/api/patients", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestClinicalRoutesRejectPatientRole(t *testing.T) {
	p := newPortal(t, &upstream{role: session.RolePaciente})
	p.login(t)
	w := p.do(t, http.MethodGet, "/api/patients", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestChartFlow(t *testing.T) {
	u := &upstream{role: session.RoleOdontologo, patient: backend.Patient{
		ID:       7,
		FullName: "Ana Perez",
		Payments: []ledger.PaymentRecord{{Amount: 40, Method: "efectivo", Date: "2024-03-01T00:00:00.000Z", ServiceAmount: 100}},
	}}
	p := newPortal(t, u)
	p.login(t)

	w := p.do(t, http.MethodPost, "/api/patients/7/chart/open", "")
	require.Equal(t, http.StatusOK, w.Code)
	var view struct {
		Balance  float64                `json:"balance"`
		Payments []ledger.PaymentRecord `json:"payments"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, 60.0, view.Balance)

	// payment validation surfaces the Spanish message without touching
	// the upstream
	w = p.do(t, http.MethodPost, "/api/patients/7/chart/payments", `{"amount":"10","method":""}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "Metodo es obligatorio")
	assert.Equal(t, 0, u.patches)

	w = p.do(t, http.MethodPost, "/api/patients/7/chart/payments", `{"amount":"30","method":"tarjeta","serviceAmount":"50"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, 80.0, view.Balance)
	assert.Len(t, view.Payments, 2)
	assert.Equal(t, 1, u.patches)

	// deletes are confirmation-gated
	w = p.do(t, http.MethodDelete, "/api/patients/7/chart/payments/0", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	w = p.do(t, http.MethodDelete, "/api/patients/7/chart/payments/0?confirm=true", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, u.patches)
}

func TestPlanValidationMessage(t *testing.T) {
	u := &upstream{role: session.RoleOdontologo, patient: backend.Patient{ID: 7}}
	p := newPortal(t, u)
	p.login(t)

	w := p.do(t, http.MethodPost, "/api/patients/7/chart/open", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = p.do(t, http.MethodPost, "/api/patients/7/chart/plan", `{"piece":"","prestation":""}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "Pieza y prestacion son obligatorias.")
}

func TestChartOperationsBeforeOpen(t *testing.T) {
	u := &upstream{role: session.RoleOdontologo, patient: backend.Patient{ID: 7}}
	p := newPortal(t, u)
	p.login(t)

	w := p.do(t, http.MethodPost, "/api/patients/7/chart/odontogram/toggle", `{"tooth":"11","surface":"mesial"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestInvoiceEndpoint(t *testing.T) {
	u := &upstream{role: session.RoleOdontologo, patient: backend.Patient{
		ID:       7,
		FullName: "Ana Perez",
		Payments: []ledger.PaymentRecord{{Amount: 40, Method: "efectivo", Date: "2024-03-05T00:00:00.000Z", ServiceAmount: 100}},
	}}
	p := newPortal(t, u)
	p.login(t)

	w := p.do(t, http.MethodPost, "/api/patients/7/chart/open", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = p.do(t, http.MethodGet, "/api/patients/7/chart/payments/0/invoice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "Factura / Recibo #1")
}

func TestAuditLogsRequireAdminRole(t *testing.T) {
	p := newPortal(t, &upstream{role: session.RoleOdontologo})
	p.login(t)

	w := p.do(t, http.MethodGet, "/api/audit", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuditLogsEndpoint(t *testing.T) {
	p := newPortal(t, &upstream{role: session.RoleAdmin})
	p.login(t)

	// without an Elasticsearch backend the trail reads back empty
	w := p.do(t, http.MethodGet, "/api/audit?event_type=PAYMENT_ADDED&size=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "events")

	w = p.do(t, http.MethodGet, "/api/audit?from=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = p.do(t, http.MethodGet, "/api/audit?size=0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogoutKillsSession(t *testing.T) {
	p := newPortal(t, &upstream{role: session.RoleOdontologo})
	p.login(t)

	w := p.do(t, http.MethodPost, "/api/auth/logout", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = p.do(t, http.MethodGet, "/api/patients", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
