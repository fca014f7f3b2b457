package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dentalink/clinic-portal/internal/audit"
	"github.com/dentalink/clinic-portal/internal/backend"
	"github.com/dentalink/clinic-portal/internal/chart"
	"github.com/dentalink/clinic-portal/internal/history"
	"github.com/dentalink/clinic-portal/internal/ledger"
	"github.com/dentalink/clinic-portal/internal/odontogram"
	"github.com/dentalink/clinic-portal/internal/session"
	"github.com/dentalink/clinic-portal/internal/treatmentplan"
)

var ErrInvalidPatientID = errors.New("Identificador de paciente invalido")

type Handler struct {
	registry     *session.Registry
	backendCfg   backend.Config
	auditService audit.Service
	logger       *zap.Logger
}

func NewHandler(registry *session.Registry, backendCfg backend.Config, auditService audit.Service, logger *zap.Logger) *Handler {
	return &Handler{
		registry:     registry,
		backendCfg:   backendCfg,
		auditService: auditService,
		logger:       logger,
	}
}

// respondError maps domain failures onto HTTP statuses. Remote API errors
// pass through with their upstream status and message.
func respondError(c *gin.Context, err error) {
	var apiErr *backend.APIError
	switch {
	case errors.As(err, &apiErr):
		c.JSON(apiErr.StatusCode, gin.H{"message": apiErr.Message})
	case errors.Is(err, chart.ErrNotLoaded):
		c.JSON(http.StatusConflict, gin.H{"message": err.Error()})
	case errors.Is(err, chart.ErrPlanItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
	case errors.Is(err, ledger.ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
	case errors.Is(err, ledger.ErrConfirmationRequired):
		c.JSON(http.StatusConflict, gin.H{"message": err.Error()})
	case errors.Is(err, ledger.ErrAmountRequired),
		errors.Is(err, ledger.ErrMethodRequired),
		errors.Is(err, ledger.ErrEditFieldsRequired),
		errors.Is(err, treatmentplan.ErrPieceAndPrestationRequired):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"message": err.Error()})
	case errors.Is(err, ErrInvalidPatientID):
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
	}
}

// Authentication Handlers

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Email y contrasena son obligatorios"})
		return
	}

	client, err := backend.New(h.backendCfg)
	if err != nil {
		respondError(c, err)
		return
	}

	auth, err := client.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.auditService.LogEvent(c.Request.Context(), &audit.Event{
			EventType: audit.EventLogin,
			UserEmail: req.Email,
			Status:    "FAILURE",
			RequestID: c.GetString("request_id"),
		})
		respondError(c, err)
		return
	}

	state := h.registry.Create(auth, client)
	c.SetCookie(session.CookieName, state.ID, 0, "/", "", false, true)

	h.auditService.LogEvent(c.Request.Context(), &audit.Event{
		EventType: audit.EventLogin,
		UserEmail: state.Email,
		Role:      state.Role,
		Status:    "SUCCESS",
		RequestID: c.GetString("request_id"),
	})

	c.JSON(http.StatusOK, gin.H{"user": auth.User, "role": state.Role})
}

func (h *Handler) Logout(c *gin.Context) {
	state, ok := session.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": session.ErrNotAuthenticated.Error()})
		return
	}

	// upstream logout is best effort; the portal session dies regardless
	if err := state.Backend.Logout(c.Request.Context()); err != nil {
		h.logger.Warn("upstream logout failed", zap.Error(err))
	}
	h.registry.Delete(state.ID)
	c.SetCookie(session.CookieName, "", -1, "/", "", false, true)

	h.auditService.LogEvent(c.Request.Context(), &audit.Event{
		EventType: audit.EventLogout,
		UserEmail: state.Email,
		Role:      state.Role,
		Status:    "SUCCESS",
		RequestID: c.GetString("request_id"),
	})

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Patient Handlers

func (h *Handler) ListPatients(c *gin.Context) {
	state, _ := session.FromContext(c)
	patients, err := state.Backend.Patients(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"patients": patients})
}

type CreatePatientRequest struct {
	FullName         string `json:"fullName" binding:"required"`
	Email            string `json:"email"`
	DNI              string `json:"dni"`
	Phone            string `json:"phone"`
	ObraSocial       string `json:"obraSocial"`
	ObraSocialNumero string `json:"obraSocialNumero"`
}

func (h *Handler) CreatePatient(c *gin.Context) {
	var req CreatePatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Nombre completo es obligatorio"})
		return
	}

	state, _ := session.FromContext(c)
	patient, err := state.Backend.CreatePatient(c.Request.Context(), backend.Patient{
		FullName:         req.FullName,
		Email:            req.Email,
		DNI:              req.DNI,
		Phone:            req.Phone,
		ObraSocial:       req.ObraSocial,
		ObraSocialNumero: req.ObraSocialNumero,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	h.auditService.LogEvent(c.Request.Context(), &audit.Event{
		EventType: audit.EventPatientAdded,
		UserEmail: state.Email,
		Role:      state.Role,
		Status:    "SUCCESS",
		RequestID: c.GetString("request_id"),
	})

	c.JSON(http.StatusCreated, gin.H{"patient": patient})
}

// Chart Handlers

func (h *Handler) workspace(c *gin.Context) (*chart.Workspace, bool) {
	state, ok := session.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": session.ErrNotAuthenticated.Error()})
		return nil, false
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, ErrInvalidPatientID)
		return nil, false
	}
	return state.Charts.Workspace(id), true
}

func (h *Handler) renderView(c *gin.Context, ws *chart.Workspace) {
	view, err := ws.View()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) OpenChart(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	if err := ws.Open(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	h.renderView(c, ws)
}

func (h *Handler) GetChart(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	h.renderView(c, ws)
}

func (h *Handler) UpdateDetails(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	var details chart.Details
	if err := c.ShouldBindJSON(&details); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Datos invalidos"})
		return
	}
	if err := ws.UpdateDetails(details); err != nil {
		respondError(c, err)
		return
	}
	h.renderView(c, ws)
}

func (h *Handler) SaveChart(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	if err := ws.Save(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	view, err := ws.View()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Datos guardados", "view": view})
}

type PanelRequest struct {
	Panel chart.Panel `json:"panel" binding:"required"`
}

func (h *Handler) SetPanel(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	var req PanelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Panel invalido"})
		return
	}
	ws.SetPanel(req.Panel)
	h.renderView(c, ws)
}

// Odontogram Handlers

type ToolRequest struct {
	Tool odontogram.Tool `json:"tool" binding:"required"`
}

func (h *Handler) SetTool(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	var req ToolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Herramienta invalida"})
		return
	}
	ws.SetTool(req.Tool)
	h.renderView(c, ws)
}

type ToggleRequest struct {
	Tooth   string `json:"tooth" binding:"required"`
	Surface string `json:"surface"`
}

func (h *Handler) ToggleTooth(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Pieza invalida"})
		return
	}
	if err := ws.ToggleTooth(req.Tooth, req.Surface); err != nil {
		respondError(c, err)
		return
	}
	h.renderView(c, ws)
}

func (h *Handler) ClearOdontogram(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	if err := ws.ClearOdontogram(); err != nil {
		respondError(c, err)
		return
	}
	h.renderView(c, ws)
}

// Treatment Plan Handlers

type PlanItemRequest struct {
	Piece      string   `json:"piece"`
	Faces      []string `json:"faces"`
	Prestation string   `json:"prestation"`
}

func (h *Handler) AddPlanItem(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	var req PlanItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": treatmentplan.ErrPieceAndPrestationRequired.Error()})
		return
	}
	if _, err := ws.AddPlanItem(req.Piece, req.Faces, req.Prestation); err != nil {
		respondError(c, err)
		return
	}
	h.renderView(c, ws)
}

func (h *Handler) StartEditPlanItem(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	item, err := ws.StartEditPlanItem(c.Param("itemId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": item})
}

func (h *Handler) CancelEditPlanItem(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	if err := ws.CancelEditPlanItem(); err != nil {
		respondError(c, err)
		return
	}
	h.renderView(c, ws)
}

func (h *Handler) RemovePlanItem(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	if err := ws.RemovePlanItem(c.Param("itemId")); err != nil {
		respondError(c, err)
		return
	}
	h.renderView(c, ws)
}

// History Handlers

func (h *Handler) NewHistoryDraft(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	entry, err := ws.NewHistoryDraft()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entry": entry})
}

func (h *Handler) UpsertHistory(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	var entry history.Entry
	if err := c.ShouldBindJSON(&entry); err != nil || entry.ID == "" || entry.Date == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Entrada invalida"})
		return
	}
	if err := ws.UpsertHistory(entry); err != nil {
		respondError(c, err)
		return
	}
	h.renderView(c, ws)
}

type HistoryFilterRequest struct {
	Date string `json:"date"`
}

func (h *Handler) SetHistoryFilter(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	var req HistoryFilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Filtro invalido"})
		return
	}
	ws.SetHistoryFilter(req.Date)
	h.renderView(c, ws)
}

// Payment Handlers

type PaymentRequest struct {
	Amount        string `json:"amount"`
	Method        string `json:"method"`
	Note          string `json:"note"`
	Date          string `json:"date"`
	ServiceAmount string `json:"serviceAmount"`
}

func (h *Handler) AddPayment(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	var req PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Pago invalido"})
		return
	}
	if err := ws.AddPayment(c.Request.Context(), req.Amount, req.Method, req.Note, req.ServiceAmount); err != nil {
		respondError(c, err)
		return
	}
	h.renderView(c, ws)
}

func (h *Handler) paymentIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Pago inexistente"})
		return 0, false
	}
	return index, true
}

func (h *Handler) StartEditPayment(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	index, ok := h.paymentIndex(c)
	if !ok {
		return
	}
	record, err := ws.StartEditPayment(index)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": record, "index": index})
}

func (h *Handler) CancelEditPayment(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	if err := ws.CancelEditPayment(); err != nil {
		respondError(c, err)
		return
	}
	h.renderView(c, ws)
}

func (h *Handler) EditPayment(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	index, ok := h.paymentIndex(c)
	if !ok {
		return
	}
	var req PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Pago invalido"})
		return
	}
	if err := ws.EditPayment(c.Request.Context(), index, req.Amount, req.Method, req.Note, req.Date, req.ServiceAmount); err != nil {
		respondError(c, err)
		return
	}
	h.renderView(c, ws)
}

func (h *Handler) DeletePayment(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	index, ok := h.paymentIndex(c)
	if !ok {
		return
	}
	confirmed := c.Query("confirm") == "true"
	if err := ws.DeletePayment(c.Request.Context(), index, confirmed); err != nil {
		respondError(c, err)
		return
	}
	h.renderView(c, ws)
}

// Audit Handlers

// GetAuditLogs pages through the clinical activity trail, newest first.
func (h *Handler) GetAuditLogs(c *gin.Context) {
	from, err := strconv.Atoi(c.DefaultQuery("from", "0"))
	if err != nil || from < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Parametro from invalido"})
		return
	}
	size, err := strconv.Atoi(c.DefaultQuery("size", "20"))
	if err != nil || size <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Parametro size invalido"})
		return
	}

	filters := map[string]interface{}{}
	if email := c.Query("user_email"); email != "" {
		filters["user_email"] = email
	}
	if eventType := c.Query("event_type"); eventType != "" {
		filters["event_type"] = eventType
	}
	if patientID := c.Query("patient_id"); patientID != "" {
		filters["patient_id"] = patientID
	}

	events, err := h.auditService.QueryEvents(c.Request.Context(), filters, from, size)
	if err != nil {
		h.logger.Warn("audit query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "No se pudo obtener la actividad"})
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *Handler) PaymentInvoice(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	index, ok := h.paymentIndex(c)
	if !ok {
		return
	}
	html, err := ws.Invoice(index)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}
