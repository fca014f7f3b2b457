package chart

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dentalink/clinic-portal/internal/audit"
	"github.com/dentalink/clinic-portal/internal/backend"
	"github.com/dentalink/clinic-portal/internal/history"
	"github.com/dentalink/clinic-portal/internal/ledger"
	"github.com/dentalink/clinic-portal/internal/odontogram"
	"github.com/dentalink/clinic-portal/internal/treatmentplan"
)

var (
	ErrNotLoaded        = errors.New("La ficha del paciente no esta cargada")
	ErrPlanItemNotFound = errors.New("Prestacion inexistente")
)

// Panel names one tab of the patient screen.
type Panel string

const (
	PanelDatos       Panel = "datos"
	PanelHistoria    Panel = "historia"
	PanelOdontograma Panel = "odontograma"
	PanelPlan        Panel = "plan"
	PanelEstudios    Panel = "estudios"
	PanelPagos       Panel = "pagos"
	PanelTurnos      Panel = "turnos"
)

// Details is the editable contact/notes form of the patient screen.
type Details struct {
	FullName         string `json:"fullName"`
	Email            string `json:"email"`
	DNI              string `json:"dni"`
	Phone            string `json:"phone"`
	ObraSocial       string `json:"obraSocial"`
	ObraSocialNumero string `json:"obraSocialNumero"`
	HistorialClinico string `json:"historialClinico"`
	TreatmentPlan    string `json:"treatmentPlan"`
	Studies          string `json:"studies"`
}

// Actor identifies who is working on the chart, for the activity trail.
type Actor struct {
	Email string
	Role  string
}

// Workspace is one patient's clinical ledger held in memory between loads
// and saves: the four sub-models plus the screen's view state. All access is
// serialized by its mutex; payment mutations persist before they mutate, so
// a failed remote call leaves the previous state intact.
type Workspace struct {
	mu        sync.Mutex
	patientID int64
	client    *backend.Client
	audits    audit.Service
	logger    *zap.Logger
	actor     Actor

	loaded       bool
	patient      *backend.Patient
	appointments []backend.Appointment

	details       Details
	balance       float64
	odontogram    odontogram.Chart
	plan          *treatmentplan.Editor
	historyList   []history.Entry
	historyFilter string
	payments      []ledger.PaymentRecord
	editIndex     int

	panel Panel
	tool  odontogram.Tool
}

func newWorkspace(patientID int64, client *backend.Client, audits audit.Service, logger *zap.Logger, actor Actor) *Workspace {
	return &Workspace{
		patientID:  patientID,
		client:     client,
		audits:     audits,
		logger:     logger,
		actor:      actor,
		odontogram: odontogram.Chart{},
		plan:       treatmentplan.NewEditor(nil),
		editIndex:  -1,
		panel:      PanelDatos,
		tool:       odontogram.ToolBlue,
	}
}

func (w *Workspace) emit(ctx context.Context, event audit.EventType, status string) {
	if w.audits == nil {
		return
	}
	w.audits.LogEvent(ctx, &audit.Event{
		EventType: event,
		UserEmail: w.actor.Email,
		Role:      w.actor.Role,
		PatientID: w.patientID,
		Status:    status,
	})
}

// Open loads the patient aggregate and their appointments. Both fetches run
// together and both must succeed. The stored balance, when present, seeds
// the display; otherwise the balance derives from the payments. The history
// filter starts on the newest entry's date.
func (w *Workspace) Open(ctx context.Context) error {
	var (
		wg       sync.WaitGroup
		patient  *backend.Patient
		appts    []backend.Appointment
		pErr     error
		apptsErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		patient, pErr = w.client.Patient(ctx, w.patientID)
	}()
	go func() {
		defer wg.Done()
		appts, apptsErr = w.client.PatientAppointments(ctx, w.patientID)
	}()
	wg.Wait()
	if pErr != nil {
		w.emit(ctx, audit.EventChartOpened, "FAILURE")
		return pErr
	}
	if apptsErr != nil {
		w.emit(ctx, audit.EventChartOpened, "FAILURE")
		return apptsErr
	}

	planSource := patient.TreatmentPlanItems
	if planSource == "" {
		planSource = patient.TreatmentPlan
	}
	plan := treatmentplan.Parse(planSource)

	planNotes := patient.TreatmentPlan
	if planNotes == "" {
		planNotes = plan.Notes
	}

	payments := make([]ledger.PaymentRecord, len(patient.Payments))
	copy(payments, patient.Payments)

	balance := ledger.ComputeBalance(payments)
	if patient.Balance != nil {
		balance = *patient.Balance
	}

	entries := history.Parse(patient.HistoryEntries)
	filter := ""
	if len(entries) > 0 {
		filter = entries[0].Date
	}

	w.mu.Lock()
	w.loaded = true
	w.patient = patient
	w.appointments = appts
	w.details = Details{
		FullName:         patient.FullName,
		Email:            patient.Email,
		DNI:              patient.DNI,
		Phone:            patient.Phone,
		ObraSocial:       patient.ObraSocial,
		ObraSocialNumero: patient.ObraSocialNumero,
		HistorialClinico: patient.HistorialClinico,
		TreatmentPlan:    planNotes,
		Studies:          patient.Studies,
	}
	w.balance = balance
	w.odontogram = odontogram.Parse(patient.Odontograma)
	w.plan = treatmentplan.NewEditor(plan.Items)
	w.historyList = entries
	w.historyFilter = filter
	w.payments = payments
	w.editIndex = -1
	w.panel = PanelDatos
	w.tool = odontogram.ToolBlue
	w.mu.Unlock()

	w.emit(ctx, audit.EventChartOpened, "SUCCESS")
	return nil
}

// UpdateDetails replaces the contact/notes form.
func (w *Workspace) UpdateDetails(d Details) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.loaded {
		return ErrNotLoaded
	}
	w.details = d
	return nil
}

// Save writes the whole chart back in one partial update: contact fields
// (empty ones omitted), legacy plan notes, and the encoded odontogram,
// plan items, history and balance. Field-level merging is left to the API;
// each sent field replaces the stored value wholesale.
func (w *Workspace) Save(ctx context.Context) error {
	w.mu.Lock()
	if !w.loaded {
		w.mu.Unlock()
		return ErrNotLoaded
	}
	d := w.details
	odo := w.odontogram.Serialize()
	items := treatmentplan.Serialize(w.plan.Items)
	hist := history.Serialize(w.historyList)
	balance := w.balance
	w.mu.Unlock()

	patch := backend.PatientPatch{
		FullName:         optional(d.FullName),
		Email:            optional(d.Email),
		DNI:              optional(d.DNI),
		Phone:            optional(d.Phone),
		ObraSocial:       optional(d.ObraSocial),
		ObraSocialNumero: optional(d.ObraSocialNumero),
		HistorialClinico: optional(d.HistorialClinico),
		TreatmentPlan:    optional(d.TreatmentPlan),
		Studies:          optional(d.Studies),
		Odontograma:      &odo,
		HistoryEntries:   &hist,
		Balance:          &balance,
	}
	if items != "" {
		patch.TreatmentPlanItems = &items
	}

	updated, err := w.client.UpdatePatient(ctx, w.patientID, patch)
	if err != nil {
		w.emit(ctx, audit.EventChartSaved, "FAILURE")
		return err
	}

	w.mu.Lock()
	if updated != nil {
		w.patient = updated
	}
	w.mu.Unlock()

	w.emit(ctx, audit.EventChartSaved, "SUCCESS")
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// SetPanel switches the active tab.
func (w *Workspace) SetPanel(p Panel) {
	w.mu.Lock()
	w.panel = p
	w.mu.Unlock()
}

// SetTool selects the odontogram marking tool.
func (w *Workspace) SetTool(t odontogram.Tool) {
	w.mu.Lock()
	w.tool = t
	w.mu.Unlock()
}

// ToggleTooth applies one click with the active tool. An empty surface means
// the tooth body was clicked. The change is in-memory until Save.
func (w *Workspace) ToggleTooth(tooth, surface string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.loaded {
		return ErrNotLoaded
	}
	w.odontogram.Toggle(tooth, surface, w.tool)
	return nil
}

// ClearOdontogram wipes every mark.
func (w *Workspace) ClearOdontogram() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.loaded {
		return ErrNotLoaded
	}
	w.odontogram.Clear()
	return nil
}

// AddPlanItem adds a plan item, or applies the edit in progress.
func (w *Workspace) AddPlanItem(piece string, faces []string, prestation string) (treatmentplan.Item, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.loaded {
		return treatmentplan.Item{}, ErrNotLoaded
	}
	return w.plan.AddOrUpdate(piece, faces, prestation)
}

// StartEditPlanItem marks a plan item as being edited and returns it.
func (w *Workspace) StartEditPlanItem(id string) (treatmentplan.Item, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.loaded {
		return treatmentplan.Item{}, ErrNotLoaded
	}
	item, ok := w.plan.StartEdit(id)
	if !ok {
		return treatmentplan.Item{}, ErrPlanItemNotFound
	}
	return item, nil
}

// CancelEditPlanItem abandons the plan edit.
func (w *Workspace) CancelEditPlanItem() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.loaded {
		return ErrNotLoaded
	}
	w.plan.CancelEdit()
	return nil
}

// RemovePlanItem deletes a plan item by id.
func (w *Workspace) RemovePlanItem(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.loaded {
		return ErrNotLoaded
	}
	w.plan.Remove(id)
	return nil
}

// NewHistoryDraft returns a blank entry stamped with a fresh id and today's
// date, for the entry modal.
func (w *Workspace) NewHistoryDraft() (history.Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.loaded {
		return history.Entry{}, ErrNotLoaded
	}
	return history.NewDraft(time.Now()), nil
}

// UpsertHistory saves an entry (insert or amend by id) and moves the filter
// to its date.
func (w *Workspace) UpsertHistory(e history.Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.loaded {
		return ErrNotLoaded
	}
	w.historyList = history.Upsert(w.historyList, e)
	w.historyFilter = e.Date
	return nil
}

// SetHistoryFilter picks a date to show; empty shows everything.
func (w *Workspace) SetHistoryFilter(date string) {
	w.mu.Lock()
	w.historyFilter = date
	w.mu.Unlock()
}

// parseNumber applies form-input number semantics: blank is zero,
// anything unparseable is NaN.
func parseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

const isoMillis = "2006-01-02T15:04:05.000Z"

// AddPayment validates, persists and records a new payment. The record is
// stamped with the current instant; the balance is recomputed from the full
// ledger and written in the same request. Nothing mutates until the remote
// write succeeds.
func (w *Workspace) AddPayment(ctx context.Context, amount, method, note, serviceAmount string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.loaded {
		return ErrNotLoaded
	}

	svc := parseNumber(serviceAmount)
	if math.IsNaN(svc) {
		svc = 0
	}
	record := ledger.PaymentRecord{
		Amount:        parseNumber(amount),
		Method:        strings.TrimSpace(method),
		Note:          note,
		Date:          time.Now().UTC().Format(isoMillis),
		ServiceAmount: svc,
	}

	next, err := ledger.Append(w.payments, record)
	if err != nil {
		return err
	}
	balance := ledger.ComputeBalance(next)

	if err := w.persistPayments(ctx, next, balance, audit.EventPaymentAdded); err != nil {
		return err
	}
	return nil
}

// StartEditPayment opens a payment for editing and returns it.
func (w *Workspace) StartEditPayment(index int) (ledger.PaymentRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if index < 0 || index >= len(w.payments) {
		return ledger.PaymentRecord{}, ledger.ErrPaymentNotFound
	}
	w.editIndex = index
	return w.payments[index], nil
}

// CancelEditPayment abandons the payment edit.
func (w *Workspace) CancelEditPayment() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.loaded {
		return ErrNotLoaded
	}
	w.editIndex = -1
	return nil
}

// EditPayment replaces the payment at index. A blank date keeps the
// original stamp; a YYYY-MM-DD date becomes that day at midnight UTC.
// Unlike AddPayment a zero amount is rejected here.
func (w *Workspace) EditPayment(ctx context.Context, index int, amount, method, note, date, serviceAmount string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.loaded {
		return ErrNotLoaded
	}
	if index < 0 || index >= len(w.payments) {
		return ledger.ErrPaymentNotFound
	}

	amt := parseNumber(amount)
	if amt == 0 || math.IsNaN(amt) || strings.TrimSpace(method) == "" {
		return ledger.ErrEditFieldsRequired
	}

	svc := parseNumber(serviceAmount)
	if math.IsNaN(svc) {
		svc = 0
	}

	original := w.payments[index]
	stamp := original.Date
	if date != "" {
		if day, err := time.Parse("2006-01-02", date); err == nil {
			stamp = day.UTC().Format(isoMillis)
		}
	}

	next, err := ledger.EditAt(w.payments, index, ledger.PaymentRecord{
		Amount:        amt,
		Method:        method,
		Note:          note,
		Date:          stamp,
		ServiceAmount: svc,
	})
	if err != nil {
		return err
	}
	balance := ledger.ComputeBalance(next)

	if err := w.persistPayments(ctx, next, balance, audit.EventPaymentEdited); err != nil {
		return err
	}
	w.editIndex = -1
	return nil
}

// DeletePayment removes the payment at index. The caller must confirm the
// deletion explicitly. Deleting the payment being edited also clears the
// edit.
func (w *Workspace) DeletePayment(ctx context.Context, index int, confirmed bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.loaded {
		return ErrNotLoaded
	}
	if !confirmed {
		return ledger.ErrConfirmationRequired
	}

	next, err := ledger.RemoveAt(w.payments, index)
	if err != nil {
		return err
	}
	balance := ledger.ComputeBalance(next)

	if err := w.persistPayments(ctx, next, balance, audit.EventPaymentVoided); err != nil {
		return err
	}
	if w.editIndex == index {
		w.editIndex = -1
	}
	return nil
}

// persistPayments writes (payments, balance) in one request and applies the
// new state only on success. Caller holds the mutex.
func (w *Workspace) persistPayments(ctx context.Context, next []ledger.PaymentRecord, balance float64, event audit.EventType) error {
	updated, err := w.client.UpdatePatient(ctx, w.patientID, backend.PatientPatch{
		Payments: &next,
		Balance:  &balance,
	})
	if err != nil {
		w.emit(ctx, event, "FAILURE")
		return err
	}
	if updated != nil {
		updated.Payments = next
		w.patient = updated
	}
	w.payments = next
	w.balance = balance
	w.emit(ctx, event, "SUCCESS")
	return nil
}

// Invoice renders the printable receipt for the payment at index against
// the current balance.
func (w *Workspace) Invoice(index int) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.loaded {
		return "", ErrNotLoaded
	}
	name := w.details.FullName
	if name == "" && w.patient != nil {
		name = w.patient.FullName
	}
	inv, err := ledger.BuildInvoice(name, w.payments, index, w.balance)
	if err != nil {
		return "", err
	}
	return ledger.FormatInvoice(inv)
}

// View is a consistent snapshot of the workspace for rendering.
type View struct {
	PatientID     int64                   `json:"patientId"`
	Details       Details                 `json:"details"`
	Balance       float64                 `json:"balance"`
	TotalPaid     float64                 `json:"totalPaid"`
	LastPayment   *ledger.PaymentRecord   `json:"lastPayment,omitempty"`
	Payments      []ledger.PaymentRecord  `json:"payments"`
	PlanItems     []treatmentplan.Item    `json:"planItems"`
	PlanEditingID string                  `json:"planEditingId,omitempty"`
	Odontogram    odontogram.Chart        `json:"odontogram"`
	History       []history.Entry         `json:"history"`
	HistoryDates  []string                `json:"historyDates"`
	HistoryFilter string                  `json:"historyFilter"`
	Appointments  []backend.Appointment   `json:"appointments"`
	Panel         Panel                   `json:"panel"`
	Tool          odontogram.Tool         `json:"tool"`
	EditIndex     int                     `json:"editIndex"`
}

// View snapshots the workspace.
func (w *Workspace) View() (View, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.loaded {
		return View{}, ErrNotLoaded
	}

	payments := make([]ledger.PaymentRecord, len(w.payments))
	copy(payments, w.payments)
	items := make([]treatmentplan.Item, len(w.plan.Items))
	copy(items, w.plan.Items)
	chartCopy := make(odontogram.Chart, len(w.odontogram))
	for k, v := range w.odontogram {
		chartCopy[k] = v
	}

	view := View{
		PatientID:     w.patientID,
		Details:       w.details,
		Balance:       w.balance,
		TotalPaid:     ledger.TotalPaid(payments),
		Payments:      payments,
		PlanItems:     items,
		PlanEditingID: w.plan.EditingID,
		Odontogram:    chartCopy,
		History:       history.FilterByDate(w.historyList, w.historyFilter),
		HistoryDates:  history.DistinctDates(w.historyList),
		HistoryFilter: w.historyFilter,
		Appointments:  w.appointments,
		Panel:         w.panel,
		Tool:          w.tool,
		EditIndex:     w.editIndex,
	}
	if last, ok := ledger.LastPayment(payments); ok {
		view.LastPayment = &last
	}
	return view, nil
}
