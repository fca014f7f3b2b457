package backend

import (
	"encoding/json"
	"fmt"

	"github.com/dentalink/clinic-portal/internal/ledger"
)

// Patient is the aggregate the remote API serves. The clinical sub-models
// travel inside it as string-encoded fields: Odontograma and
// TreatmentPlanItems are JSON-in-a-string, HistoryEntries arrives either as
// an encoded string or an already-decoded array so it is kept raw here and
// decoded by the history package. Payments is the only structured one.
type Patient struct {
	ID                 int64                  `json:"id,omitempty"`
	FullName           string                 `json:"fullName"`
	Email              string                 `json:"email"`
	DNI                string                 `json:"dni,omitempty"`
	Phone              string                 `json:"phone,omitempty"`
	ObraSocial         string                 `json:"obraSocial,omitempty"`
	ObraSocialNumero   string                 `json:"obraSocialNumero,omitempty"`
	HistorialClinico   string                 `json:"historialClinico,omitempty"`
	TreatmentPlan      string                 `json:"treatmentPlan,omitempty"`
	TreatmentPlanItems string                 `json:"treatmentPlanItems,omitempty"`
	Studies            string                 `json:"studies,omitempty"`
	StudiesFiles       string                 `json:"studiesFiles,omitempty"`
	HistoryEntries     json.RawMessage        `json:"historyEntries,omitempty"`
	Balance            *float64               `json:"balance,omitempty"`
	Payments           []ledger.PaymentRecord `json:"payments,omitempty"`
	Odontograma        string                 `json:"odontograma,omitempty"`
}

// PatientPatch is a partial update. Only non-nil fields are sent; each sent
// field replaces the stored value wholesale. Payments is a pointer to a
// slice so that an emptied ledger still serializes as [] rather than being
// omitted.
type PatientPatch struct {
	FullName           *string                 `json:"fullName,omitempty"`
	Email              *string                 `json:"email,omitempty"`
	DNI                *string                 `json:"dni,omitempty"`
	Phone              *string                 `json:"phone,omitempty"`
	ObraSocial         *string                 `json:"obraSocial,omitempty"`
	ObraSocialNumero   *string                 `json:"obraSocialNumero,omitempty"`
	HistorialClinico   *string                 `json:"historialClinico,omitempty"`
	TreatmentPlan      *string                 `json:"treatmentPlan,omitempty"`
	TreatmentPlanItems *string                 `json:"treatmentPlanItems,omitempty"`
	Studies            *string                 `json:"studies,omitempty"`
	HistoryEntries     *string                 `json:"historyEntries,omitempty"`
	Balance            *float64                `json:"balance,omitempty"`
	Payments           *[]ledger.PaymentRecord `json:"payments,omitempty"`
	Odontograma        *string                 `json:"odontograma,omitempty"`
}

// Dentist as nested under appointments.
type Dentist struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	License   string    `json:"license,omitempty"`
	Specialty string    `json:"specialty,omitempty"`
	User      *AuthUser `json:"user,omitempty"`
}

// Appointment is a scheduled visit. Times are ISO-8601 strings as served.
type Appointment struct {
	ID        int64    `json:"id"`
	DentistID int64    `json:"dentistId"`
	PatientID int64    `json:"patientId"`
	StartAt   string   `json:"startAt"`
	EndAt     string   `json:"endAt"`
	Status    string   `json:"status"`
	Reason    string   `json:"reason,omitempty"`
	Dentist   *Dentist `json:"dentist,omitempty"`
}

// AuthUser identifies the authenticated account.
type AuthUser struct {
	ID    int64  `json:"id"`
	Role  string `json:"role"`
	Email string `json:"email"`
}

// AuthResponse is the login envelope.
type AuthResponse struct {
	Token     string   `json:"token,omitempty"`
	CSRFToken string   `json:"csrfToken,omitempty"`
	User      AuthUser `json:"user"`
}

// APIError is a non-2xx response from the remote API, carrying the server's
// message or the operation's fallback.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d)", e.Message, e.StatusCode)
}
