package ledger

import (
	"errors"
	"math"
)

var (
	ErrAmountRequired       = errors.New("Pago recibido es obligatorio")
	ErrMethodRequired       = errors.New("Metodo es obligatorio")
	ErrEditFieldsRequired   = errors.New("Pago recibido y metodo son obligatorios")
	ErrPaymentNotFound      = errors.New("pago inexistente")
	ErrConfirmationRequired = errors.New("confirmacion requerida")
)

// PaymentRecord is one row of a patient's payment ledger. ServiceAmount is
// what the performed service cost; Amount is what the patient actually paid,
// so a record can carry debt (service > paid) or credit (paid > service).
//
// Records have no stable identity: the stored form is a plain array and
// mutations address records by position. Callers must re-read indexes after
// any mutation.
type PaymentRecord struct {
	Amount        float64 `json:"amount"`
	Method        string  `json:"method"`
	Date          string  `json:"date"`
	Note          string  `json:"note,omitempty"`
	ServiceAmount float64 `json:"serviceAmount"`
}

// ComputeBalance derives the outstanding balance: the sum over all records of
// serviceAmount minus amount. Positive means the patient owes the clinic.
// NaN components count as zero.
func ComputeBalance(payments []PaymentRecord) float64 {
	var total float64
	for _, p := range payments {
		total += num(p.ServiceAmount) - num(p.Amount)
	}
	return total
}

// TotalPaid sums the paid amounts.
func TotalPaid(payments []PaymentRecord) float64 {
	var total float64
	for _, p := range payments {
		total += num(p.Amount)
	}
	return total
}

func num(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}

// LastPayment returns the record with the greatest date. Dates are ISO-8601
// strings, so lexicographic comparison orders them chronologically.
func LastPayment(payments []PaymentRecord) (PaymentRecord, bool) {
	if len(payments) == 0 {
		return PaymentRecord{}, false
	}
	last := payments[0]
	for _, p := range payments[1:] {
		if p.Date > last.Date {
			last = p
		}
	}
	return last, true
}

// Append validates a new payment and returns the extended slice. The
// receiving slice is not modified. A zero amount is accepted (a courtesy
// visit can be recorded); only an unparseable amount is rejected.
func Append(payments []PaymentRecord, p PaymentRecord) ([]PaymentRecord, error) {
	if p.Method == "" {
		return nil, ErrMethodRequired
	}
	if math.IsNaN(p.Amount) {
		return nil, ErrAmountRequired
	}
	out := make([]PaymentRecord, 0, len(payments)+1)
	out = append(out, payments...)
	out = append(out, p)
	return out, nil
}

// EditAt validates a replacement for the record at index and returns a new
// slice with it applied.
func EditAt(payments []PaymentRecord, index int, p PaymentRecord) ([]PaymentRecord, error) {
	if index < 0 || index >= len(payments) {
		return nil, ErrPaymentNotFound
	}
	if p.Amount == 0 || math.IsNaN(p.Amount) || p.Method == "" {
		return nil, ErrEditFieldsRequired
	}
	out := make([]PaymentRecord, len(payments))
	copy(out, payments)
	out[index] = p
	return out, nil
}

// RemoveAt returns a new slice without the record at index.
func RemoveAt(payments []PaymentRecord, index int) ([]PaymentRecord, error) {
	if index < 0 || index >= len(payments) {
		return nil, ErrPaymentNotFound
	}
	out := make([]PaymentRecord, 0, len(payments)-1)
	out = append(out, payments[:index]...)
	out = append(out, payments[index+1:]...)
	return out, nil
}
