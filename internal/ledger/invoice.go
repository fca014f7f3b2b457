package ledger

import (
	"fmt"
	"html/template"
	"strings"
	"time"
)

// Invoice carries everything the printable receipt shows. Number is the
// 1-based position of the payment in the ledger.
type Invoice struct {
	Number        int
	PatientName   string
	PaymentDate   string
	Method        string
	ServiceAmount string
	Amount        string
	Note          string
	Balance       string
}

var invoiceTmpl = template.Must(template.New("invoice").Parse(`<html>
  <head>
    <title>Factura / Recibo</title>
    <style>
      body { font-family: Arial, sans-serif; padding: 24px; color: #0b1d3a; }
      .card { border: 1px solid #dfe3ed; border-radius: 10px; padding: 18px; }
      .row { display: flex; justify-content: space-between; margin-bottom: 8px; }
      .title { font-size: 20px; font-weight: 700; margin-bottom: 12px; }
      .label { color: #5c647a; font-size: 12px; text-transform: uppercase; letter-spacing: 0.4px; }
      .value { font-size: 14px; font-weight: 600; }
      .highlight { font-size: 16px; font-weight: 700; color: #1f6bff; }
    </style>
  </head>
  <body>
    <div class="card">
      <div class="title">Factura / Recibo #{{.Number}}</div>
      <div class="row"><span class="label">Paciente</span><span class="value">{{.PatientName}}</span></div>
      <div class="row"><span class="label">Fecha pago</span><span class="value">{{.PaymentDate}}</span></div>
      <div class="row"><span class="label">Metodo</span><span class="value">{{.Method}}</span></div>
      <div class="row"><span class="label">Importe servicio</span><span class="value">{{.ServiceAmount}}</span></div>
      <div class="row"><span class="label">Importe</span><span class="highlight">{{.Amount}}</span></div>
      {{if .Note}}<div class="row"><span class="label">Nota</span><span class="value">{{.Note}}</span></div>{{end}}
      <hr />
      <div class="row"><span class="label">Saldo del paciente</span><span class="value">{{.Balance}}</span></div>
    </div>
  </body>
</html>
`))

// FormatMoney renders a money figure for display.
func FormatMoney(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

// FormatDate renders an ISO date string as dd/mm/yyyy. Unparseable input is
// returned as-is.
func FormatDate(iso string) string {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.000Z", "2006-01-02"} {
		if t, err := time.Parse(layout, iso); err == nil {
			return t.Format("02/01/2006")
		}
	}
	return iso
}

// BuildInvoice assembles the receipt model for the payment at index.
func BuildInvoice(patientName string, payments []PaymentRecord, index int, balance float64) (Invoice, error) {
	if index < 0 || index >= len(payments) {
		return Invoice{}, ErrPaymentNotFound
	}
	p := payments[index]
	if patientName == "" {
		patientName = "Paciente"
	}
	date := FormatDate(p.Date)
	if p.Date == "" {
		date = time.Now().Format("02/01/2006")
	}
	method := p.Method
	if method == "" {
		method = "-"
	}
	return Invoice{
		Number:        index + 1,
		PatientName:   patientName,
		PaymentDate:   date,
		Method:        method,
		ServiceAmount: FormatMoney(num(p.ServiceAmount)),
		Amount:        FormatMoney(num(p.Amount)),
		Note:          p.Note,
		Balance:       FormatMoney(balance),
	}, nil
}

// FormatInvoice renders the printable HTML receipt.
func FormatInvoice(inv Invoice) (string, error) {
	var b strings.Builder
	if err := invoiceTmpl.Execute(&b, inv); err != nil {
		return "", err
	}
	return b.String(), nil
}
