package patient

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicdesk/internal/domain/ledger"
)

// Amounts are written with two fractional digits. The field-only types
// below carry no MarshalJSON, so embedding them does not recurse.
type (
	patientFields Patient
	paymentFields Payment
)

func (p Patient) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		patientFields
		TotalPaymentDue ledger.Money `json:"total_payment_due"`
	}{patientFields(p), ledger.Money(p.TotalPaymentDue)})
}

func (p Payment) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		paymentFields
		Amount ledger.Money `json:"amount"`
	}{paymentFields(p), ledger.Money(p.Amount)})
}

// Detail embeds *Patient and would otherwise inherit its MarshalJSON.
func (d Detail) MarshalJSON() ([]byte, error) {
	var pf patientFields
	if d.Patient != nil {
		pf = patientFields(*d.Patient)
	}
	return json.Marshal(struct {
		patientFields
		TotalPaymentDue ledger.Money   `json:"total_payment_due"`
		TotalPaid       ledger.Money   `json:"total_paid"`
		RemainingDebt   ledger.Money   `json:"remaining_debt"`
		Appointments    []*Appointment `json:"appointments"`
		Payments        []*Payment     `json:"payments"`
		IsSuperuser     bool           `json:"is_superuser"`
	}{
		patientFields:   pf,
		TotalPaymentDue: ledger.Money(pf.TotalPaymentDue),
		TotalPaid:       ledger.Money(d.TotalPaid),
		RemainingDebt:   ledger.Money(d.RemainingDebt),
		Appointments:    d.Appointments,
		Payments:        d.Payments,
		IsSuperuser:     d.IsSuperuser,
	})
}

// LedgerView embeds ledger.Summary and would otherwise inherit its MarshalJSON.
func (v LedgerView) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		PatientID uuid.UUID     `json:"patient_id"`
		Status    ledger.Status `json:"status"`
		ledger.FixedSummary
	}{v.PatientID, v.Status, v.Summary.Fixed()})
}
