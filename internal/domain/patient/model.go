package patient

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinicdesk/internal/domain/ledger"
)

// Ref is an embedded lookup reference (region, disease type).
type Ref struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type Patient struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	FullName         string          `db:"full_name" json:"full_name"`
	PhoneNumber      *string         `db:"phone_number" json:"phone_number,omitempty"`
	RegionID         *uuid.UUID      `db:"region_id" json:"region_id,omitempty"`
	Region           *Ref            `json:"region,omitempty"`
	DiseaseTypeID    *uuid.UUID      `db:"disease_type_id" json:"disease_type_id,omitempty"`
	DiseaseType      *Ref            `json:"disease_type,omitempty"`
	Address          *string         `db:"address" json:"address,omitempty"`
	PhotoKey         *string         `db:"photo_key" json:"-"`
	HasPhoto         bool            `json:"has_photo"`
	FaceCondition    *string         `db:"face_condition" json:"face_condition,omitempty"`
	MedicationsTaken *string         `db:"medications_taken" json:"medications_taken,omitempty"`
	HomeCareItems    *string         `db:"home_care_items" json:"home_care_items,omitempty"`
	Status           ledger.Status   `db:"status" json:"status"`
	TotalPaymentDue  decimal.Decimal `db:"total_payment_due" json:"total_payment_due"`
	IsDeleted        bool            `db:"is_deleted" json:"is_deleted"`
	DeletedAt        *time.Time      `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

type Appointment struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	PatientID       *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	AppointmentTime time.Time  `db:"appointment_time" json:"appointment_time"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// Payment is immutable once recorded; it can only be deleted.
type Payment struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	PatientID   *uuid.UUID      `db:"patient_id" json:"patient_id,omitempty"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	PaymentDate time.Time       `db:"payment_date" json:"payment_date"`
	CreatedBy   *uuid.UUID      `db:"created_by" json:"created_by,omitempty"`
}

// Detail is the full patient card: record, schedule, payments and ledger.
type Detail struct {
	*Patient
	TotalPaid     decimal.Decimal `json:"total_paid"`
	RemainingDebt decimal.Decimal `json:"remaining_debt"`
	Appointments  []*Appointment  `json:"appointments"`
	Payments      []*Payment      `json:"payments"`
	IsSuperuser   bool            `json:"is_superuser"`
}

// LedgerView is the money state of one patient after a read or a write.
type LedgerView struct {
	PatientID uuid.UUID     `json:"patient_id"`
	Status    ledger.Status `json:"status"`
	ledger.Summary
}

// PaymentResult is returned when a payment is recorded.
type PaymentResult struct {
	Payment *Payment    `json:"payment"`
	Ledger  *LedgerView `json:"ledger"`
}

// NewPatient carries intake data. Status is not accepted: every new
// patient starts as a debtor.
type NewPatient struct {
	FullName         string
	PhoneNumber      *string
	RegionID         *uuid.UUID
	DiseaseTypeID    *uuid.UUID
	Address          *string
	FaceCondition    *string
	MedicationsTaken *string
	HomeCareItems    *string
	TotalPaymentDue  decimal.Decimal
	Appointments     []time.Time
}

// PatientUpdate is a partial update. Nil fields are left unchanged.
type PatientUpdate struct {
	FullName           *string
	PhoneNumber        *string
	RegionID           *uuid.UUID
	DiseaseTypeID      *uuid.UUID
	Address            *string
	FaceCondition      *string
	MedicationsTaken   *string
	HomeCareItems      *string
	TotalPaymentDue    *decimal.Decimal
	RemoveAppointments []uuid.UUID
	NewAppointments    []time.Time
}

// ListFilter selects active patients.
type ListFilter struct {
	Status   *ledger.Status
	Search   string
	Ordering string
	Limit    int
	Offset   int
}

// orderings maps accepted ordering values to SQL.
var orderings = map[string]string{
	"full_name":   "p.full_name ASC, p.id",
	"-full_name":  "p.full_name DESC, p.id",
	"created_at":  "p.created_at ASC, p.id",
	"-created_at": "p.created_at DESC, p.id",
}

const defaultOrdering = "-created_at"

// ValidOrdering reports whether o is an accepted ordering value.
func ValidOrdering(o string) bool {
	_, ok := orderings[o]
	return ok
}

type Statistics struct {
	TotalPatients int `json:"total_patients"`
	Debtor        int `json:"debtor"`
	Paid          int `json:"paid"`
	Treated       int `json:"treated"`
}
