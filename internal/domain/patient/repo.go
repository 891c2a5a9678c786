package patient

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinicdesk/internal/domain/ledger"
)

// PatientRepository reads and writes patient rows. Every lookup except
// GetByIDIncludingDeleted ignores soft-deleted patients.
type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByIDIncludingDeleted(ctx context.Context, id uuid.UUID) (*Patient, error)
	// LockForUpdate loads an active patient and holds a row lock until the
	// surrounding transaction ends.
	LockForUpdate(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	SetStatus(ctx context.Context, id uuid.UUID, status ledger.Status) error
	SetPhotoKey(ctx context.Context, id uuid.UUID, key *string) error
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
	Restore(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ListFilter) ([]*Patient, int, error)
	ListWithAppointmentBetween(ctx context.Context, from, to time.Time, f ListFilter) ([]*Patient, int, error)
	CountByStatus(ctx context.Context) (map[ledger.Status]int, error)
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	// DeleteForPatient removes the given appointments of one patient and
	// returns how many were removed. Ids of other patients are ignored.
	DeleteForPatient(ctx context.Context, patientID uuid.UUID, ids []uuid.UUID) (int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Payment, error)
	SumByPatient(ctx context.Context, patientID uuid.UUID) (decimal.Decimal, error)
}
