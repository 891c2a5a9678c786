package patient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinicdesk/internal/domain/catalog"
	"github.com/clinicdesk/clinicdesk/internal/domain/ledger"
	"github.com/clinicdesk/clinicdesk/internal/platform/blobstore"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

// RefChecker confirms that region and disease type references exist.
type RefChecker interface {
	Exists(ctx context.Context, kind catalog.Kind, id uuid.UUID) (bool, error)
}

// Recorder receives ledger events for metrics.
type Recorder interface {
	PaymentRecorded(amount decimal.Decimal)
	PaymentDeleted()
	StatusChanged(from, to string)
}

type nopRecorder struct{}

func (nopRecorder) PaymentRecorded(decimal.Decimal) {}
func (nopRecorder) PaymentDeleted()                 {}
func (nopRecorder) StatusChanged(string, string)    {}

type Service struct {
	patients     PatientRepository
	appointments AppointmentRepository
	payments     PaymentRepository
	tx           db.Transactor

	refs     RefChecker
	photos   blobstore.Store
	recorder Recorder
	logger   zerolog.Logger
	loc      *time.Location
	now      func() time.Time
}

func NewService(patients PatientRepository, appointments AppointmentRepository, payments PaymentRepository, tx db.Transactor) *Service {
	return &Service{
		patients:     patients,
		appointments: appointments,
		payments:     payments,
		tx:           tx,
		recorder:     nopRecorder{},
		logger:       zerolog.Nop(),
		loc:          time.UTC,
		now:          time.Now,
	}
}

// SetRefChecker enables reference checks on region and disease type ids.
func (s *Service) SetRefChecker(refs RefChecker) { s.refs = refs }

// SetPhotoStore attaches the blob store used for patient photos.
func (s *Service) SetPhotoStore(store blobstore.Store) { s.photos = store }

func (s *Service) SetRecorder(r Recorder) {
	if r != nil {
		s.recorder = r
	}
}

func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l }

// SetLocation sets the clinic time zone used for day boundaries.
func (s *Service) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

// -- Validation --

const (
	maxFullNameLen = 255
	maxPhoneLen    = 20
	// NUMERIC(10,2)
	maxMoney = "99999999.99"
)

var moneyCeiling = decimal.RequireFromString(maxMoney)

func validateMoney(field string, d decimal.Decimal, positive bool) error {
	if positive && !d.IsPositive() {
		return invalid(field, "must be greater than zero")
	}
	if d.IsNegative() {
		return invalid(field, "must not be negative")
	}
	if !d.Equal(ledger.Round(d)) {
		return invalid(field, "must have at most %d decimal places", ledger.MoneyScale)
	}
	if d.GreaterThan(moneyCeiling) {
		return invalid(field, "must not exceed %s", maxMoney)
	}
	return nil
}

func validateFullName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalid("full_name", "is required")
	}
	if utf8.RuneCountInString(name) > maxFullNameLen {
		return "", invalid("full_name", "must be at most %d characters", maxFullNameLen)
	}
	return name, nil
}

func validatePhone(phone *string) error {
	if phone != nil && utf8.RuneCountInString(*phone) > maxPhoneLen {
		return invalid("phone_number", "must be at most %d characters", maxPhoneLen)
	}
	return nil
}

func (s *Service) checkRef(ctx context.Context, kind catalog.Kind, field string, id *uuid.UUID) error {
	if id == nil || s.refs == nil {
		return nil
	}
	ok, err := s.refs.Exists(ctx, kind, *id)
	if err != nil {
		return fmt.Errorf("check %s: %w", field, err)
	}
	if !ok {
		return invalid(field, "does not exist")
	}
	return nil
}

func validateAppointments(field string, times []time.Time) error {
	for _, t := range times {
		if t.IsZero() {
			return invalid(field, "appointment_time is required")
		}
	}
	return nil
}

// -- Patients --

// CreatePatient registers a new patient with optional initial appointments.
// The patient always starts as a debtor; the ledger is not consulted.
func (s *Service) CreatePatient(ctx context.Context, in NewPatient) (*Detail, error) {
	name, err := validateFullName(in.FullName)
	if err != nil {
		return nil, err
	}
	if err := validatePhone(in.PhoneNumber); err != nil {
		return nil, err
	}
	if err := validateMoney("total_payment_due", in.TotalPaymentDue, false); err != nil {
		return nil, err
	}
	if err := validateAppointments("appointments", in.Appointments); err != nil {
		return nil, err
	}
	if err := s.checkRef(ctx, catalog.KindRegion, "region_id", in.RegionID); err != nil {
		return nil, err
	}
	if err := s.checkRef(ctx, catalog.KindDiseaseType, "disease_type_id", in.DiseaseTypeID); err != nil {
		return nil, err
	}

	p := &Patient{
		FullName:         name,
		PhoneNumber:      in.PhoneNumber,
		RegionID:         in.RegionID,
		DiseaseTypeID:    in.DiseaseTypeID,
		Address:          in.Address,
		FaceCondition:    in.FaceCondition,
		MedicationsTaken: in.MedicationsTaken,
		HomeCareItems:    in.HomeCareItems,
		Status:           ledger.StatusDebtor,
		TotalPaymentDue:  ledger.Round(in.TotalPaymentDue),
	}

	var appts []*Appointment
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.patients.Create(ctx, p); err != nil {
			return fmt.Errorf("create patient: %w", err)
		}
		appts, err = s.addAppointments(ctx, p.ID, in.Appointments)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("patient_id", p.ID.String()).Int("appointments", len(appts)).Msg("patient created")
	return s.GetPatientDetail(ctx, p.ID)
}

func (s *Service) addAppointments(ctx context.Context, patientID uuid.UUID, times []time.Time) ([]*Appointment, error) {
	out := make([]*Appointment, 0, len(times))
	for _, t := range times {
		pid := patientID
		a := &Appointment{PatientID: &pid, AppointmentTime: t}
		if err := s.appointments.Create(ctx, a); err != nil {
			return nil, fmt.Errorf("create appointment: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}

// GetPatient returns an active patient.
func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

// GetPatientIncludingDeleted bypasses the active filter.
func (s *Service) GetPatientIncludingDeleted(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByIDIncludingDeleted(ctx, id)
}

// GetPatientDetail assembles the patient card.
func (s *Service) GetPatientDetail(ctx context.Context, id uuid.UUID) (*Detail, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	appts, err := s.appointments.ListByPatient(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	pays, err := s.payments.ListByPatient(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	if appts == nil {
		appts = []*Appointment{}
	}
	if pays == nil {
		pays = []*Payment{}
	}

	amounts := make([]decimal.Decimal, len(pays))
	for i, pay := range pays {
		amounts[i] = pay.Amount
	}
	sum := ledger.Summarize(p.TotalPaymentDue, amounts...)
	return &Detail{
		Patient:       p,
		TotalPaid:     sum.TotalPaid,
		RemainingDebt: sum.RemainingDebt,
		Appointments:  appts,
		Payments:      pays,
	}, nil
}

// UpdatePatient applies a partial update together with appointment
// removals and additions. Status cannot be changed here.
func (s *Service) UpdatePatient(ctx context.Context, id uuid.UUID, upd PatientUpdate) (*Detail, error) {
	if upd.FullName != nil {
		name, err := validateFullName(*upd.FullName)
		if err != nil {
			return nil, err
		}
		upd.FullName = &name
	}
	if err := validatePhone(upd.PhoneNumber); err != nil {
		return nil, err
	}
	if upd.TotalPaymentDue != nil {
		if err := validateMoney("total_payment_due", *upd.TotalPaymentDue, false); err != nil {
			return nil, err
		}
	}
	if err := validateAppointments("new_appointments", upd.NewAppointments); err != nil {
		return nil, err
	}
	if err := s.checkRef(ctx, catalog.KindRegion, "region_id", upd.RegionID); err != nil {
		return nil, err
	}
	if err := s.checkRef(ctx, catalog.KindDiseaseType, "disease_type_id", upd.DiseaseTypeID); err != nil {
		return nil, err
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.patients.LockForUpdate(ctx, id)
		if err != nil {
			return err
		}
		applyUpdate(p, upd)
		if err := s.patients.Update(ctx, p); err != nil {
			return fmt.Errorf("update patient: %w", err)
		}
		if _, err := s.appointments.DeleteForPatient(ctx, id, upd.RemoveAppointments); err != nil {
			return fmt.Errorf("remove appointments: %w", err)
		}
		_, err = s.addAppointments(ctx, id, upd.NewAppointments)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetPatientDetail(ctx, id)
}

func applyUpdate(p *Patient, upd PatientUpdate) {
	if upd.FullName != nil {
		p.FullName = *upd.FullName
	}
	if upd.PhoneNumber != nil {
		p.PhoneNumber = upd.PhoneNumber
	}
	if upd.RegionID != nil {
		p.RegionID = upd.RegionID
	}
	if upd.DiseaseTypeID != nil {
		p.DiseaseTypeID = upd.DiseaseTypeID
	}
	if upd.Address != nil {
		p.Address = upd.Address
	}
	if upd.FaceCondition != nil {
		p.FaceCondition = upd.FaceCondition
	}
	if upd.MedicationsTaken != nil {
		p.MedicationsTaken = upd.MedicationsTaken
	}
	if upd.HomeCareItems != nil {
		p.HomeCareItems = upd.HomeCareItems
	}
	if upd.TotalPaymentDue != nil {
		p.TotalPaymentDue = ledger.Round(*upd.TotalPaymentDue)
	}
}

// DeletePatient soft-deletes an active patient. Appointments and payments
// are kept.
func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	if err := s.patients.SoftDelete(ctx, id, s.now().UTC()); err != nil {
		return err
	}
	s.logger.Info().Str("patient_id", id.String()).Msg("patient soft-deleted")
	return nil
}

// RestorePatient clears the soft-delete flag. Restoring an active patient
// is a no-op.
func (s *Service) RestorePatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.patients.GetByIDIncludingDeleted(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsDeleted {
		return p, nil
	}
	if err := s.patients.Restore(ctx, id); err != nil {
		return nil, err
	}
	s.logger.Info().Str("patient_id", id.String()).Msg("patient restored")
	return s.patients.GetByID(ctx, id)
}

func normalizeFilter(f ListFilter) (ListFilter, error) {
	if f.Status != nil && !f.Status.Valid() {
		return f, invalid("status", "unknown status %q", *f.Status)
	}
	if f.Ordering == "" {
		f.Ordering = defaultOrdering
	}
	if !ValidOrdering(f.Ordering) {
		return f, invalid("ordering", "unsupported ordering %q", f.Ordering)
	}
	if f.Limit <= 0 {
		f.Limit = 10
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f, nil
}

func (s *Service) ListPatients(ctx context.Context, f ListFilter) ([]*Patient, int, error) {
	f, err := normalizeFilter(f)
	if err != nil {
		return nil, 0, err
	}
	return s.patients.List(ctx, f)
}

// TomorrowRange returns [start, end) of the next calendar day in the clinic
// time zone.
func (s *Service) TomorrowRange() (time.Time, time.Time) {
	now := s.now().In(s.loc)
	y, m, d := now.Date()
	start := time.Date(y, m, d+1, 0, 0, 0, 0, s.loc)
	end := time.Date(y, m, d+2, 0, 0, 0, 0, s.loc)
	return start, end
}

// ListTomorrow returns active patients with an appointment tomorrow.
func (s *Service) ListTomorrow(ctx context.Context, f ListFilter) ([]*Patient, int, error) {
	f, err := normalizeFilter(f)
	if err != nil {
		return nil, 0, err
	}
	from, to := s.TomorrowRange()
	return s.patients.ListWithAppointmentBetween(ctx, from, to, f)
}

func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	counts, err := s.patients.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count patients: %w", err)
	}
	st := &Statistics{
		Debtor:  counts[ledger.StatusDebtor],
		Paid:    counts[ledger.StatusPaid],
		Treated: counts[ledger.StatusTreated],
	}
	for _, n := range counts {
		st.TotalPatients += n
	}
	return st, nil
}

func (s *Service) ListAppointments(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error) {
	if _, err := s.patients.GetByID(ctx, patientID); err != nil {
		return nil, err
	}
	return s.appointments.ListByPatient(ctx, patientID)
}

// -- Ledger --

func (s *Service) ListPayments(ctx context.Context, patientID uuid.UUID) ([]*Payment, error) {
	if _, err := s.patients.GetByID(ctx, patientID); err != nil {
		return nil, err
	}
	return s.payments.ListByPatient(ctx, patientID)
}

// Ledger returns the current money state of an active patient.
func (s *Service) Ledger(ctx context.Context, patientID uuid.UUID) (*LedgerView, error) {
	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	paid, err := s.payments.SumByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("sum payments: %w", err)
	}
	return &LedgerView{
		PatientID: p.ID,
		Status:    p.Status,
		Summary:   ledger.Summarize(p.TotalPaymentDue, paid),
	}, nil
}

// transition is a status change made inside a transaction. It is reported
// only once the transaction has committed.
type transition struct {
	patientID uuid.UUID
	from, to  ledger.Status
}

func (s *Service) reportTransition(t *transition) {
	if t == nil {
		return
	}
	s.recorder.StatusChanged(t.from.String(), t.to.String())
	s.logger.Info().
		Str("patient_id", t.patientID.String()).
		Str("from", t.from.String()).
		Str("to", t.to.String()).
		Msg("patient status changed")
}

// recomputeLocked re-sums the payments of a locked patient and persists the
// derived status. Must run inside the transaction holding the lock.
func (s *Service) recomputeLocked(ctx context.Context, p *Patient) (*LedgerView, *transition, error) {
	paid, err := s.payments.SumByPatient(ctx, p.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("sum payments: %w", err)
	}
	sum := ledger.Summarize(p.TotalPaymentDue, paid)
	next := ledger.Recompute(p.Status, sum.RemainingDebt)
	var changed *transition
	if next != p.Status {
		if err := s.patients.SetStatus(ctx, p.ID, next); err != nil {
			return nil, nil, fmt.Errorf("set status: %w", err)
		}
		changed = &transition{patientID: p.ID, from: p.Status, to: next}
		p.Status = next
	}
	return &LedgerView{PatientID: p.ID, Status: next, Summary: sum}, changed, nil
}

// AddPayment records a payment and recomputes the patient's status in the
// same transaction. A nil date means now.
func (s *Service) AddPayment(ctx context.Context, patientID uuid.UUID, amount decimal.Decimal, date *time.Time, createdBy *uuid.UUID) (*PaymentResult, error) {
	if err := validateMoney("amount", amount, true); err != nil {
		return nil, err
	}

	var (
		result  PaymentResult
		changed *transition
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.patients.LockForUpdate(ctx, patientID)
		if err != nil {
			return err
		}
		pid := p.ID
		pay := &Payment{PatientID: &pid, Amount: ledger.Round(amount), CreatedBy: createdBy}
		if date != nil {
			pay.PaymentDate = date.UTC()
		}
		if err := s.payments.Create(ctx, pay); err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		view, t, err := s.recomputeLocked(ctx, p)
		if err != nil {
			return err
		}
		result = PaymentResult{Payment: pay, Ledger: view}
		changed = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recorder.PaymentRecorded(result.Payment.Amount)
	s.reportTransition(changed)
	return &result, nil
}

// DeletePayment removes a payment of the given patient and recomputes the
// status in the same transaction.
func (s *Service) DeletePayment(ctx context.Context, patientID, paymentID uuid.UUID) (*LedgerView, error) {
	var (
		view    *LedgerView
		changed *transition
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.patients.LockForUpdate(ctx, patientID)
		if err != nil {
			return err
		}
		pay, err := s.payments.GetByID(ctx, paymentID)
		if err != nil {
			return err
		}
		if pay.PatientID == nil || *pay.PatientID != p.ID {
			return ErrPaymentNotFound
		}
		if err := s.payments.Delete(ctx, paymentID); err != nil {
			return err
		}
		view, changed, err = s.recomputeLocked(ctx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.recorder.PaymentDeleted()
	s.reportTransition(changed)
	return view, nil
}

// Recompute re-derives the status from the ledger and returns it.
func (s *Service) Recompute(ctx context.Context, patientID uuid.UUID) (ledger.Status, error) {
	var (
		status  ledger.Status
		changed *transition
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.patients.LockForUpdate(ctx, patientID)
		if err != nil {
			return err
		}
		view, t, err := s.recomputeLocked(ctx, p)
		if err != nil {
			return err
		}
		status, changed = view.Status, t
		return nil
	})
	if err != nil {
		return "", err
	}
	s.reportTransition(changed)
	return status, nil
}

// MarkTreated moves a paid patient to treated. A rejected transition is
// reported in the Outcome, not as an error.
func (s *Service) MarkTreated(ctx context.Context, patientID uuid.UUID) (ledger.Outcome, error) {
	var (
		out     ledger.Outcome
		changed *transition
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.patients.LockForUpdate(ctx, patientID)
		if err != nil {
			return err
		}
		out = ledger.TreatOutcome(p.Status)
		if !out.Accepted {
			return nil
		}
		if err := s.patients.SetStatus(ctx, p.ID, out.Status); err != nil {
			return fmt.Errorf("set status: %w", err)
		}
		changed = &transition{patientID: p.ID, from: p.Status, to: out.Status}
		return nil
	})
	if err != nil {
		return ledger.Outcome{}, err
	}
	s.reportTransition(changed)
	return out, nil
}

// -- Photo --

var errNoPhotoStore = errors.New("photo storage is not configured")

// UploadPhoto normalizes the image to JPEG and stores it under a key derived
// from the patient id, replacing any previous photo.
func (s *Service) UploadPhoto(ctx context.Context, patientID uuid.UUID, r io.Reader) (*blobstore.Object, error) {
	if s.photos == nil {
		return nil, errNoPhotoStore
	}
	if _, err := s.patients.GetByID(ctx, patientID); err != nil {
		return nil, err
	}
	data, err := normalizePhoto(r)
	if err != nil {
		return nil, err
	}
	key := photoKey(patientID)
	obj, err := s.photos.Put(ctx, key, photoContentType, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("store photo: %w", err)
	}
	if err := s.patients.SetPhotoKey(ctx, patientID, &key); err != nil {
		return nil, err
	}
	return obj, nil
}

// Photo opens the stored photo. ErrNotFound covers both a missing patient
// and a patient without a photo.
func (s *Service) Photo(ctx context.Context, patientID uuid.UUID) (io.ReadCloser, *blobstore.Object, error) {
	if s.photos == nil {
		return nil, nil, errNoPhotoStore
	}
	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, nil, err
	}
	if p.PhotoKey == nil {
		return nil, nil, ErrNotFound
	}
	rc, obj, err := s.photos.Get(ctx, *p.PhotoKey)
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		return nil, nil, ErrNotFound
	}
	return rc, obj, err
}
