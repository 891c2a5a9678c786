package patient

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinicdesk/internal/domain/catalog"
	"github.com/clinicdesk/clinicdesk/internal/domain/ledger"
)

// -- Mock patient repo --

type mockPatientRepo struct {
	mu       sync.Mutex
	patients map[uuid.UUID]*Patient
	// appts is consulted for the tomorrow view.
	appts *mockAppointmentRepo
}

func newMockPatientRepo(appts *mockAppointmentRepo) *mockPatientRepo {
	return &mockPatientRepo{patients: make(map[uuid.UUID]*Patient), appts: appts}
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *mockPatientRepo) get(id uuid.UUID, includeDeleted bool) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok || (p.IsDeleted && !includeDeleted) {
		return nil, ErrNotFound
	}
	cp := *p
	cp.HasPhoto = cp.PhotoKey != nil
	return &cp, nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	return m.get(id, false)
}

func (m *mockPatientRepo) GetByIDIncludingDeleted(_ context.Context, id uuid.UUID) (*Patient, error) {
	return m.get(id, true)
}

func (m *mockPatientRepo) LockForUpdate(_ context.Context, id uuid.UUID) (*Patient, error) {
	return m.get(id, false)
}

func (m *mockPatientRepo) Update(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.patients[p.ID]
	if !ok || existing.IsDeleted {
		return ErrNotFound
	}
	cp := *p
	cp.Status = existing.Status
	cp.UpdatedAt = time.Now()
	m.patients[p.ID] = &cp
	return nil
}

func (m *mockPatientRepo) mutate(id uuid.UUID, fn func(p *Patient)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok || p.IsDeleted {
		return ErrNotFound
	}
	fn(p)
	return nil
}

func (m *mockPatientRepo) SetStatus(_ context.Context, id uuid.UUID, status ledger.Status) error {
	return m.mutate(id, func(p *Patient) { p.Status = status })
}

func (m *mockPatientRepo) SetPhotoKey(_ context.Context, id uuid.UUID, key *string) error {
	return m.mutate(id, func(p *Patient) { p.PhotoKey = key })
}

func (m *mockPatientRepo) SoftDelete(_ context.Context, id uuid.UUID, at time.Time) error {
	return m.mutate(id, func(p *Patient) {
		p.IsDeleted = true
		p.DeletedAt = &at
	})
}

func (m *mockPatientRepo) Restore(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok || !p.IsDeleted {
		return ErrNotFound
	}
	p.IsDeleted = false
	p.DeletedAt = nil
	return nil
}

func (m *mockPatientRepo) filter(f ListFilter, keep func(*Patient) bool) ([]*Patient, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Patient
	search := strings.ToLower(f.Search)
	for _, p := range m.patients {
		if p.IsDeleted {
			continue
		}
		if f.Status != nil && p.Status != *f.Status {
			continue
		}
		if search != "" {
			phone := ""
			if p.PhoneNumber != nil {
				phone = *p.PhoneNumber
			}
			if !strings.Contains(strings.ToLower(p.FullName), search) && !strings.Contains(phone, search) {
				continue
			}
		}
		if keep != nil && !keep(p) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		switch f.Ordering {
		case "full_name":
			return out[i].FullName < out[j].FullName
		case "-full_name":
			return out[i].FullName > out[j].FullName
		case "created_at":
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		default:
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
	})
	total := len(out)
	if f.Offset >= total {
		return nil, total
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	return out[f.Offset:end], total
}

func (m *mockPatientRepo) List(_ context.Context, f ListFilter) ([]*Patient, int, error) {
	items, total := m.filter(f, nil)
	return items, total, nil
}

func (m *mockPatientRepo) ListWithAppointmentBetween(_ context.Context, from, to time.Time, f ListFilter) ([]*Patient, int, error) {
	items, total := m.filter(f, func(p *Patient) bool {
		return m.appts.hasBetween(p.ID, from, to)
	})
	return items, total, nil
}

func (m *mockPatientRepo) CountByStatus(_ context.Context) (map[ledger.Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[ledger.Status]int)
	for _, p := range m.patients {
		if !p.IsDeleted {
			out[p.Status]++
		}
	}
	return out, nil
}

// -- Mock appointment repo --

type mockAppointmentRepo struct {
	mu    sync.Mutex
	appts map[uuid.UUID]*Appointment
}

func newMockAppointmentRepo() *mockAppointmentRepo {
	return &mockAppointmentRepo{appts: make(map[uuid.UUID]*Appointment)}
}

func (m *mockAppointmentRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *mockAppointmentRepo) DeleteForPatient(_ context.Context, patientID uuid.UUID, ids []uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range ids {
		a, ok := m.appts[id]
		if ok && a.PatientID != nil && *a.PatientID == patientID {
			delete(m.appts, id)
			n++
		}
	}
	return n, nil
}

func (m *mockAppointmentRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.appts {
		if a.PatientID != nil && *a.PatientID == patientID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppointmentTime.Before(out[j].AppointmentTime) })
	return out, nil
}

func (m *mockAppointmentRepo) hasBetween(patientID uuid.UUID, from, to time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appts {
		if a.PatientID == nil || *a.PatientID != patientID {
			continue
		}
		if !a.AppointmentTime.Before(from) && a.AppointmentTime.Before(to) {
			return true
		}
	}
	return false
}

// -- Mock payment repo --

type mockPaymentRepo struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*Payment
}

func newMockPaymentRepo() *mockPaymentRepo {
	return &mockPaymentRepo{payments: make(map[uuid.UUID]*Payment)}
}

func (m *mockPaymentRepo) Create(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = uuid.New()
	if p.PaymentDate.IsZero() {
		p.PaymentDate = time.Now().UTC()
	}
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *mockPaymentRepo) GetByID(_ context.Context, id uuid.UUID) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockPaymentRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[id]; !ok {
		return ErrPaymentNotFound
	}
	delete(m.payments, id)
	return nil
}

func (m *mockPaymentRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Payment
	for _, p := range m.payments {
		if p.PatientID != nil && *p.PatientID == patientID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaymentDate.Before(out[j].PaymentDate) })
	return out, nil
}

func (m *mockPaymentRepo) SumByPatient(ctx context.Context, patientID uuid.UUID) (decimal.Decimal, error) {
	list, _ := m.ListByPatient(ctx, patientID)
	sum := decimal.Zero
	for _, p := range list {
		sum = sum.Add(p.Amount)
	}
	return sum, nil
}

// -- Support --

// fakeTx runs fn inline; the mocks have no transactional state.
// fakeTx runs fn directly. commitErr, when set, is returned after a
// successful fn to simulate a failed COMMIT.
type fakeTx struct {
	calls     int
	commitErr error
}

func (f *fakeTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	if err := fn(ctx); err != nil {
		return err
	}
	return f.commitErr
}

type stubRefs map[uuid.UUID]catalog.Kind

func (s stubRefs) Exists(_ context.Context, kind catalog.Kind, id uuid.UUID) (bool, error) {
	k, ok := s[id]
	return ok && k == kind, nil
}

type statusChange struct{ from, to string }

type recordingRecorder struct {
	mu       sync.Mutex
	payments []decimal.Decimal
	deleted  int
	changes  []statusChange
}

func (r *recordingRecorder) PaymentRecorded(amount decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payments = append(r.payments, amount)
}

func (r *recordingRecorder) PaymentDeleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted++
}

func (r *recordingRecorder) StatusChanged(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, statusChange{from, to})
}

type testEnv struct {
	svc      *Service
	patients *mockPatientRepo
	appts    *mockAppointmentRepo
	payments *mockPaymentRepo
	tx       *fakeTx
	rec      *recordingRecorder
}

func newTestEnv() *testEnv {
	appts := newMockAppointmentRepo()
	env := &testEnv{
		patients: newMockPatientRepo(appts),
		appts:    appts,
		payments: newMockPaymentRepo(),
		tx:       &fakeTx{},
		rec:      &recordingRecorder{},
	}
	env.svc = NewService(env.patients, env.appts, env.payments, env.tx)
	env.svc.SetRecorder(env.rec)
	return env
}

func newTestService() *Service {
	return newTestEnv().svc
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func strPtr(s string) *string { return &s }
