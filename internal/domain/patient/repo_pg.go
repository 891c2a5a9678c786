package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinicdesk/internal/domain/ledger"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

// -- Patient --

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const patientCols = `p.id, p.full_name, p.phone_number,
	p.region_id, rg.name, p.disease_type_id, dt.name,
	p.address, p.photo_key, p.face_condition, p.medications_taken, p.home_care_items,
	p.status, p.total_payment_due, p.is_deleted, p.deleted_at, p.created_at, p.updated_at`

const patientFrom = ` FROM patient p
	LEFT JOIN region rg ON rg.id = p.region_id
	LEFT JOIN disease_type dt ON dt.id = p.disease_type_id`

func scanPatient(row pgx.Row) (*Patient, error) {
	var (
		p           Patient
		regionName  *string
		diseaseName *string
		status      string
	)
	err := row.Scan(&p.ID, &p.FullName, &p.PhoneNumber,
		&p.RegionID, &regionName, &p.DiseaseTypeID, &diseaseName,
		&p.Address, &p.PhotoKey, &p.FaceCondition, &p.MedicationsTaken, &p.HomeCareItems,
		&status, &p.TotalPaymentDue, &p.IsDeleted, &p.DeletedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.Status = ledger.Status(status)
	p.HasPhoto = p.PhotoKey != nil
	if p.RegionID != nil && regionName != nil {
		p.Region = &Ref{ID: *p.RegionID, Name: *regionName}
	}
	if p.DiseaseTypeID != nil && diseaseName != nil {
		p.DiseaseType = &Ref{ID: *p.DiseaseTypeID, Name: *diseaseName}
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, full_name, phone_number, region_id, disease_type_id,
			address, face_condition, medications_taken, home_care_items,
			status, total_payment_due)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		p.ID, p.FullName, p.PhoneNumber, p.RegionID, p.DiseaseTypeID,
		p.Address, p.FaceCondition, p.MedicationsTaken, p.HomeCareItems,
		string(p.Status), p.TotalPaymentDue,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+patientFrom+` WHERE p.id = $1 AND p.is_deleted = FALSE`, id))
}

func (r *patientRepoPG) GetByIDIncludingDeleted(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+patientFrom+` WHERE p.id = $1`, id))
}

func (r *patientRepoPG) LockForUpdate(ctx context.Context, id uuid.UUID) (*Patient, error) {
	if db.TxFromContext(ctx) == nil {
		return nil, errors.New("patient row lock requires a transaction")
	}
	return scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+patientFrom+` WHERE p.id = $1 AND p.is_deleted = FALSE FOR UPDATE OF p`, id))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient SET full_name=$2, phone_number=$3, region_id=$4, disease_type_id=$5,
			address=$6, face_condition=$7, medications_taken=$8, home_care_items=$9,
			total_payment_due=$10, updated_at=NOW()
		WHERE id = $1 AND is_deleted = FALSE
		RETURNING updated_at`,
		p.ID, p.FullName, p.PhoneNumber, p.RegionID, p.DiseaseTypeID,
		p.Address, p.FaceCondition, p.MedicationsTaken, p.HomeCareItems,
		p.TotalPaymentDue,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *patientRepoPG) exec(ctx context.Context, sql string, args ...interface{}) error {
	tag, err := r.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *patientRepoPG) SetStatus(ctx context.Context, id uuid.UUID, status ledger.Status) error {
	return r.exec(ctx, `UPDATE patient SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
}

func (r *patientRepoPG) SetPhotoKey(ctx context.Context, id uuid.UUID, key *string) error {
	return r.exec(ctx, `UPDATE patient SET photo_key = $2, updated_at = NOW() WHERE id = $1 AND is_deleted = FALSE`, id, key)
}

func (r *patientRepoPG) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.exec(ctx, `UPDATE patient SET is_deleted = TRUE, deleted_at = $2 WHERE id = $1 AND is_deleted = FALSE`, id, at)
}

func (r *patientRepoPG) Restore(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `UPDATE patient SET is_deleted = FALSE, deleted_at = NULL WHERE id = $1 AND is_deleted = TRUE`, id)
}

// listWhere builds the WHERE clause shared by list queries. Placeholders
// start at $1.
func listWhere(f ListFilter, extra ...string) (string, []interface{}) {
	conds := []string{"p.is_deleted = FALSE"}
	var args []interface{}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		conds = append(conds, fmt.Sprintf("p.status = $%d", len(args)))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		args = append(args, "%"+escapeLike(s)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(p.full_name ILIKE $%d OR p.phone_number ILIKE $%d)", n, n))
	}
	conds = append(conds, extra...)
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func orderClause(o string) string {
	if sql, ok := orderings[o]; ok {
		return " ORDER BY " + sql
	}
	return " ORDER BY " + orderings[defaultOrdering]
}

func (r *patientRepoPG) list(ctx context.Context, f ListFilter, where string, args []interface{}) ([]*Patient, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient p`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := `SELECT ` + patientCols + patientFrom + where + orderClause(f.Ordering) +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *patientRepoPG) List(ctx context.Context, f ListFilter) ([]*Patient, int, error) {
	where, args := listWhere(f)
	return r.list(ctx, f, where, args)
}

func (r *patientRepoPG) ListWithAppointmentBetween(ctx context.Context, from, to time.Time, f ListFilter) ([]*Patient, int, error) {
	where, args := listWhere(f)
	n := len(args)
	where += fmt.Sprintf(` AND EXISTS (SELECT 1 FROM appointment a
		WHERE a.patient_id = p.id AND a.appointment_time >= $%d AND a.appointment_time < $%d)`, n+1, n+2)
	return r.list(ctx, f, where, append(args, from, to))
}

func (r *patientRepoPG) CountByStatus(ctx context.Context) (map[ledger.Status]int, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT status, COUNT(*) FROM patient WHERE is_deleted = FALSE GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[ledger.Status]int, len(ledger.AllStatuses))
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[ledger.Status(status)] = n
	}
	return counts, rows.Err()
}

// -- Appointment --

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, patient_id, appointment_time)
		VALUES ($1, $2, $3) RETURNING created_at`,
		a.ID, a.PatientID, a.AppointmentTime).Scan(&a.CreatedAt)
}

func (r *appointmentRepoPG) DeleteForPatient(ctx context.Context, patientID uuid.UUID, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM appointment WHERE patient_id = $1 AND id = ANY($2)`, patientID, ids)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, appointment_time, created_at FROM appointment
		WHERE patient_id = $1 ORDER BY appointment_time`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.ID, &a.PatientID, &a.AppointmentTime, &a.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &a)
	}
	return items, rows.Err()
}

// -- Payment --

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository {
	return &paymentRepoPG{pool: pool}
}

func (r *paymentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const paymentCols = `id, patient_id, amount, payment_date, created_by`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	if err := row.Scan(&p.ID, &p.PatientID, &p.Amount, &p.PaymentDate, &p.CreatedBy); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	if p.PaymentDate.IsZero() {
		return r.conn(ctx).QueryRow(ctx, `
			INSERT INTO patient_payment (id, patient_id, amount, created_by)
			VALUES ($1, $2, $3, $4) RETURNING payment_date`,
			p.ID, p.PatientID, p.Amount, p.CreatedBy).Scan(&p.PaymentDate)
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_payment (id, patient_id, amount, payment_date, created_by)
		VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.PatientID, p.Amount, p.PaymentDate, p.CreatedBy)
	return err
}

func (r *paymentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return scanPayment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+paymentCols+` FROM patient_payment WHERE id = $1`, id))
}

func (r *paymentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient_payment WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *paymentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+paymentCols+` FROM patient_payment WHERE patient_id = $1 ORDER BY payment_date, id`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *paymentRepoPG) SumByPatient(ctx context.Context, patientID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM patient_payment WHERE patient_id = $1`, patientID).Scan(&total)
	return total, err
}
