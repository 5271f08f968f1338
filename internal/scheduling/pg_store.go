package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const slotColumns = `id, doctor_id, doctor_name, specialty_name, date, start_time, end_time, status, patient_id, hold_expires_at, created_at, updated_at`

const appointmentColumns = `id, patient_id, patient_name, doctor_id, doctor_name, specialty_name, date, start_time, end_time,
	slot_id, status, reason, COALESCE(payment_id, ''), COALESCE(price_cents, 0), COALESCE(payment_method, ''), payment_date,
	rescheduled_from, diagnosis, notes, prescription, document_url, completed_at, created_at, updated_at`

// PgStore implements Store on Postgres. Transactional reads lock their rows
// and writes carry the expected current status, so a transaction only
// commits against the state it validated. Serialization and deadlock
// failures are retried up to maxRetries before surfacing ErrTxConflict.
type PgStore struct {
	pool       *pgxpool.Pool
	maxRetries int
}

func NewPgStore(pool *pgxpool.Pool, maxRetries int) *PgStore {
	if maxRetries < 1 {
		maxRetries = 3
	}
	return &PgStore{pool: pool, maxRetries: maxRetries}
}

// Helpers

func scanSlot(row pgx.Row) (*AvailabilitySlot, error) {
	var s AvailabilitySlot
	var patientID *uuid.UUID
	var holdExpires *time.Time

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.DoctorName,
		&s.SpecialtyName,
		&s.Date,
		&s.StartTime,
		&s.EndTime,
		&s.Status,
		&patientID,
		&holdExpires,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.PatientID = patientID
	s.HoldExpiresAt = holdExpires
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var paymentDate, completedAt *time.Time
	var rescheduledFrom *uuid.UUID
	var diagnosis, notes, documentURL *string
	var prescription []byte

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.PatientName,
		&a.DoctorID,
		&a.DoctorName,
		&a.SpecialtyName,
		&a.Date,
		&a.StartTime,
		&a.EndTime,
		&a.SlotID,
		&a.Status,
		&a.Reason,
		&a.PaymentID,
		&a.PriceCents,
		&a.PaymentMethod,
		&paymentDate,
		&rescheduledFrom,
		&diagnosis,
		&notes,
		&prescription,
		&documentURL,
		&completedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.PaymentDate = paymentDate
	a.RescheduledFrom = rescheduledFrom

	if completedAt != nil {
		rec := &ClinicalRecord{CompletedAt: *completedAt}
		if diagnosis != nil {
			rec.Diagnosis = *diagnosis
		}
		if notes != nil {
			rec.Notes = *notes
		}
		if documentURL != nil {
			rec.DocumentURL = *documentURL
		}
		if len(prescription) > 0 {
			if err := json.Unmarshal(prescription, &rec.Prescription); err != nil {
				return nil, fmt.Errorf("decode prescription: %w", err)
			}
		}
		a.Clinical = rec
	}

	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func collectSlots(rows pgx.Rows) ([]AvailabilitySlot, error) {
	defer rows.Close()

	var result []AvailabilitySlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Plain reads and writes

func (s *PgStore) GetSlot(ctx context.Context, id uuid.UUID) (*AvailabilitySlot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (s *PgStore) ListSlotsByDoctor(ctx context.Context, doctorID uuid.UUID, onlyAvailable bool) ([]AvailabilitySlot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM availability_slots
		WHERE doctor_id = $1
	`
	if onlyAvailable {
		query += ` AND status = 'available'`
	}
	query += ` ORDER BY date ASC, start_time ASC`

	rows, err := s.pool.Query(ctx, query, doctorID)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

func (s *PgStore) CreateSlot(ctx context.Context, slot *AvailabilitySlot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO availability_slots (id, doctor_id, doctor_name, specialty_name, date, start_time, end_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, slot.ID, slot.DoctorID, slot.DoctorName, slot.SpecialtyName, slot.Date, slot.StartTime, slot.EndTime, slot.Status, slot.CreatedAt, slot.UpdatedAt)
	return err
}

func (s *PgStore) ListExpiredHolds(ctx context.Context, now time.Time) ([]AvailabilitySlot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE status = 'pending'
		  AND hold_expires_at IS NOT NULL
		  AND hold_expires_at < $1
	`, now)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

func (s *PgStore) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (s *PgStore) GetAppointmentByPaymentID(ctx context.Context, paymentID string) (*Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE payment_id = $1
		ORDER BY created_at ASC
		LIMIT 1
	`, paymentID)
	return scanAppointment(row)
}

func (s *PgStore) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, status *AppointmentStatus) ([]Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE patient_id = $1
	`
	args := []any{patientID}
	if status != nil {
		query += ` AND status = $2`
		args = append(args, *status)
	}
	query += ` ORDER BY date ASC, start_time ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (s *PgStore) ListAppointmentsByPatientStatuses(ctx context.Context, patientID uuid.UUID, statuses []AppointmentStatus) ([]Appointment, error) {
	list := make([]string, len(statuses))
	for i, st := range statuses {
		list[i] = string(st)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		  AND status = ANY($2)
		ORDER BY date DESC, start_time DESC
	`, patientID, list)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (s *PgStore) ListReservedByDoctor(ctx context.Context, doctorID uuid.UUID, date string) ([]Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE doctor_id = $1
		  AND status = 'reserved'
	`
	args := []any{doctorID}
	if date != "" {
		query += ` AND date = $2`
		args = append(args, date)
	}
	query += ` ORDER BY date ASC, start_time ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (s *PgStore) SearchAppointments(ctx context.Context, f SearchFilter) ([]Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE 1=1
	`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.FromDate != "" {
		query += ` AND date >= ` + arg(f.FromDate)
	}
	if f.ToDate != "" {
		query += ` AND date <= ` + arg(f.ToDate)
	}
	if f.PatientPrefix != "" {
		query += ` AND patient_name ILIKE ` + arg(f.PatientPrefix+"%")
	}
	if f.DoctorPrefix != "" {
		query += ` AND doctor_name ILIKE ` + arg(f.DoctorPrefix+"%")
	}
	query += ` ORDER BY date DESC, start_time DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (s *PgStore) ListPaidAppointments(ctx context.Context) ([]Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE payment_id IS NOT NULL AND payment_id <> ''
		ORDER BY payment_date DESC NULLS LAST
	`)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (s *PgStore) CountAppointmentsByStatus(ctx context.Context) (map[AppointmentStatus]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, count(*)
		FROM appointments
		GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[AppointmentStatus]int)
	for rows.Next() {
		var status AppointmentStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

// Transactions

func (s *PgStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !retryableTxError(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", ErrTxConflict, lastErr)
}

func (s *PgStore) runTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// retryableTxError matches serialization failures and deadlocks, the two
// abort classes Postgres asks clients to retry from scratch.
func retryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetSlot(ctx context.Context, id uuid.UUID) (*AvailabilitySlot, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanSlot(row)
}

func (t *pgTx) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (t *pgTx) GetAppointmentByPaymentID(ctx context.Context, paymentID string) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE payment_id = $1
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE
	`, paymentID)
	return scanAppointment(row)
}

func (t *pgTx) UpdateSlotStatus(ctx context.Context, id uuid.UUID, from, to SlotStatus, patientID *uuid.UUID, holdExpiresAt *time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE availability_slots
		SET status = $3,
		    patient_id = $4,
		    hold_expires_at = $5,
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
	`, id, from, to, patientID, holdExpiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotUnavailable
	}
	return nil
}

func (t *pgTx) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `
		DELETE FROM availability_slots
		WHERE id = $1
		  AND status = 'available'
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotUnavailable
	}
	return nil
}

func (t *pgTx) CreateAppointment(ctx context.Context, appt *Appointment) error {
	var paymentID *string
	if appt.PaymentID != "" {
		paymentID = &appt.PaymentID
	}
	var method *string
	if appt.PaymentMethod != "" {
		method = &appt.PaymentMethod
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments
			(id, patient_id, patient_name, doctor_id, doctor_name, specialty_name, date, start_time, end_time,
			 slot_id, status, reason, payment_id, price_cents, payment_method, payment_date, rescheduled_from,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`, appt.ID, appt.PatientID, appt.PatientName, appt.DoctorID, appt.DoctorName, appt.SpecialtyName,
		appt.Date, appt.StartTime, appt.EndTime, appt.SlotID, appt.Status, appt.Reason,
		paymentID, appt.PriceCents, method, appt.PaymentDate, appt.RescheduledFrom,
		appt.CreatedAt, appt.UpdatedAt)
	return err
}

func (t *pgTx) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET status = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
	`, id, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (t *pgTx) SetClinicalRecord(ctx context.Context, id uuid.UUID, rec *ClinicalRecord) error {
	prescription, err := json.Marshal(rec.Prescription)
	if err != nil {
		return fmt.Errorf("encode prescription: %w", err)
	}

	_, err = t.tx.Exec(ctx, `
		UPDATE appointments
		SET diagnosis = $2,
		    notes = $3,
		    prescription = $4,
		    document_url = $5,
		    completed_at = $6,
		    updated_at = now()
		WHERE id = $1
	`, id, rec.Diagnosis, rec.Notes, prescription, rec.DocumentURL, rec.CompletedAt)
	return err
}

func (t *pgTx) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, slot_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ev.EventType, ev.AppointmentID, ev.SlotID, ev.Payload, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}
