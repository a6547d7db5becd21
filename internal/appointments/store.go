package appointments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

var (
	// ErrNotFound means no appointment has the requested id
	ErrNotFound = errors.New("appointment not found")
	// ErrInvalid wraps field validation failures
	ErrInvalid = errors.New("invalid appointment")
)

// Appointment is one scheduled patient visit
type Appointment struct {
	ID      int64   `json:"id"`
	Date    string  `json:"date"` // YYYY-MM-DD
	Time    string  `json:"time"` // HH:MM
	Patient string  `json:"patient"`
	Notes   *string `json:"notes"`
}

// Validate checks the date and time formats and that a patient is named
func (a *Appointment) Validate() error {
	if _, err := time.Parse(DateLayout, a.Date); err != nil {
		return fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalid)
	}
	if _, err := time.Parse(TimeLayout, a.Time); err != nil {
		return fmt.Errorf("%w: time must be HH:MM", ErrInvalid)
	}
	if strings.TrimSpace(a.Patient) == "" {
		return fmt.Errorf("%w: patient is required", ErrInvalid)
	}
	return nil
}

// Store keeps appointments in SQLite
type Store struct {
	db     *sql.DB
	logger *log.Entry
}

// Open opens or creates the database at path and runs migrations
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for concurrent readers
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:     db,
		logger: log.WithFields(log.Fields{"component": "appointments", "db": path}),
	}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema if missing
func (s *Store) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS appointments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			date TEXT NOT NULL,
			time TEXT NOT NULL,
			patient TEXT NOT NULL,
			notes TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_date_time ON appointments(date, time)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	s.logger.Debug("Database migrations completed")
	return nil
}

func notes(s string) *string { return &s }

// SampleAppointments are the rows inserted by Seed
var SampleAppointments = []Appointment{
	{Date: "2026-01-05", Time: "09:00", Patient: "Hans Werner", Notes: notes("Check-up")},
	{Date: "2026-01-06", Time: "08:00", Patient: "Peter Müller", Notes: notes("Follow-up")},
	{Date: "2026-01-07", Time: "11:00", Patient: "Christian Schmitt", Notes: notes("Consultation")},
	{Date: "2026-01-08", Time: "13:00", Patient: "Hans Peter", Notes: notes("Consultation")},
	{Date: "2026-01-08", Time: "14:00", Patient: "Tom Wendt", Notes: notes("Follow-up")},
	{Date: "2026-01-09", Time: "13:00", Patient: "Peter Schneider", Notes: notes("Consultation")},
}

// Seed inserts the sample appointments into an empty table.
// Returns the number of rows inserted.
func (s *Store) Seed(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM appointments").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count appointments: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin seed: %w", err)
	}
	defer tx.Rollback()

	for _, a := range SampleAppointments {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO appointments (date, time, patient, notes) VALUES (?, ?, ?, ?)",
			a.Date, a.Time, a.Patient, a.Notes); err != nil {
			return 0, fmt.Errorf("failed to seed appointment: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit seed: %w", err)
	}

	s.logger.WithField("rows", len(SampleAppointments)).Info("Seeded sample appointments")
	return len(SampleAppointments), nil
}

// Between returns appointments with start <= date <= end, ordered by date and time
func (s *Store) Between(ctx context.Context, start, end string) ([]Appointment, error) {
	return s.list(ctx, `SELECT id, date, time, patient, notes FROM appointments
		WHERE date BETWEEN ? AND ? ORDER BY date, time`, start, end)
}

// All returns every appointment ordered by date and time
func (s *Store) All(ctx context.Context) ([]Appointment, error) {
	return s.list(ctx, `SELECT id, date, time, patient, notes FROM appointments ORDER BY date, time`)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]Appointment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	defer rows.Close()

	appointments := []Appointment{}
	for rows.Next() {
		var a Appointment
		var n sql.NullString
		if err := rows.Scan(&a.ID, &a.Date, &a.Time, &a.Patient, &n); err != nil {
			return nil, fmt.Errorf("failed to scan appointment: %w", err)
		}
		if n.Valid {
			a.Notes = &n.String
		}
		appointments = append(appointments, a)
	}
	return appointments, rows.Err()
}

// Create inserts a and returns its id
func (s *Store) Create(ctx context.Context, a Appointment) (int64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO appointments (date, time, patient, notes) VALUES (?, ?, ?, ?)",
		a.Date, a.Time, a.Patient, a.Notes)
	if err != nil {
		return 0, fmt.Errorf("failed to create appointment: %w", err)
	}
	return result.LastInsertId()
}

// Update replaces every field of appointment id
func (s *Store) Update(ctx context.Context, id int64, a Appointment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		"UPDATE appointments SET date = ?, time = ?, patient = ?, notes = ? WHERE id = ?",
		a.Date, a.Time, a.Patient, a.Notes, id)
	if err != nil {
		return fmt.Errorf("failed to update appointment: %w", err)
	}
	return expectOne(result, id)
}

// Delete removes appointment id
func (s *Store) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM appointments WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete appointment: %w", err)
	}
	return expectOne(result, id)
}

func expectOne(result sql.Result, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}
