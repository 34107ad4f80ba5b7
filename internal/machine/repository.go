package machine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for machine persistence.
// It is the authoritative store; the Engine treats every read from it as truth.
type Repository interface {
	// GetByID retrieves a machine by its unique identifier.
	// Returns ErrMachineNotFound if the machine does not exist.
	GetByID(ctx context.Context, id string) (*Machine, error)

	// List retrieves all machines in listing order.
	List(ctx context.Context) ([]Machine, error)

	// ListByLocation retrieves all machines at a location in listing order
	// (creation time, then insertion order). Allocation picks the first
	// AVAILABLE machine in this order.
	ListByLocation(ctx context.Context, locationID string) ([]Machine, error)

	// Create inserts a new machine.
	// Returns ErrMachineExists if a machine with the same ID already exists.
	Create(ctx context.Context, m *Machine) error

	// UpdateStatus sets the status unconditionally.
	// Returns ErrMachineNotFound if the machine does not exist.
	UpdateStatus(ctx context.Context, id string, status Status) error

	// UpdateJobID sets or clears (nil) the job ID unconditionally.
	// Returns ErrMachineNotFound if the machine does not exist.
	UpdateJobID(ctx context.Context, id string, jobID *string) error

	// CompareAndSwap applies t only if the stored status still equals t.From.
	// Returns ErrMachineNotFound if the machine does not exist and
	// ErrStatusConflict if the status has moved on.
	CompareAndSwap(ctx context.Context, id string, t Transition) error
}

// Transition is a conditional status change.
type Transition struct {
	From Status
	To   Status

	// SetJobID makes the swap also write JobID (nil clears it).
	// When false the stored job ID is left untouched.
	SetJobID bool
	JobID    *string
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const selectColumns = `SELECT id, location_id, status, job_id, created_at, updated_at FROM machines`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a machine by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Machine, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	m, err := scanMachine(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMachineNotFound
		}
		return nil, fmt.Errorf("querying machine by id: %w", err)
	}
	return m, nil
}

// List retrieves all machines.
func (r *SQLiteRepository) List(ctx context.Context) ([]Machine, error) {
	return r.queryMachines(ctx, selectColumns+` ORDER BY created_at, rowid`)
}

// ListByLocation retrieves all machines at a location.
func (r *SQLiteRepository) ListByLocation(ctx context.Context, locationID string) ([]Machine, error) {
	return r.queryMachines(ctx, selectColumns+` WHERE location_id = ? ORDER BY created_at, rowid`, locationID)
}

// Create inserts a new machine. Zero timestamps are set to now.
func (r *SQLiteRepository) Create(ctx context.Context, m *Machine) error {
	if err := m.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO machines (id, location_id, status, job_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID,
		m.LocationID,
		string(m.Status),
		nullableString(m.JobID),
		m.CreatedAt.UTC().Format(timeLayout),
		m.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrMachineExists
		}
		return fmt.Errorf("inserting machine: %w", err)
	}
	return nil
}

// UpdateStatus sets the status unconditionally.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id string, status Status) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return r.execOne(ctx, "updating machine status",
		`UPDATE machines SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), now(), id,
	)
}

// UpdateJobID sets or clears the job ID unconditionally.
func (r *SQLiteRepository) UpdateJobID(ctx context.Context, id string, jobID *string) error {
	return r.execOne(ctx, "updating machine job id",
		`UPDATE machines SET job_id = ?, updated_at = ? WHERE id = ?`,
		nullableString(jobID), now(), id,
	)
}

// CompareAndSwap applies t in a single conditional UPDATE. RowsAffected
// tells a lost race apart from success; a follow-up existence check tells
// it apart from a missing machine.
func (r *SQLiteRepository) CompareAndSwap(ctx context.Context, id string, t Transition) error {
	if !t.From.IsValid() || !t.To.IsValid() {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidStatus, t.From, t.To)
	}

	var result sql.Result
	var err error
	if t.SetJobID {
		result, err = r.db.ExecContext(ctx,
			`UPDATE machines SET status = ?, job_id = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(t.To), nullableString(t.JobID), now(), id, string(t.From),
		)
	} else {
		result, err = r.db.ExecContext(ctx,
			`UPDATE machines SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(t.To), now(), id, string(t.From),
		)
	}
	if err != nil {
		return fmt.Errorf("swapping machine status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 1 {
		return nil
	}

	exists, err := r.exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return ErrMachineNotFound
	}
	return ErrStatusConflict
}

func (r *SQLiteRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrMachineNotFound
	}
	return nil
}

func (r *SQLiteRepository) queryMachines(ctx context.Context, query string, args ...any) ([]Machine, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying machines: %w", err)
	}
	defer rows.Close()

	var machines []Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning machine: %w", err)
		}
		machines = append(machines, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating machines: %w", err)
	}
	return machines, nil
}

func (r *SQLiteRepository) exists(ctx context.Context, id string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM machines WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking machine exists: %w", err)
	}
	return count > 0, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMachine(scanner rowScanner) (*Machine, error) {
	var m Machine
	var status, createdAt, updatedAt string
	var jobID sql.NullString

	if err := scanner.Scan(&m.ID, &m.LocationID, &status, &jobID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	m.Status = Status(status)
	if jobID.Valid {
		job := jobID.String
		m.JobID = &job
	}

	var err error
	if m.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if m.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &m, nil
}

func now() string {
	return time.Now().UTC().Format(timeLayout)
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
