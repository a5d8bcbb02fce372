package controller

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines controller persistence operations.
// The scheduler and the admin API depend on this interface, so tests can
// substitute an in-memory fake.
type Repository interface {
	// FindAllWithoutPagination returns every controller matching filter,
	// ordered by sort. It is the scheduler's source of truth each cycle.
	FindAllWithoutPagination(ctx context.Context, filter Filter, sort Sort) ([]Controller, error)

	// GetByID returns ErrNotFound if the controller does not exist.
	GetByID(ctx context.Context, id int64) (*Controller, error)

	// ListBySite returns the members of a site.
	ListBySite(ctx context.Context, siteID string) ([]Controller, error)

	// Create inserts c and sets its ID and timestamps.
	Create(ctx context.Context, c *Controller) error

	// Update applies patch and returns the stored result.
	// Returns ErrNotFound if the controller does not exist.
	Update(ctx context.Context, id int64, patch Patch) (*Controller, error)

	// Delete returns ErrNotFound if the controller does not exist.
	Delete(ctx context.Context, id int64) error
}

// sortColumns whitelists the columns a listing may be ordered by.
var sortColumns = map[string]string{
	"":           "id",
	"id":         "id",
	"name":       "name",
	"code":       "code",
	"status":     "status",
	"site_id":    "site_id",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

const selectColumns = `
		SELECT id, name, code, host, port, status, site_id, config,
			status_changed_at, created_at, updated_at
		FROM device_controllers`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// FindAllWithoutPagination returns all controllers matching filter.
func (r *SQLiteRepository) FindAllWithoutPagination(ctx context.Context, filter Filter, sort Sort) ([]Controller, error) {
	column, ok := sortColumns[strings.ToLower(sort.Field)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSort, sort.Field)
	}

	var where []string
	var args []any
	if filter.SiteID != nil {
		where = append(where, "site_id = ?")
		args = append(args, *filter.SiteID)
	}
	if filter.Code != "" {
		where = append(where, "UPPER(code) = ?")
		args = append(args, strings.ToUpper(filter.Code))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	var b strings.Builder
	b.WriteString(selectColumns)
	if len(where) > 0 {
		b.WriteString("\n\t\tWHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	direction := "ASC"
	if sort.Desc {
		direction = "DESC"
	}
	fmt.Fprintf(&b, "\n\t\tORDER BY %s %s", column, direction)
	if column != "id" {
		b.WriteString(", id ASC")
	}

	return r.queryControllers(ctx, b.String(), args...)
}

// GetByID retrieves a controller by ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*Controller, error) {
	return getByID(ctx, r.db, id)
}

// rowQuerier is satisfied by *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getByID(ctx context.Context, q rowQuerier, id int64) (*Controller, error) {
	row := q.QueryRowContext(ctx, selectColumns+"\n\t\tWHERE id = ?", id)
	c, err := scanController(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying controller by id: %w", err)
	}
	return c, nil
}

// ListBySite retrieves all controllers assigned to a site.
func (r *SQLiteRepository) ListBySite(ctx context.Context, siteID string) ([]Controller, error) {
	return r.FindAllWithoutPagination(ctx, Filter{SiteID: &siteID}, Sort{Field: "id"})
}

// Create inserts a new controller.
func (r *SQLiteRepository) Create(ctx context.Context, c *Controller) error {
	if c.Status == "" {
		c.Status = StatusUnknown
	}
	if err := Validate(c); err != nil {
		return err
	}

	configJSON, err := json.Marshal(c.Config)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	query := `
		INSERT INTO device_controllers (
			name, code, host, port, status, site_id, config,
			status_changed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		c.Name,
		c.Code,
		c.Host,
		c.Port,
		string(c.Status),
		nullableString(c.SiteID),
		string(configJSON),
		nullableTime(c.StatusChangedAt),
		c.CreatedAt.Format(time.RFC3339),
		c.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting controller: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading inserted id: %w", err)
	}
	c.ID = id
	return nil
}

// Update applies a partial update. A status change also stamps
// status_changed_at. A status-only patch touches just the status columns;
// any other patch is read, validated and written in one transaction.
func (r *SQLiteRepository) Update(ctx context.Context, id int64, patch Patch) (*Controller, error) {
	if patch.StatusOnly() {
		return r.updateStatus(ctx, id, *patch.Status)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	current, err := getByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return current, nil
	}

	previousStatus := current.Status
	patch.Apply(current)
	if err := Validate(current); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	current.UpdatedAt = now
	if current.Status != previousStatus {
		current.StatusChangedAt = &now
	}

	configJSON, err := json.Marshal(current.Config)
	if err != nil {
		return nil, fmt.Errorf("marshalling config: %w", err)
	}

	query := `
		UPDATE device_controllers SET
			name = ?, code = ?, host = ?, port = ?, status = ?, site_id = ?,
			config = ?, status_changed_at = ?, updated_at = ?
		WHERE id = ?`

	if _, err := tx.ExecContext(ctx, query,
		current.Name,
		current.Code,
		current.Host,
		current.Port,
		string(current.Status),
		nullableString(current.SiteID),
		string(configJSON),
		nullableTime(current.StatusChangedAt),
		current.UpdatedAt.Format(time.RFC3339),
		id,
	); err != nil {
		return nil, fmt.Errorf("updating controller: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing controller update: %w", err)
	}
	return current, nil
}

// updateStatus writes the status columns only, leaving fields edited
// concurrently through the API untouched. Stored rows are not revalidated.
func (r *SQLiteRepository) updateStatus(ctx context.Context, id int64, status Status) (*Controller, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx, `
		UPDATE device_controllers SET
			status_changed_at = CASE WHEN status = ? THEN status_changed_at ELSE ? END,
			status = ?,
			updated_at = ?
		WHERE id = ?`,
		string(status), now, string(status), now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating controller status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFound
	}

	return r.GetByID(ctx, id)
}

// Delete removes a controller by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM device_controllers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting controller: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) queryControllers(ctx context.Context, query string, args ...any) ([]Controller, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying controllers: %w", err)
	}
	defer rows.Close()

	var controllers []Controller
	for rows.Next() {
		c, err := scanController(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning controller: %w", err)
		}
		controllers = append(controllers, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating controllers: %w", err)
	}
	return controllers, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanController(scanner rowScanner) (*Controller, error) {
	var c Controller
	var siteID, statusChangedAt sql.NullString
	var status, configJSON, createdAt, updatedAt string

	err := scanner.Scan(
		&c.ID,
		&c.Name,
		&c.Code,
		&c.Host,
		&c.Port,
		&status,
		&siteID,
		&configJSON,
		&statusChangedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = Status(status)
	if siteID.Valid {
		c.SiteID = &siteID.String
	}
	if statusChangedAt.Valid {
		if t, err := time.Parse(time.RFC3339, statusChangedAt.String); err == nil {
			c.StatusChangedAt = &t
		}
	}

	var parseErr error
	c.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	c.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	if configJSON != "" {
		if err := json.Unmarshal([]byte(configJSON), &c.Config); err != nil {
			return nil, fmt.Errorf("unmarshalling config: %w", err)
		}
	}

	return &c, nil
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}
