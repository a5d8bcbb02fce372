package site

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines site persistence operations.
type Repository interface {
	// GetByID returns ErrNotFound if the site does not exist.
	GetByID(ctx context.Context, id string) (*Site, error)

	// List returns all sites ordered by ID.
	List(ctx context.Context) ([]Site, error)

	// Upsert creates the site or updates its name. Status is untouched.
	Upsert(ctx context.Context, s *Site) error

	// UpdateStatus stores a derived status, creating the row when missing.
	UpdateStatus(ctx context.Context, id string, status Status, at time.Time) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a site by ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Site, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, status, status_updated_at, created_at
		FROM sites
		WHERE id = ?`, id)

	s, err := scanSite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying site by id: %w", err)
	}
	return s, nil
}

// List retrieves all sites.
func (r *SQLiteRepository) List(ctx context.Context) ([]Site, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, status, status_updated_at, created_at
		FROM sites
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying sites: %w", err)
	}
	defer rows.Close()

	var sites []Site
	for rows.Next() {
		s, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning site: %w", err)
		}
		sites = append(sites, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sites: %w", err)
	}
	return sites, nil
}

// Upsert creates or renames a site.
func (r *SQLiteRepository) Upsert(ctx context.Context, s *Site) error {
	if s == nil || strings.TrimSpace(s.ID) == "" {
		return ErrInvalidSite
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.Status == "" {
		s.Status = StatusUnknown
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sites (id, name, status, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		s.ID, s.Name, string(s.Status), s.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting site: %w", err)
	}
	return nil
}

// UpdateStatus stores status for id, creating the site on demand.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id string, status Status, at time.Time) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidSite
	}
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	stamp := at.UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sites (id, name, status, status_updated_at, created_at)
		VALUES (?, '', ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			status_updated_at = excluded.status_updated_at`,
		id, string(status), stamp, stamp,
	)
	if err != nil {
		return fmt.Errorf("updating site status: %w", err)
	}
	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSite(scanner rowScanner) (*Site, error) {
	var s Site
	var status, createdAt string
	var statusUpdatedAt sql.NullString

	if err := scanner.Scan(&s.ID, &s.Name, &status, &statusUpdatedAt, &createdAt); err != nil {
		return nil, err
	}

	s.Status = Status(status)
	if statusUpdatedAt.Valid {
		if t, err := time.Parse(time.RFC3339, statusUpdatedAt.String); err == nil {
			s.StatusUpdatedAt = &t
		}
	}

	var err error
	s.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &s, nil
}
