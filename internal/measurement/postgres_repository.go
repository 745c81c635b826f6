package measurement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL measurement repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// UpsertSource creates the data source if absent and returns its id. The
// no-op update makes RETURNING yield the existing row on conflict.
func (r *PostgresRepository) UpsertSource(ctx context.Context, src SourceInfo) (int64, error) {
	query := `
		INSERT INTO data_sources (name, url, description)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''))
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`

	var id int64
	if err := r.pool.QueryRow(ctx, query, src.Name, src.URL, src.Description).Scan(&id); err != nil {
		return 0, classify(err)
	}
	return id, nil
}

// FindParameter looks up a parameter by name and category.
func (r *PostgresRepository) FindParameter(ctx context.Context, name string, category Category) (*Parameter, error) {
	query := `
		SELECT id, name, unit, category, safe_limit, allows_negative
		FROM parameters
		WHERE name = $1 AND category = $2
		LIMIT 1
	`

	var (
		p   Parameter
		cat string
	)
	err := r.pool.QueryRow(ctx, query, name, string(category)).Scan(
		&p.ID,
		&p.Name,
		&p.Unit,
		&cat,
		&p.SafeLimit,
		&p.AllowsNegative,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrParameterNotFound
		}
		return nil, classify(err)
	}
	p.Category = Category(cat)

	return &p, nil
}

// FindLocation returns the location whose rounded coordinates match.
func (r *PostgresRepository) FindLocation(ctx context.Context, lat, lon float64) (*Location, error) {
	query := `
		SELECT id, name, latitude, longitude, COALESCE(district, ''), is_active, created_at
		FROM locations
		WHERE ROUND(latitude, 5) = ROUND($1::numeric, 5)
		  AND ROUND(longitude, 5) = ROUND($2::numeric, 5)
		LIMIT 1
	`

	var loc Location
	err := r.pool.QueryRow(ctx, query, lat, lon).Scan(
		&loc.ID,
		&loc.Name,
		&loc.Lat,
		&loc.Lon,
		&loc.District,
		&loc.IsActive,
		&loc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLocationNotFound
		}
		return nil, classify(err)
	}

	return &loc, nil
}

// CreateLocation inserts loc with its unrounded coordinates. The unique
// index on rounded coordinates turns a concurrent duplicate into a no-op,
// after which the existing row is looked up.
func (r *PostgresRepository) CreateLocation(ctx context.Context, loc *Location) (int64, error) {
	query := `
		INSERT INTO locations (name, latitude, longitude, district, is_active)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		ON CONFLICT DO NOTHING
		RETURNING id
	`

	var id int64
	err := r.pool.QueryRow(ctx, query, loc.Name, loc.Lat, loc.Lon, loc.District, loc.IsActive).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, classify(err)
	}

	existing, err := r.FindLocation(ctx, loc.Lat, loc.Lon)
	if err != nil {
		return 0, err
	}
	return existing.ID, nil
}

// InsertMeasurement inserts a fact row.
func (r *PostgresRepository) InsertMeasurement(ctx context.Context, m *Measurement) error {
	query := `
		INSERT INTO measurements (location_id, parameter_id, source_id, value, measured_at, extra_data)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	var extraJSON []byte
	if len(m.ExtraData) > 0 {
		var err error
		extraJSON, err = json.Marshal(m.ExtraData)
		if err != nil {
			return fmt.Errorf("encode extra data: %w", err)
		}
	}

	err := r.pool.QueryRow(ctx, query,
		m.LocationID,
		m.ParameterID,
		m.SourceID,
		m.Value,
		m.MeasuredAt,
		extraJSON,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return classify(err)
	}

	return nil
}

// GetMeasurement retrieves a fact row by ID.
func (r *PostgresRepository) GetMeasurement(ctx context.Context, id int64) (*Measurement, error) {
	query := `
		SELECT id, location_id, parameter_id, source_id, value, measured_at, created_at, extra_data
		FROM measurements
		WHERE id = $1
	`

	var (
		m         Measurement
		extraJSON []byte
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&m.ID,
		&m.LocationID,
		&m.ParameterID,
		&m.SourceID,
		&m.Value,
		&m.MeasuredAt,
		&m.CreatedAt,
		&extraJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMeasurementNotFound
		}
		return nil, classify(err)
	}

	if len(extraJSON) > 0 {
		if err := json.Unmarshal(extraJSON, &m.ExtraData); err != nil {
			return nil, fmt.Errorf("decode extra data: %w", err)
		}
	}

	return &m, nil
}

// SeedParameters inserts the given catalog entries, leaving existing rows
// untouched. It returns the number of rows created.
func (r *PostgresRepository) SeedParameters(ctx context.Context, params []Parameter) (int, error) {
	query := `
		INSERT INTO parameters (name, unit, category, safe_limit, allows_negative)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name, category) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, p := range params {
		batch.Queue(query, p.Name, p.Unit, string(p.Category), p.SafeLimit, p.AllowsNegative)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	created := 0
	for _, p := range params {
		tag, err := results.Exec()
		if err != nil {
			return created, fmt.Errorf("seed parameter %q: %w", p.Name, classify(err))
		}
		created += int(tag.RowsAffected())
	}
	return created, nil
}

// classify wraps connection-level failures with ErrStorageUnavailable so the
// adapter can tell them apart from per-record rejections.
func classify(err error) error {
	if err == nil || !IsConnectivityError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}

// IsConnectivityError reports whether err means the database could not be
// reached, as opposed to a statement being rejected.
// A cancelled or expired context is never a connectivity failure.
func IsConnectivityError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrStorageUnavailable) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exception; 57P01-03: server shutting down.
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P0")
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return pgconn.Timeout(err) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		pgconn.SafeToRetry(err)
}

// Ensure PostgresRepository implements Repository interface.
var _ Repository = (*PostgresRepository)(nil)
