package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/models"
)

// upsertChunkSize bounds the rows per store round-trip. Each chunk is a
// single transaction; a chunk failure fails the whole batch.
const upsertChunkSize = 500

// PropertyStorage implements SQLite storage for property records
type PropertyStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewPropertyStorage creates a new property storage instance
func NewPropertyStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.PropertyStorage {
	return &PropertyStorage{
		db:     db,
		logger: logger,
	}
}

// UpsertBatch writes records in chunks of up to 500 per transaction.
// Records with an empty property_id are skipped. Conflicts on property_id
// overwrite all mutable fields and bump updated_at/scraped_at; created_at
// keeps its first-insert value.
func (s *PropertyStorage) UpsertBatch(ctx context.Context, records []*models.PropertyRecord) (int, error) {
	accepted := 0
	now := time.Now()

	valid := make([]*models.PropertyRecord, 0, len(records))
	for _, r := range records {
		if r == nil || r.PropertyID == "" {
			continue
		}
		valid = append(valid, r)
	}

	for start := 0; start < len(valid); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(valid) {
			end = len(valid)
		}

		chunk := valid[start:end]
		if err := s.upsertChunk(ctx, chunk, now); err != nil {
			return accepted, fmt.Errorf("failed to upsert chunk at offset %d: %w", start, err)
		}
		accepted += len(chunk)
	}

	s.logger.Debug().
		Int("records", len(records)).
		Int("accepted", accepted).
		Msg("Property batch upserted")

	return accepted, nil
}

func (s *PropertyStorage) upsertChunk(ctx context.Context, chunk []*models.PropertyRecord, now time.Time) error {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO properties (
			property_id, name, prop_type, city, address, assessed_value,
			appraised_value, geo_id, description, search_term,
			scraped_at, created_at, updated_at
		) VALUES `)

	args := make([]interface{}, 0, len(chunk)*13)
	for i, r := range chunk {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")

		scrapedAt := r.ScrapedAt
		if scrapedAt.IsZero() {
			scrapedAt = now
		}

		args = append(args,
			r.PropertyID,
			r.Name,
			r.PropType,
			nullString(r.City),
			r.Address,
			nullFloat(r.AssessedValue),
			r.AppraisedValue,
			nullString(r.GeoID),
			nullString(r.Description),
			nullString(r.SearchTerm),
			scrapedAt.Unix(),
			now.Unix(),
			now.Unix(),
		)
	}

	sb.WriteString(`
		ON CONFLICT(property_id) DO UPDATE SET
			name = excluded.name,
			prop_type = excluded.prop_type,
			city = excluded.city,
			address = excluded.address,
			assessed_value = excluded.assessed_value,
			appraised_value = excluded.appraised_value,
			geo_id = excluded.geo_id,
			description = excluded.description,
			search_term = excluded.search_term,
			scraped_at = excluded.scraped_at,
			updated_at = excluded.updated_at`)

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return err
	}

	return tx.Commit()
}

// GetByID returns a record by natural id, or nil when absent
func (s *PropertyStorage) GetByID(ctx context.Context, propertyID string) (*models.PropertyRecord, error) {
	query := `
		SELECT property_id, name, prop_type, city, address, assessed_value,
		       appraised_value, geo_id, description, search_term,
		       scraped_at, created_at, updated_at
		FROM properties WHERE property_id = ?`

	row := s.db.db.QueryRowContext(ctx, query, propertyID)

	var r models.PropertyRecord
	var city, geoID, description, searchTerm sql.NullString
	var assessed sql.NullFloat64
	var scrapedAt, createdAt, updatedAt int64

	err := row.Scan(&r.PropertyID, &r.Name, &r.PropType, &city, &r.Address,
		&assessed, &r.AppraisedValue, &geoID, &description, &searchTerm,
		&scrapedAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query property: %w", err)
	}

	r.City = city.String
	r.GeoID = geoID.String
	r.Description = description.String
	r.SearchTerm = searchTerm.String
	if assessed.Valid {
		v := assessed.Float64
		r.AssessedValue = &v
	}
	r.ScrapedAt = time.Unix(scrapedAt, 0)
	r.CreatedAt = time.Unix(createdAt, 0)
	r.UpdatedAt = time.Unix(updatedAt, 0)

	return &r, nil
}

// Count returns the total number of persisted records
func (s *PropertyStorage) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM properties`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count properties: %w", err)
	}
	return count, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
