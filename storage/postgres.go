package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Bezludnev/parsingCarAvalible/models"
	"github.com/Bezludnev/parsingCarAvalible/services"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		price BIGINT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'EUR',
		mileage INTEGER NOT NULL DEFAULT 0,
		year INTEGER NOT NULL DEFAULT 0,
		url TEXT NOT NULL DEFAULT '',
		description_hash TEXT NOT NULL DEFAULT '',
		availability TEXT NOT NULL DEFAULT 'active',
		first_seen_at TIMESTAMPTZ NOT NULL,
		last_seen_at TIMESTAMPTZ NOT NULL,
		last_checked_at TIMESTAMPTZ,
		version BIGINT NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS check_records (
		id BIGSERIAL PRIMARY KEY,
		listing_id TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		outcome TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_check_records_listing ON check_records(listing_id, timestamp);

	CREATE TABLE IF NOT EXISTS price_change_events (
		id BIGSERIAL PRIMARY KEY,
		listing_id TEXT NOT NULL REFERENCES listings(id),
		old_price BIGINT NOT NULL,
		new_price BIGINT NOT NULL,
		delta BIGINT NOT NULL,
		detected_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_price_events_listing ON price_change_events(listing_id, detected_at);
	CREATE INDEX IF NOT EXISTS idx_price_events_delta ON price_change_events(detected_at, delta);

	CREATE TABLE IF NOT EXISTS description_change_events (
		id BIGSERIAL PRIMARY KEY,
		listing_id TEXT NOT NULL REFERENCES listings(id),
		old_fingerprint TEXT NOT NULL,
		new_fingerprint TEXT NOT NULL,
		detected_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS availability_change_events (
		id BIGSERIAL PRIMARY KEY,
		listing_id TEXT NOT NULL REFERENCES listings(id),
		old_status TEXT NOT NULL,
		new_status TEXT NOT NULL,
		detected_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notifications (
		dedupe_key TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

const listingColumns = `id, title, price, currency, mileage, year, url,
	description_hash, availability, first_seen_at, last_seen_at, last_checked_at, version`

func scanListing(row pgx.Row) (*models.Listing, error) {
	var l models.Listing
	err := row.Scan(
		&l.ID, &l.Title, &l.Price, &l.Currency, &l.Mileage, &l.Year, &l.URL,
		&l.DescriptionHash, &l.Availability, &l.FirstSeenAt, &l.LastSeenAt, &l.LastCheckedAt, &l.Version,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *PostgresStore) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`

	l, err := scanListing(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (s *PostgresStore) ListCandidates(ctx context.Context, checkedBefore time.Time, limit int) ([]models.Listing, error) {
	query := `
		SELECT ` + listingColumns + `
		FROM listings
		WHERE availability = 'active'
		  AND (last_checked_at IS NULL OR last_checked_at < $1)
		ORDER BY last_checked_at ASC NULLS FIRST, id
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, checkedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

// RecordCheck writes one diff unit inside a single transaction: listing
// upsert guarded by the version column, the check record, and all change
// events. A lost version race rolls everything back and surfaces as
// services.ErrVersionConflict.
func (s *PostgresStore) RecordCheck(ctx context.Context, unit *models.CheckUnit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if unit.Listing != nil {
		if err := upsertListing(ctx, tx, unit.Listing); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO check_records (listing_id, timestamp, outcome, note)
		VALUES ($1, $2, $3, $4)`,
		unit.Check.ListingID, unit.Check.Timestamp, unit.Check.Outcome, unit.Check.Note,
	)
	if err != nil {
		return fmt.Errorf("insert check record: %w", err)
	}

	for _, e := range unit.PriceChanges {
		_, err = tx.Exec(ctx, `
			INSERT INTO price_change_events (listing_id, old_price, new_price, delta, detected_at)
			VALUES ($1, $2, $3, $4, $5)`,
			e.ListingID, e.OldPrice, e.NewPrice, e.Delta, e.DetectedAt,
		)
		if err != nil {
			return fmt.Errorf("insert price event: %w", err)
		}
	}
	for _, e := range unit.DescriptionChanges {
		_, err = tx.Exec(ctx, `
			INSERT INTO description_change_events (listing_id, old_fingerprint, new_fingerprint, detected_at)
			VALUES ($1, $2, $3, $4)`,
			e.ListingID, e.OldFingerprint, e.NewFingerprint, e.DetectedAt,
		)
		if err != nil {
			return fmt.Errorf("insert description event: %w", err)
		}
	}
	for _, e := range unit.AvailabilityChanges {
		_, err = tx.Exec(ctx, `
			INSERT INTO availability_change_events (listing_id, old_status, new_status, detected_at)
			VALUES ($1, $2, $3, $4)`,
			e.ListingID, e.OldStatus, e.NewStatus, e.DetectedAt,
		)
		if err != nil {
			return fmt.Errorf("insert availability event: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func upsertListing(ctx context.Context, tx pgx.Tx, l *models.Listing) error {
	if l.Version == 0 {
		tag, err := tx.Exec(ctx, `
			INSERT INTO listings (`+listingColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1)
			ON CONFLICT (id) DO NOTHING`,
			l.ID, l.Title, l.Price, l.Currency, l.Mileage, l.Year, l.URL,
			l.DescriptionHash, l.Availability, l.FirstSeenAt, l.LastSeenAt, l.LastCheckedAt,
		)
		if err != nil {
			return fmt.Errorf("insert listing: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Someone created the row since our read.
			return services.ErrVersionConflict
		}
		return nil
	}

	tag, err := tx.Exec(ctx, `
		UPDATE listings SET
			title = $2, price = $3, currency = $4, mileage = $5, year = $6,
			url = $7, description_hash = $8, availability = $9,
			last_seen_at = $10, last_checked_at = $11, version = version + 1
		WHERE id = $1 AND version = $12`,
		l.ID, l.Title, l.Price, l.Currency, l.Mileage, l.Year,
		l.URL, l.DescriptionHash, l.Availability,
		l.LastSeenAt, l.LastCheckedAt, l.Version,
	)
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return services.ErrVersionConflict
	}
	return nil
}

func (s *PostgresStore) PriceHistory(ctx context.Context, listingID string) ([]models.PriceChangeEvent, error) {
	query := `
		SELECT id, listing_id, old_price, new_price, delta, detected_at
		FROM price_change_events
		WHERE listing_id = $1
		ORDER BY detected_at`

	rows, err := s.pool.Query(ctx, query, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPriceEvents(rows)
}

func (s *PostgresStore) PriceDrops(ctx context.Context, since time.Time, minDrop int64) ([]models.PriceChangeEvent, error) {
	query := `
		SELECT id, listing_id, old_price, new_price, delta, detected_at
		FROM price_change_events
		WHERE delta <= $1 AND detected_at >= $2
		ORDER BY delta ASC, detected_at DESC`

	rows, err := s.pool.Query(ctx, query, -minDrop, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPriceEvents(rows)
}

func scanPriceEvents(rows pgx.Rows) ([]models.PriceChangeEvent, error) {
	var events []models.PriceChangeEvent
	for rows.Next() {
		var e models.PriceChangeEvent
		if err := rows.Scan(&e.ID, &e.ListingID, &e.OldPrice, &e.NewPrice, &e.Delta, &e.DetectedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) ChangesSummary(ctx context.Context, since time.Time) (models.ChangesSummary, error) {
	var sum models.ChangesSummary
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM price_change_events WHERE detected_at >= $1),
			(SELECT COUNT(*) FROM description_change_events WHERE detected_at >= $1),
			(SELECT COUNT(*) FROM availability_change_events WHERE detected_at >= $1)`,
		since,
	).Scan(&sum.PriceChanges, &sum.DescriptionChanges, &sum.AvailabilityChanges)
	return sum, err
}

func (s *PostgresStore) ListingsWithDrops(ctx context.Context, limit int) ([]models.Listing, error) {
	query := `
		SELECT ` + listingColumns + `
		FROM listings l
		JOIN (
			SELECT listing_id, MAX(detected_at) AS last_drop
			FROM price_change_events
			WHERE delta < 0
			GROUP BY listing_id
		) d ON d.listing_id = l.id
		ORDER BY d.last_drop DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

func (s *PostgresStore) CountByAvailability(ctx context.Context) (map[models.Availability]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT availability, COUNT(*) FROM listings GROUP BY availability`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.Availability]int)
	for rows.Next() {
		var status models.Availability
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStore) CountEventsSince(ctx context.Context, since time.Time) (int, error) {
	sum, err := s.ChangesSummary(ctx, since)
	if err != nil {
		return 0, err
	}
	return sum.Total(), nil
}

func (s *PostgresStore) CountNeverChecked(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM listings WHERE last_checked_at IS NULL`).Scan(&n)
	return n, err
}

func (s *PostgresStore) LastPassAt(ctx context.Context) (*time.Time, error) {
	var last *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT MAX(timestamp) FROM check_records WHERE outcome <> 'error'`,
	).Scan(&last)
	if err != nil {
		return nil, err
	}
	return last, nil
}

func (s *PostgresStore) ClaimNotification(ctx context.Context, key string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (dedupe_key) VALUES ($1)
		ON CONFLICT (dedupe_key) DO NOTHING`,
		key,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
