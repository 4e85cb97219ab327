package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/lib/pq"

	"github.com/smukkama/calmcorners/internal/catalog"
)

// Store is the PostgreSQL catalog.Store. Every review mutation runs in one
// transaction that locks the affected location rows before recomputing them.
type Store struct {
	db *DB
}

// NewStore wraps an open connection.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateLocation(ctx context.Context, l *catalog.Location) error {
	query := `
		INSERT INTO locations (
			id, address, address_key, longitude, latitude,
			name, description, category, amenities, image_url, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	amenities := l.Amenities
	if amenities == nil {
		amenities = []string{}
	}

	_, err := s.db.ExecContext(ctx, query,
		l.ID,
		l.Address,
		catalog.AddressKey(l.Address),
		l.Longitude,
		l.Latitude,
		l.Name,
		l.Description,
		l.Category,
		pq.Array(amenities),
		l.ImageURL,
		l.CreatedAt,
	)
	if err != nil {
		return locationInsertError(err, l)
	}

	l.Rating, l.NumReviews = 0, 0
	return nil
}

func (s *Store) GetLocation(ctx context.Context, id string) (*catalog.Location, error) {
	query := `SELECT ` + locationColumns + ` FROM locations WHERE id = $1`

	l, err := scanLocation(s.db.QueryRowContext(ctx, query, id))
	if isNoRows(err) {
		return nil, catalog.LocationNotFound(id)
	}
	return l, err
}

func (s *Store) ListLocations(ctx context.Context, filter catalog.LocationFilter) ([]catalog.Location, error) {
	query := `
		SELECT ` + locationColumns + `
		FROM locations
		WHERE ($1 = '' OR lower(category) = lower($1))
		  AND rating >= $2
		ORDER BY seq
	`

	rows, err := s.db.QueryContext(ctx, query, filter.Category, filter.MinRating)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	locations := make([]catalog.Location, 0)
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		locations = append(locations, *l)
	}
	return locations, rows.Err()
}

func (s *Store) DeleteLocation(ctx context.Context, id string) (*catalog.Location, error) {
	var deleted *catalog.Location
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		l, err := scanLocation(tx.QueryRowContext(ctx,
			`SELECT `+locationColumns+` FROM locations WHERE id = $1 FOR UPDATE`, id))
		if isNoRows(err) {
			return catalog.LocationNotFound(id)
		}
		if err != nil {
			return err
		}

		var hasReviews bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM reviews WHERE location_id = $1)`, id).Scan(&hasReviews); err != nil {
			return err
		}
		if hasReviews {
			return fmt.Errorf("location %s has reviews: %w", id, catalog.ErrConflict)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM locations WHERE id = $1`, id); err != nil {
			return err
		}
		deleted = l
		return nil
	})
	return deleted, err
}

func (s *Store) CreateReview(ctx context.Context, r *catalog.Review) error {
	return s.db.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockLocations(ctx, tx, r.Location); err != nil {
			return err
		}

		query := `
			INSERT INTO reviews (
				id, location_id, name, text_review, noise_level, busy_level, weather, datetime
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		_, err := tx.ExecContext(ctx, query,
			r.ID, r.Location, r.Name, r.TextReview, r.NoiseLevel, r.BusyLevel, string(r.Weather), r.Datetime)
		switch pqCode(err) {
		case codeUniqueViolation:
			return fmt.Errorf("review id %s: %w", r.ID, catalog.ErrDuplicate)
		case codeForeignKeyViolation:
			return catalog.LocationNotFound(r.Location)
		}
		if err != nil {
			return err
		}

		return recompute(ctx, tx, r.Location)
	})
}

func (s *Store) GetReview(ctx context.Context, id string) (*catalog.Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE id = $1`

	r, err := scanReview(s.db.QueryRowContext(ctx, query, id))
	if isNoRows(err) {
		return nil, catalog.ReviewNotFound(id)
	}
	return r, err
}

func (s *Store) ListReviews(ctx context.Context, locationID string) ([]catalog.Review, error) {
	query := `
		SELECT ` + reviewColumns + `
		FROM reviews
		WHERE ($1 = '' OR location_id = $1)
		ORDER BY seq
	`

	rows, err := s.db.QueryContext(ctx, query, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reviews := make([]catalog.Review, 0)
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, *r)
	}
	return reviews, rows.Err()
}

func (s *Store) UpdateReview(ctx context.Context, id string, mutate func(*catalog.Review) error) (*catalog.Review, error) {
	var updated *catalog.Review
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		current, err := lockReview(ctx, tx, id)
		if err != nil {
			return err
		}

		working := *current
		if err := mutate(&working); err != nil {
			return err
		}
		working.ID = id

		if err := lockLocations(ctx, tx, current.Location, working.Location); err != nil {
			return err
		}

		query := `
			UPDATE reviews
			SET name = $2, text_review = $3, noise_level = $4, busy_level = $5,
			    location_id = $6, weather = $7, datetime = $8
			WHERE id = $1
		`
		if _, err := tx.ExecContext(ctx, query,
			id, working.Name, working.TextReview, working.NoiseLevel, working.BusyLevel,
			working.Location, string(working.Weather), working.Datetime,
		); err != nil {
			return err
		}

		if err := recompute(ctx, tx, current.Location); err != nil {
			return err
		}
		if working.Location != current.Location {
			if err := recompute(ctx, tx, working.Location); err != nil {
				return err
			}
		}
		updated = &working
		return nil
	})
	return updated, err
}

func (s *Store) DeleteReview(ctx context.Context, id string, authorize func(*catalog.Review) error) (*catalog.Review, error) {
	var deleted *catalog.Review
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		current, err := lockReview(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := authorize(current); err != nil {
			return err
		}
		if err := lockLocations(ctx, tx, current.Location); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM reviews WHERE id = $1`, id); err != nil {
			return err
		}
		if err := recompute(ctx, tx, current.Location); err != nil {
			return err
		}
		deleted = current
		return nil
	})
	return deleted, err
}

// RecomputeAll locks every location row and rewrites the aggregates that
// disagree with the reviews table.
func (s *Store) RecomputeAll(ctx context.Context) (int, error) {
	var fixed int
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT id FROM locations ORDER BY id FOR UPDATE`); err != nil {
			return err
		}

		query := `
			WITH agg AS (
				SELECT l.id,
				       COALESCE(AVG(r.noise_level), 0)::double precision AS rating,
				       COUNT(r.id)::integer AS num_reviews
				FROM locations l
				LEFT JOIN reviews r ON r.location_id = l.id
				GROUP BY l.id
			)
			UPDATE locations l
			SET rating = agg.rating, num_reviews = agg.num_reviews
			FROM agg
			WHERE l.id = agg.id
			  AND (l.rating <> agg.rating OR l.num_reviews <> agg.num_reviews)
		`
		res, err := tx.ExecContext(ctx, query)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		fixed = int(n)
		return nil
	})
	return fixed, err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// lockReview loads review id and holds its row lock for the transaction.
func lockReview(ctx context.Context, tx *sql.Tx, id string) (*catalog.Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE id = $1 FOR UPDATE`

	r, err := scanReview(tx.QueryRowContext(ctx, query, id))
	if isNoRows(err) {
		return nil, catalog.ReviewNotFound(id)
	}
	return r, err
}

// lockLocations takes row locks on the given locations in id order and
// fails with NotFound if any of them is missing.
func lockLocations(ctx context.Context, tx *sql.Tx, ids ...string) error {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	sort.Strings(unique)

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM locations WHERE id = ANY($1) ORDER BY id FOR UPDATE`, pq.Array(unique))
	if err != nil {
		return err
	}
	defer rows.Close()

	found := make(map[string]bool, len(unique))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range unique {
		if !found[id] {
			return catalog.LocationNotFound(id)
		}
	}
	return nil
}

// recompute rewrites the aggregates of one location from its reviews. The
// caller must hold the location's row lock.
func recompute(ctx context.Context, tx *sql.Tx, locationID string) error {
	query := `
		UPDATE locations
		SET (rating, num_reviews) = (
			SELECT COALESCE(AVG(noise_level), 0)::double precision, COUNT(*)::integer
			FROM reviews
			WHERE location_id = $1
		)
		WHERE id = $1
	`
	_, err := tx.ExecContext(ctx, query, locationID)
	return err
}
