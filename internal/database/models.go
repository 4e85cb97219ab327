package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/smukkama/calmcorners/internal/catalog"
)

// Column lists shared by the queries in store.go. Their order matches the
// scan helpers below.
const (
	locationColumns = `id, address, longitude, latitude, rating, num_reviews,
		name, description, category, amenities, image_url, created_at`

	reviewColumns = `id, name, text_review, noise_level, busy_level,
		location_id, weather, datetime`
)

// PostgreSQL error codes the store translates into domain errors.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// constraintAddressKey is the unique constraint on locations.address_key.
const constraintAddressKey = "locations_address_key_unique"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLocation(row rowScanner) (*catalog.Location, error) {
	var l catalog.Location
	var amenities []string
	err := row.Scan(
		&l.ID,
		&l.Address,
		&l.Longitude,
		&l.Latitude,
		&l.Rating,
		&l.NumReviews,
		&l.Name,
		&l.Description,
		&l.Category,
		pq.Array(&amenities),
		&l.ImageURL,
		&l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(amenities) > 0 {
		l.Amenities = amenities
	}
	l.CreatedAt = l.CreatedAt.UTC()
	return &l, nil
}

func scanReview(row rowScanner) (*catalog.Review, error) {
	var r catalog.Review
	var weather string
	err := row.Scan(
		&r.ID,
		&r.Name,
		&r.TextReview,
		&r.NoiseLevel,
		&r.BusyLevel,
		&r.Location,
		&weather,
		&r.Datetime,
	)
	if err != nil {
		return nil, err
	}
	r.Weather = catalog.Weather(weather)
	r.Datetime = r.Datetime.UTC()
	return &r, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// locationInsertError translates a failed locations INSERT. Only a clash on
// the address key means the address is taken; any other unique violation,
// such as an id collision, stays a storage failure.
func locationInsertError(err error, l *catalog.Location) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != codeUniqueViolation {
		return err
	}
	if pqErr.Constraint == constraintAddressKey {
		return fmt.Errorf("location address %q: %w", l.Address, catalog.ErrDuplicate)
	}
	return fmt.Errorf("location %s violates %s: %w", l.ID, pqErr.Constraint, err)
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
