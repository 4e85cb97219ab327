package catalog

import "context"

// Store persists locations and reviews. Every review mutation and the
// recomputation of the affected locations' Rating and NumReviews are
// applied as one atomic unit: no reader may observe one without the other.
type Store interface {
	// CreateLocation inserts l. Returns ErrDuplicate when the address is taken.
	CreateLocation(ctx context.Context, l *Location) error
	GetLocation(ctx context.Context, id string) (*Location, error)
	// ListLocations returns matching locations in insertion order.
	ListLocations(ctx context.Context, filter LocationFilter) ([]Location, error)
	// DeleteLocation returns ErrConflict while reviews still reference id.
	DeleteLocation(ctx context.Context, id string) (*Location, error)

	// CreateReview inserts r and recomputes r.Location. Returns ErrNotFound
	// when the location does not exist.
	CreateReview(ctx context.Context, r *Review) error
	GetReview(ctx context.Context, id string) (*Review, error)
	// ListReviews returns every review, or only those of locationID when set.
	ListReviews(ctx context.Context, locationID string) ([]Review, error)
	// UpdateReview loads review id, lets mutate change it and stores the
	// result, recomputing both the old and the new location.
	UpdateReview(ctx context.Context, id string, mutate func(*Review) error) (*Review, error)
	// DeleteReview loads review id, asks authorize, then removes it and
	// recomputes its location.
	DeleteReview(ctx context.Context, id string, authorize func(*Review) error) (*Review, error)

	// RecomputeAll re-derives the aggregates of every location and returns
	// how many locations were corrected.
	RecomputeAll(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}
