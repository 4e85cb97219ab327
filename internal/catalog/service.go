package catalog

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smukkama/calmcorners/internal/logging"
	"github.com/smukkama/calmcorners/internal/metrics"
)

// EventKind names a committed review mutation.
type EventKind string

const (
	EventReviewCreated EventKind = "review.created"
	EventReviewUpdated EventKind = "review.updated"
	EventReviewDeleted EventKind = "review.deleted"
)

// EventPublisher announces committed review mutations.
type EventPublisher interface {
	PublishReviewEvent(ctx context.Context, kind EventKind, r *Review) error
}

// LocationCache holds the unfiltered location list between writes.
type LocationCache interface {
	GetLocations(ctx context.Context) ([]Location, bool, error)
	SetLocations(ctx context.Context, locations []Location) error
	Invalidate(ctx context.Context) error
}

// Service implements the location and review operations on top of a Store.
type Service struct {
	store     Store
	cache     LocationCache
	publisher EventPublisher
	now       func() time.Time
	newID     func() string
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables the location list cache.
func WithCache(c LocationCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithPublisher enables review event publishing.
func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClock overrides the time source used for default review timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service backed by store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateLocation validates in and stores a new location with no reviews.
func (s *Service) CreateLocation(ctx context.Context, in LocationInput) (*Location, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	loc := &Location{
		ID:          s.newID(),
		Address:     in.Address,
		Longitude:   *in.Longitude,
		Latitude:    *in.Latitude,
		Name:        in.Name,
		Description: in.Description,
		Category:    in.Category,
		Amenities:   in.Amenities,
		ImageURL:    in.ImageURL,
		CreatedAt:   s.now().UTC().Truncate(time.Millisecond),
	}
	if err := s.store.CreateLocation(ctx, loc); err != nil {
		return nil, WrapStorage("create location", err)
	}

	s.invalidate(ctx)
	logging.Ctx(ctx).Info().Str("location_id", loc.ID).Str("address", loc.Address).Msg("location created")
	return loc, nil
}

// ListLocations returns locations in insertion order. The unfiltered list
// is served from the cache when one is configured.
func (s *Service) ListLocations(ctx context.Context, filter LocationFilter) ([]Location, error) {
	if filter.IsZero() && s.cache != nil {
		cached, ok, err := s.cache.GetLocations(ctx)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("location cache read failed")
		} else if ok {
			metrics.LocationCacheHits.Inc()
			return cached, nil
		}
		metrics.LocationCacheMisses.Inc()
	}

	locations, err := s.store.ListLocations(ctx, filter)
	if err != nil {
		return nil, WrapStorage("list locations", err)
	}
	if locations == nil {
		locations = []Location{}
	}

	if filter.IsZero() && s.cache != nil {
		if err := s.cache.SetLocations(ctx, locations); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("location cache write failed")
		}
	}
	return locations, nil
}

// GetLocation returns one location.
func (s *Service) GetLocation(ctx context.Context, id string) (*Location, error) {
	loc, err := s.store.GetLocation(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, WrapStorage("get location", err)
	}
	return loc, nil
}

// DeleteLocation removes a location that no review references.
func (s *Service) DeleteLocation(ctx context.Context, id string) (*Location, error) {
	loc, err := s.store.DeleteLocation(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, WrapStorage("delete location", err)
	}
	s.invalidate(ctx)
	logging.Ctx(ctx).Info().Str("location_id", loc.ID).Msg("location deleted")
	return loc, nil
}

// CreateReview validates in, stores the review and recomputes its location.
func (s *Service) CreateReview(ctx context.Context, in ReviewInput) (*Review, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	review := in.toReview(s.newID(), s.now())
	if err := s.store.CreateReview(ctx, &review); err != nil {
		return nil, WrapStorage("create review", err)
	}

	s.afterReviewWrite(ctx, EventReviewCreated, &review)
	return &review, nil
}

// ListReviews returns all reviews, or only those of locationID when it is set.
func (s *Service) ListReviews(ctx context.Context, locationID string) ([]Review, error) {
	reviews, err := s.store.ListReviews(ctx, strings.TrimSpace(locationID))
	if err != nil {
		return nil, WrapStorage("list reviews", err)
	}
	if reviews == nil {
		reviews = []Review{}
	}
	return reviews, nil
}

// ListLocationReviews returns the reviews of an existing location.
func (s *Service) ListLocationReviews(ctx context.Context, locationID string) ([]Review, error) {
	if _, err := s.GetLocation(ctx, locationID); err != nil {
		return nil, err
	}
	return s.ListReviews(ctx, locationID)
}

// GetReview returns one review.
func (s *Service) GetReview(ctx context.Context, id string) (*Review, error) {
	r, err := s.store.GetReview(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, WrapStorage("get review", err)
	}
	return r, nil
}

// UpdateReview applies patch to review id when patch.Name owns it. Fields
// absent from the patch keep their stored values; the merged review is
// validated under the creation rules.
func (s *Service) UpdateReview(ctx context.Context, id string, patch ReviewPatch) (*Review, error) {
	updated, err := s.store.UpdateReview(ctx, strings.TrimSpace(id), func(r *Review) error {
		if err := checkOwner(r, patch.Name); err != nil {
			return err
		}
		return patch.apply(r)
	})
	if err != nil {
		return nil, WrapStorage("update review", err)
	}

	s.afterReviewWrite(ctx, EventReviewUpdated, updated)
	return updated, nil
}

// DeleteReview removes review id when name owns it and returns the removed review.
func (s *Service) DeleteReview(ctx context.Context, id, name string) (*Review, error) {
	deleted, err := s.store.DeleteReview(ctx, strings.TrimSpace(id), func(r *Review) error {
		return checkOwner(r, name)
	})
	if err != nil {
		return nil, WrapStorage("delete review", err)
	}

	s.afterReviewWrite(ctx, EventReviewDeleted, deleted)
	return deleted, nil
}

// Reconcile re-derives every location's aggregates.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	fixed, err := s.store.RecomputeAll(ctx)
	if err != nil {
		return 0, WrapStorage("recompute all", err)
	}
	if fixed > 0 {
		s.invalidate(ctx)
	}
	return fixed, nil
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// checkOwner compares the supplied name with the stored review's name.
func checkOwner(r *Review, name string) error {
	supplied := strings.TrimSpace(name)
	if supplied == "" || subtle.ConstantTimeCompare([]byte(supplied), []byte(r.Name)) != 1 {
		return fmt.Errorf("review %s: %w", r.ID, ErrForbidden)
	}
	return nil
}

// afterReviewWrite runs the side effects of a committed review mutation.
// The write has already happened, so failures are logged only.
func (s *Service) afterReviewWrite(ctx context.Context, kind EventKind, r *Review) {
	metrics.ReviewMutations.WithLabelValues(string(kind)).Inc()
	s.invalidate(ctx)

	logging.Ctx(ctx).Info().
		Str("event", string(kind)).
		Str("review_id", r.ID).
		Str("location_id", r.Location).
		Msg("review committed")

	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishReviewEvent(ctx, kind, r); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("review_id", r.ID).Msg("review event publish failed")
	}
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("location cache invalidate failed")
	}
}
