// Package mongostore implements catalog.Store on MongoDB. Review mutations
// run in multi-document transactions, so the server must be a replica set.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/smukkama/calmcorners/internal/catalog"
	"github.com/smukkama/calmcorners/internal/logging"
)

const (
	locationsCollection = "locations"
	reviewsCollection   = "reviews"
)

type Store struct {
	client    *mongo.Client
	locations *mongo.Collection
	reviews   *mongo.Collection
}

// Connect dials uri, checks the connection and ensures the indexes exist.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:    client,
		locations: db.Collection(locationsCollection),
		reviews:   db.Collection(reviewsCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logging.Info().Str("database", database).Msg("connected to MongoDB")
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.locations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "address_key", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "seq", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create location indexes: %w", err)
	}
	_, err = s.reviews.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "location_id", Value: 1}, {Key: "seq", Value: 1}}},
		{Keys: bson.D{{Key: "seq", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create review indexes: %w", err)
	}
	return nil
}

func (s *Store) CreateLocation(ctx context.Context, l *catalog.Location) error {
	doc := newLocationDoc(l)
	if _, err := s.locations.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("location address %q: %w", l.Address, catalog.ErrDuplicate)
		}
		return err
	}
	l.Rating, l.NumReviews = 0, 0
	return nil
}

func (s *Store) GetLocation(ctx context.Context, id string) (*catalog.Location, error) {
	var doc locationDoc
	err := s.locations.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, catalog.LocationNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return doc.toLocation(), nil
}

func (s *Store) ListLocations(ctx context.Context, filter catalog.LocationFilter) ([]catalog.Location, error) {
	query := bson.M{}
	if filter.Category != "" {
		query["category_key"] = strings.ToLower(filter.Category)
	}
	if filter.MinRating > 0 {
		query["rating"] = bson.M{"$gte": filter.MinRating}
	}

	cur, err := s.locations.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []locationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]catalog.Location, 0, len(docs))
	for i := range docs {
		out = append(out, *docs[i].toLocation())
	}
	return out, nil
}

func (s *Store) DeleteLocation(ctx context.Context, id string) (*catalog.Location, error) {
	var deleted *catalog.Location
	err := s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		if err := s.lockLocations(sc, id); err != nil {
			return err
		}

		n, err := s.reviews.CountDocuments(sc, bson.M{"location_id": id}, options.Count().SetLimit(1))
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("location %s has reviews: %w", id, catalog.ErrConflict)
		}

		var doc locationDoc
		if err := s.locations.FindOneAndDelete(sc, bson.M{"_id": id}).Decode(&doc); err != nil {
			return err
		}
		deleted = doc.toLocation()
		return nil
	})
	return deleted, err
}

func (s *Store) CreateReview(ctx context.Context, r *catalog.Review) error {
	return s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		if err := s.lockLocations(sc, r.Location); err != nil {
			return err
		}
		if _, err := s.reviews.InsertOne(sc, newReviewDoc(r)); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return fmt.Errorf("review id %s: %w", r.ID, catalog.ErrDuplicate)
			}
			return err
		}
		_, err := s.recompute(sc, r.Location)
		return err
	})
}

func (s *Store) GetReview(ctx context.Context, id string) (*catalog.Review, error) {
	var doc reviewDoc
	err := s.reviews.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, catalog.ReviewNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return doc.toReview(), nil
}

func (s *Store) ListReviews(ctx context.Context, locationID string) ([]catalog.Review, error) {
	query := bson.M{}
	if locationID != "" {
		query["location_id"] = locationID
	}

	cur, err := s.reviews.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []reviewDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]catalog.Review, 0, len(docs))
	for i := range docs {
		out = append(out, *docs[i].toReview())
	}
	return out, nil
}

func (s *Store) UpdateReview(ctx context.Context, id string, mutate func(*catalog.Review) error) (*catalog.Review, error) {
	var updated *catalog.Review
	err := s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		current, err := s.loadReview(sc, id)
		if err != nil {
			return err
		}

		working := *current
		if err := mutate(&working); err != nil {
			return err
		}
		working.ID = id

		if err := s.lockLocations(sc, current.Location, working.Location); err != nil {
			return err
		}

		set := bson.M{
			"name":        working.Name,
			"text_review": working.TextReview,
			"noise_level": working.NoiseLevel,
			"busy_level":  working.BusyLevel,
			"location_id": working.Location,
			"weather":     string(working.Weather),
			"datetime":    working.Datetime,
		}
		if _, err := s.reviews.UpdateByID(sc, id, bson.M{"$set": set}); err != nil {
			return err
		}

		if _, err := s.recompute(sc, current.Location); err != nil {
			return err
		}
		if working.Location != current.Location {
			if _, err := s.recompute(sc, working.Location); err != nil {
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
	err := s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		current, err := s.loadReview(sc, id)
		if err != nil {
			return err
		}
		if err := authorize(current); err != nil {
			return err
		}
		if err := s.lockLocations(sc, current.Location); err != nil {
			return err
		}
		if _, err := s.reviews.DeleteOne(sc, bson.M{"_id": id}); err != nil {
			return err
		}
		if _, err := s.recompute(sc, current.Location); err != nil {
			return err
		}
		deleted = current
		return nil
	})
	return deleted, err
}

// RecomputeAll repairs each location in its own transaction.
func (s *Store) RecomputeAll(ctx context.Context) (int, error) {
	cur, err := s.locations.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return 0, err
	}
	var ids []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &ids); err != nil {
		return 0, err
	}

	fixed := 0
	for _, doc := range ids {
		var changed bool
		err := s.withTransaction(ctx, func(sc mongo.SessionContext) error {
			if err := s.lockLocations(sc, doc.ID); err != nil {
				return err
			}
			var err error
			changed, err = s.recompute(sc, doc.ID)
			return err
		})
		if errors.Is(err, catalog.ErrNotFound) {
			// Deleted since the scan.
			continue
		}
		if err != nil {
			return fixed, err
		}
		if changed {
			fixed++
		}
	}
	return fixed, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// withTransaction runs fn in a session transaction. fn may be retried on
// transient errors and must not have side effects outside the session.
func (s *Store) withTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	return s.client.UseSession(ctx, func(sc mongo.SessionContext) error {
		_, err := sc.WithTransaction(sc, func(sc mongo.SessionContext) (interface{}, error) {
			return nil, fn(sc)
		})
		return err
	})
}

func (s *Store) loadReview(sc mongo.SessionContext, id string) (*catalog.Review, error) {
	var doc reviewDoc
	err := s.reviews.FindOne(sc, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, catalog.ReviewNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return doc.toReview(), nil
}

// lockLocations bumps the rev counter of each location, which makes any
// concurrent transaction touching the same documents conflict and retry.
func (s *Store) lockLocations(sc mongo.SessionContext, ids ...string) error {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		res, err := s.locations.UpdateByID(sc, id, bson.M{"$inc": bson.M{"rev": 1}})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return catalog.LocationNotFound(id)
		}
	}
	return nil
}

// recompute rewrites the aggregates of one location and reports whether
// they changed.
func (s *Store) recompute(sc mongo.SessionContext, locationID string) (bool, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "location_id", Value: locationID}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "noise", Value: bson.D{{Key: "$push", Value: "$noise_level"}}},
		}}},
	}
	cur, err := s.reviews.Aggregate(sc, pipeline)
	if err != nil {
		return false, err
	}
	var groups []struct {
		Noise []int `bson:"noise"`
	}
	if err := cur.All(sc, &groups); err != nil {
		return false, err
	}

	var levels []int
	if len(groups) > 0 {
		levels = groups[0].Noise
	}
	rating, count := catalog.Aggregate(levels)

	var before locationDoc
	err = s.locations.FindOneAndUpdate(sc,
		bson.M{"_id": locationID},
		bson.M{"$set": bson.M{"rating": rating, "num_reviews": count}},
	).Decode(&before)
	if err != nil {
		return false, err
	}
	return before.Rating != rating || before.NumReviews != count, nil
}

type locationDoc struct {
	ID          string             `bson:"_id"`
	Seq         primitive.ObjectID `bson:"seq"`
	Address     string             `bson:"address"`
	AddressKey  string             `bson:"address_key"`
	Longitude   float64            `bson:"longitude"`
	Latitude    float64            `bson:"latitude"`
	Rating      float64            `bson:"rating"`
	NumReviews  int                `bson:"num_reviews"`
	Name        string             `bson:"name"`
	Description string             `bson:"description"`
	Category    string             `bson:"category"`
	CategoryKey string             `bson:"category_key"`
	Amenities   []string           `bson:"amenities,omitempty"`
	ImageURL    string             `bson:"image_url"`
	CreatedAt   time.Time          `bson:"created_at"`
	Rev         int64              `bson:"rev"`
}

func newLocationDoc(l *catalog.Location) locationDoc {
	return locationDoc{
		ID:          l.ID,
		Seq:         primitive.NewObjectID(),
		Address:     l.Address,
		AddressKey:  catalog.AddressKey(l.Address),
		Longitude:   l.Longitude,
		Latitude:    l.Latitude,
		Name:        l.Name,
		Description: l.Description,
		Category:    l.Category,
		CategoryKey: strings.ToLower(l.Category),
		Amenities:   l.Amenities,
		ImageURL:    l.ImageURL,
		CreatedAt:   l.CreatedAt,
	}
}

func (d *locationDoc) toLocation() *catalog.Location {
	return &catalog.Location{
		ID:          d.ID,
		Address:     d.Address,
		Longitude:   d.Longitude,
		Latitude:    d.Latitude,
		Rating:      d.Rating,
		NumReviews:  d.NumReviews,
		Name:        d.Name,
		Description: d.Description,
		Category:    d.Category,
		Amenities:   d.Amenities,
		ImageURL:    d.ImageURL,
		CreatedAt:   d.CreatedAt.UTC(),
	}
}

type reviewDoc struct {
	ID         string             `bson:"_id"`
	Seq        primitive.ObjectID `bson:"seq"`
	Name       string             `bson:"name"`
	TextReview string             `bson:"text_review"`
	NoiseLevel int                `bson:"noise_level"`
	BusyLevel  int                `bson:"busy_level"`
	LocationID string             `bson:"location_id"`
	Weather    string             `bson:"weather"`
	Datetime   time.Time          `bson:"datetime"`
}

func newReviewDoc(r *catalog.Review) reviewDoc {
	return reviewDoc{
		ID:         r.ID,
		Seq:        primitive.NewObjectID(),
		Name:       r.Name,
		TextReview: r.TextReview,
		NoiseLevel: r.NoiseLevel,
		BusyLevel:  r.BusyLevel,
		LocationID: r.Location,
		Weather:    string(r.Weather),
		Datetime:   r.Datetime,
	}
}

func (d *reviewDoc) toReview() *catalog.Review {
	return &catalog.Review{
		ID:         d.ID,
		Name:       d.Name,
		TextReview: d.TextReview,
		NoiseLevel: d.NoiseLevel,
		BusyLevel:  d.BusyLevel,
		Location:   d.LocationID,
		Weather:    catalog.Weather(d.Weather),
		Datetime:   d.Datetime.UTC(),
	}
}
