package database

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/smukkama/calmcorners/internal/catalog"
	"github.com/smukkama/calmcorners/internal/catalog/catalogtest"
)

// openTestDB connects to TEST_DATABASE_URL, applies the migrations and
// empties both tables. Tests are skipped when the variable is unset.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("Connect error = %v", err)
	}
	if err := db.RunMigrations(ctx, "../../migrations"); err != nil {
		db.Close()
		t.Fatalf("RunMigrations error = %v", err)
	}
	if _, err := db.ExecContext(ctx, `TRUNCATE reviews, locations`); err != nil {
		db.Close()
		t.Fatalf("truncate error = %v", err)
	}
	return db
}

func TestStoreConformance(t *testing.T) {
	catalogtest.Run(t, func(t *testing.T) catalog.Store {
		return NewStore(openTestDB(t))
	})
}

func TestRecomputeAllRepairsHandEditedRows(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	defer store.Close()

	ctx := context.Background()
	svc := catalog.NewService(store)
	lat, lon := 49.2606, -123.2460
	loc, err := svc.CreateLocation(ctx, catalog.LocationInput{Address: "2205 Lower Mall", Latitude: &lat, Longitude: &lon})
	if err != nil {
		t.Fatal(err)
	}
	noise, busy := 4, 2
	if _, err := svc.CreateReview(ctx, catalog.ReviewInput{
		Name: "tester", TextReview: "Hushed and bright.", NoiseLevel: &noise, BusyLevel: &busy,
		Location: loc.ID, Weather: catalog.WeatherSnowy,
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := db.ExecContext(ctx, `UPDATE locations SET rating = 1, num_reviews = 9 WHERE id = $1`, loc.ID); err != nil {
		t.Fatal(err)
	}

	fixed, err := store.RecomputeAll(ctx)
	if err != nil {
		t.Fatalf("RecomputeAll error = %v", err)
	}
	if fixed != 1 {
		t.Errorf("RecomputeAll fixed = %d, want 1", fixed)
	}
	got, err := store.GetLocation(ctx, loc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Rating != 4 || got.NumReviews != 1 {
		t.Errorf("aggregates = (%v, %d), want (4, 1)", got.Rating, got.NumReviews)
	}
}

func TestCreateLocationIDCollisionIsNotDuplicate(t *testing.T) {
	store := NewStore(openTestDB(t))
	defer store.Close()

	ctx := context.Background()
	first := &catalog.Location{ID: "fixed-id", Address: "6335 Thunderbird Blvd", Latitude: 49.25, Longitude: -123.23}
	if err := store.CreateLocation(ctx, first); err != nil {
		t.Fatal(err)
	}

	second := &catalog.Location{ID: "fixed-id", Address: "2329 West Mall", Latitude: 49.26, Longitude: -123.25}
	err := store.CreateLocation(ctx, second)
	if err == nil || errors.Is(err, catalog.ErrDuplicate) {
		t.Errorf("CreateLocation with reused id error = %v, want a non-duplicate failure", err)
	}

	third := &catalog.Location{ID: "other-id", Address: "  6335 THUNDERBIRD blvd", Latitude: 49.25, Longitude: -123.23}
	if err := store.CreateLocation(ctx, third); !errors.Is(err, catalog.ErrDuplicate) {
		t.Errorf("CreateLocation with taken address error = %v, want ErrDuplicate", err)
	}
}
