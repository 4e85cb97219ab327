// Package catalogtest runs the same behavioural checks against every
// catalog.Store implementation.
package catalogtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/smukkama/calmcorners/internal/catalog"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) catalog.Store

// Run exercises newStore through a catalog.Service.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, svc *catalog.Service, store catalog.Store)
	}{
		{"CreateLocationStartsEmpty", testCreateLocationStartsEmpty},
		{"DuplicateAddress", testDuplicateAddress},
		{"ListLocationsInsertionOrder", testListLocationsInsertionOrder},
		{"ListLocationsFilter", testListLocationsFilter},
		{"ReviewAggregates", testReviewAggregates},
		{"ReviewUnknownLocation", testReviewUnknownLocation},
		{"UpdateReviewOwnership", testUpdateReviewOwnership},
		{"UpdateReviewMovesLocation", testUpdateReviewMovesLocation},
		{"UpdateReviewInvalidPatch", testUpdateReviewInvalidPatch},
		{"DeleteReview", testDeleteReview},
		{"DeleteLocation", testDeleteLocation},
		{"RecomputeAllIsIdempotent", testRecomputeAllIsIdempotent},
		{"ConcurrentReviews", testConcurrentReviews},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			t.Cleanup(func() { _ = store.Close() })
			tt.fn(t, catalog.NewService(store), store)
		})
	}
}

func ptr[T any](v T) *T { return &v }

func location(address string) catalog.LocationInput {
	return catalog.LocationInput{
		Address:   address,
		Latitude:  ptr(49.26),
		Longitude: ptr(-123.25),
	}
}

func review(locationID, name string, noise int) catalog.ReviewInput {
	return catalog.ReviewInput{
		Name:       name,
		TextReview: "Quiet enough to read for hours.",
		NoiseLevel: ptr(noise),
		BusyLevel:  ptr(3),
		Location:   locationID,
		Weather:    catalog.WeatherCloudy,
	}
}

func mustLocation(t *testing.T, svc *catalog.Service, address string) *catalog.Location {
	t.Helper()
	loc, err := svc.CreateLocation(context.Background(), location(address))
	if err != nil {
		t.Fatalf("CreateLocation(%q) error = %v", address, err)
	}
	return loc
}

func mustReview(t *testing.T, svc *catalog.Service, locationID, name string, noise int) *catalog.Review {
	t.Helper()
	r, err := svc.CreateReview(context.Background(), review(locationID, name, noise))
	if err != nil {
		t.Fatalf("CreateReview(%s, %s) error = %v", locationID, name, err)
	}
	return r
}

func assertAggregates(t *testing.T, svc *catalog.Service, id string, wantRating float64, wantCount int) {
	t.Helper()
	loc, err := svc.GetLocation(context.Background(), id)
	if err != nil {
		t.Fatalf("GetLocation(%s) error = %v", id, err)
	}
	if math.Abs(loc.Rating-wantRating) > 1e-9 || loc.NumReviews != wantCount {
		t.Errorf("location %s aggregates = (%v, %d), want (%v, %d)", id, loc.Rating, loc.NumReviews, wantRating, wantCount)
	}
}

func testCreateLocationStartsEmpty(t *testing.T, svc *catalog.Service, _ catalog.Store) {
	loc := mustLocation(t, svc, "1958 Main Mall")
	if loc.ID == "" {
		t.Fatal("expected generated id")
	}
	if loc.Rating != 0 || loc.NumReviews != 0 {
		t.Errorf("new location aggregates = (%v, %d), want (0, 0)", loc.Rating, loc.NumReviews)
	}
	assertAggregates(t, svc, loc.ID, 0, 0)
}

func testDuplicateAddress(t *testing.T, svc *catalog.Service, _ catalog.Store) {
	mustLocation(t, svc, "1961 East Mall")
	_, err := svc.CreateLocation(context.Background(), location("  1961   EAST mall "))
	if !errors.Is(err, catalog.ErrDuplicate) {
		t.Errorf("CreateLocation duplicate error = %v, want ErrDuplicate", err)
	}
}

func testListLocationsInsertionOrder(t *testing.T, svc *catalog.Service, _ catalog.Store) {
	var want []string
	for i := 0; i < 5; i++ {
		want = append(want, mustLocation(t, svc, fmt.Sprintf("%d Agronomy Rd", i)).ID)
	}

	got, err := svc.ListLocations(context.Background(), catalog.LocationFilter{})
	if err != nil {
		t.Fatalf("ListLocations error = %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("ListLocations len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("ListLocations[%d] = %s, want %s", i, got[i].ID, want[i])
		}
	}
}

func testListLocationsFilter(t *testing.T, svc *catalog.Service, _ catalog.Store) {
	ctx := context.Background()
	lib := location("1 Library Way")
	lib.Category = "library"
	quiet, err := svc.CreateLocation(ctx, lib)
	if err != nil {
		t.Fatal(err)
	}
	cafe := location("2 Cafe Row")
	cafe.Category = "cafe"
	loud, err := svc.CreateLocation(ctx, cafe)
	if err != nil {
		t.Fatal(err)
	}
	mustReview(t, svc, quiet.ID, "a", 5)
	mustReview(t, svc, loud.ID, "b", 2)

	byCategory, err := svc.ListLocations(ctx, catalog.LocationFilter{Category: "LIBRARY"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byCategory) != 1 || byCategory[0].ID != quiet.ID {
		t.Errorf("category filter = %+v, want only %s", byCategory, quiet.ID)
	}

	byRating, err := svc.ListLocations(ctx, catalog.LocationFilter{MinRating: 4})
	if err != nil {
		t.Fatal(err)
	}
	if len(byRating) != 1 || byRating[0].ID != quiet.ID {
		t.Errorf("minRating filter = %+v, want only %s", byRating, quiet.ID)
	}
}

func testReviewAggregates(t *testing.T, svc *catalog.Service, _ catalog.Store) {
	loc := mustLocation(t, svc, "Main Library")

	mustReview(t, svc, loc.ID, "first", 5)
	assertAggregates(t, svc, loc.ID, 5, 1)

	mustReview(t, svc, loc.ID, "second", 3)
	assertAggregates(t, svc, loc.ID, 4, 2)

	reviews, err := svc.ListLocationReviews(context.Background(), loc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(reviews) != 2 || reviews[0].Name != "first" || reviews[1].Name != "second" {
		t.Errorf("ListLocationReviews = %+v, want [first second]", reviews)
	}
}

func testReviewUnknownLocation(t *testing.T, svc *catalog.Service, _ catalog.Store) {
	_, err := svc.CreateReview(context.Background(), review("missing-location", "ghost", 3))
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("CreateReview error = %v, want ErrNotFound", err)
	}

	all, err := svc.ListReviews(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("ListReviews = %d reviews, want 0", len(all))
	}
}

func testUpdateReviewOwnership(t *testing.T, svc *catalog.Service, _ catalog.Store) {
	ctx := context.Background()
	loc := mustLocation(t, svc, "Koerner Library")
	r := mustReview(t, svc, loc.ID, "owner", 2)

	_, err := svc.UpdateReview(ctx, r.ID, catalog.ReviewPatch{Name: "intruder", NoiseLevel: ptr(5)})
	if !errors.Is(err, catalog.ErrForbidden) {
		t.Fatalf("UpdateReview wrong name error = %v, want ErrForbidden", err)
	}
	got, err := svc.GetReview(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.NoiseLevel != 2 {
		t.Errorf("review changed after forbidden update: noiseLevel = %d", got.NoiseLevel)
	}
	assertAggregates(t, svc, loc.ID, 2, 1)

	_, err = svc.UpdateReview(ctx, "missing-review", catalog.ReviewPatch{Name: "owner"})
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("UpdateReview missing error = %v, want ErrNotFound", err)
	}

	updated, err := svc.UpdateReview(ctx, r.ID, catalog.ReviewPatch{Name: "owner", NoiseLevel: ptr(4)})
	if err != nil {
		t.Fatalf("UpdateReview owner error = %v", err)
	}
	if updated.NoiseLevel != 4 || updated.TextReview != r.TextReview {
		t.Errorf("UpdateReview result = %+v", updated)
	}
	assertAggregates(t, svc, loc.ID, 4, 1)
}

func testUpdateReviewMovesLocation(t *testing.T, svc *catalog.Service, _ catalog.Store) {
	ctx := context.Background()
	from := mustLocation(t, svc, "Old Spot")
	to := mustLocation(t, svc, "New Spot")
	r := mustReview(t, svc, from.ID, "mover", 4)
	mustReview(t, svc, from.ID, "stayer", 2)

	_, err := svc.UpdateReview(ctx, r.ID, catalog.ReviewPatch{Name: "mover", Location: ptr("nowhere")})
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("move to unknown location error = %v, want ErrNotFound", err)
	}

	if _, err := svc.UpdateReview(ctx, r.ID, catalog.ReviewPatch{Name: "mover", Location: ptr(to.ID)}); err != nil {
		t.Fatalf("move review error = %v", err)
	}
	assertAggregates(t, svc, from.ID, 2, 1)
	assertAggregates(t, svc, to.ID, 4, 1)
}

func testUpdateReviewInvalidPatch(t *testing.T, svc *catalog.Service, _ catalog.Store) {
	loc := mustLocation(t, svc, "Nitobe Garden")
	r := mustReview(t, svc, loc.ID, "owner", 3)

	_, err := svc.UpdateReview(context.Background(), r.ID, catalog.ReviewPatch{Name: "owner", NoiseLevel: ptr(6)})
	var ve *catalog.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("UpdateReview invalid error = %v, want *ValidationError", err)
	}
	assertAggregates(t, svc, loc.ID, 3, 1)
}

func testDeleteReview(t *testing.T, svc *catalog.Service, _ catalog.Store) {
	ctx := context.Background()
	loc := mustLocation(t, svc, "The Nest")
	a := mustReview(t, svc, loc.ID, "alpha", 5)
	mustReview(t, svc, loc.ID, "beta", 1)

	if _, err := svc.DeleteReview(ctx, a.ID, "beta"); !errors.Is(err, catalog.ErrForbidden) {
		t.Fatalf("DeleteReview wrong name error = %v, want ErrForbidden", err)
	}
	if _, err := svc.DeleteReview(ctx, a.ID, ""); !errors.Is(err, catalog.ErrForbidden) {
		t.Fatalf("DeleteReview empty name error = %v, want ErrForbidden", err)
	}
	assertAggregates(t, svc, loc.ID, 3, 2)

	deleted, err := svc.DeleteReview(ctx, a.ID, "alpha")
	if err != nil {
		t.Fatalf("DeleteReview error = %v", err)
	}
	if deleted.ID != a.ID {
		t.Errorf("DeleteReview returned %s, want %s", deleted.ID, a.ID)
	}
	assertAggregates(t, svc, loc.ID, 1, 1)

	if _, err := svc.GetReview(ctx, a.ID); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("GetReview after delete error = %v, want ErrNotFound", err)
	}
	if _, err := svc.DeleteReview(ctx, a.ID, "alpha"); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("second DeleteReview error = %v, want ErrNotFound", err)
	}
}

func testDeleteLocation(t *testing.T, svc *catalog.Service, _ catalog.Store) {
	ctx := context.Background()
	loc := mustLocation(t, svc, "Rose Garden")
	r := mustReview(t, svc, loc.ID, "owner", 3)

	if _, err := svc.DeleteLocation(ctx, loc.ID); !errors.Is(err, catalog.ErrConflict) {
		t.Fatalf("DeleteLocation with reviews error = %v, want ErrConflict", err)
	}
	if _, err := svc.DeleteReview(ctx, r.ID, "owner"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.DeleteLocation(ctx, loc.ID); err != nil {
		t.Fatalf("DeleteLocation error = %v", err)
	}
	if _, err := svc.GetLocation(ctx, loc.ID); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("GetLocation after delete error = %v, want ErrNotFound", err)
	}

	// The address is free again.
	mustLocation(t, svc, "Rose Garden")
}

func testRecomputeAllIsIdempotent(t *testing.T, svc *catalog.Service, _ catalog.Store) {
	loc := mustLocation(t, svc, "Buchanan Tower")
	mustReview(t, svc, loc.ID, "a", 2)
	mustReview(t, svc, loc.ID, "b", 5)

	fixed, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile error = %v", err)
	}
	if fixed != 0 {
		t.Errorf("Reconcile fixed %d locations on a consistent store, want 0", fixed)
	}
	assertAggregates(t, svc, loc.ID, 3.5, 2)
}

func testConcurrentReviews(t *testing.T, svc *catalog.Service, _ catalog.Store) {
	loc := mustLocation(t, svc, "Woodward Library")

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			noise := i%5 + 1
			if _, err := svc.CreateReview(context.Background(), review(loc.ID, fmt.Sprintf("writer-%d", i), noise)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent CreateReview error = %v", err)
	}

	sum := 0
	for i := 0; i < writers; i++ {
		sum += i%5 + 1
	}
	assertAggregates(t, svc, loc.ID, float64(sum)/writers, writers)
}
