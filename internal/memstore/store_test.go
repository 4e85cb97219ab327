package memstore

import (
	"context"
	"testing"

	"github.com/smukkama/calmcorners/internal/catalog"
	"github.com/smukkama/calmcorners/internal/catalog/catalogtest"
)

func TestStoreConformance(t *testing.T) {
	catalogtest.Run(t, func(t *testing.T) catalog.Store { return New() })
}

func TestRecomputeAllRepairsDrift(t *testing.T) {
	ctx := context.Background()
	s := New()

	loc := &catalog.Location{ID: "loc-1", Address: "2329 West Mall"}
	if err := s.CreateLocation(ctx, loc); err != nil {
		t.Fatal(err)
	}
	for i, noise := range []int{1, 5} {
		r := &catalog.Review{ID: string(rune('a' + i)), Name: "n", NoiseLevel: noise, Location: loc.ID}
		if err := s.CreateReview(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	s.SetAggregates(loc.ID, 1.5, 7)

	fixed, err := s.RecomputeAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if fixed != 1 {
		t.Errorf("RecomputeAll fixed = %d, want 1", fixed)
	}

	got, _ := s.GetLocation(ctx, loc.ID)
	if got.Rating != 3 || got.NumReviews != 2 {
		t.Errorf("aggregates after repair = (%v, %d), want (3, 2)", got.Rating, got.NumReviews)
	}
}

func TestCreateLocationIgnoresSuppliedAggregates(t *testing.T) {
	s := New()
	loc := &catalog.Location{ID: "loc-1", Address: "6000 Student Union Blvd", Rating: 4.5, NumReviews: 10}
	if err := s.CreateLocation(context.Background(), loc); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetLocation(context.Background(), "loc-1")
	if got.Rating != 0 || got.NumReviews != 0 {
		t.Errorf("aggregates = (%v, %d), want (0, 0)", got.Rating, got.NumReviews)
	}
}

func TestReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	loc := &catalog.Location{ID: "loc-1", Address: "1 Copy Ln", Amenities: []string{"wifi"}}
	if err := s.CreateLocation(ctx, loc); err != nil {
		t.Fatal(err)
	}
	loc.Amenities[0] = "changed"

	got, _ := s.GetLocation(ctx, "loc-1")
	got.Amenities[0] = "changed again"
	got.Rating = 5

	again, _ := s.GetLocation(ctx, "loc-1")
	if again.Amenities[0] != "wifi" || again.Rating != 0 {
		t.Errorf("store state leaked through returned pointer: %+v", again)
	}
}
