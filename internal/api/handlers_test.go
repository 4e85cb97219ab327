package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/smukkama/calmcorners/internal/catalog"
	"github.com/smukkama/calmcorners/internal/memstore"
)

func newTestRouter(t *testing.T) (http.Handler, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	t.Cleanup(func() { _ = store.Close() })
	return NewRouter(catalog.NewService(store), Config{CORSOrigins: []string{"http://localhost:5173"}}), store
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

const mainLibrary = `{"address":"1961 East Mall, Vancouver","latitude":49.2606,"longitude":-123.2460,"name":"Main Library","category":"library"}`

func createLocation(t *testing.T, h http.Handler, body string) catalog.Location {
	t.Helper()
	w := do(t, h, http.MethodPost, "/api/locations", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /api/locations = %d: %s", w.Code, w.Body.String())
	}
	return decode[catalog.Location](t, w)
}

func reviewBody(t *testing.T, locationID, name string, noise int) string {
	t.Helper()
	return mustJSON(t, map[string]interface{}{
		"name":       name,
		"textReview": "Quiet enough to hear the radiators.",
		"noiseLevel": noise,
		"busyLevel":  3,
		"location":   locationID,
		"weather":    "rainy",
	})
}

func createReview(t *testing.T, h http.Handler, body string) catalog.Review {
	t.Helper()
	w := do(t, h, http.MethodPost, "/api/reviews", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /api/reviews = %d: %s", w.Code, w.Body.String())
	}
	return decode[catalog.Review](t, w)
}

func TestRootBanner(t *testing.T) {
	h, _ := newTestRouter(t)
	w := do(t, h, http.MethodGet, "/", "")
	if w.Code != http.StatusOK || w.Body.String() != Banner {
		t.Errorf("GET / = %d %q", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}
}

func TestRequestIDPropagated(t *testing.T) {
	h, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

type unreachableStore struct {
	catalog.Store
}

func (unreachableStore) Ping(context.Context) error {
	return errors.New("dial tcp 127.0.0.1:5432: connection refused")
}

func TestHealth(t *testing.T) {
	h, _ := newTestRouter(t)

	w := do(t, h, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := decode[HealthStatus](t, w); got.Status != "healthy" {
		t.Errorf("status = %q", got.Status)
	}

	down := NewRouter(catalog.NewService(unreachableStore{memstore.New()}), Config{})
	w = do(t, down, http.MethodGet, "/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /health with store down = %d, want 503", w.Code)
	}
	if got := decode[HealthStatus](t, w); got.Status != "unhealthy" {
		t.Errorf("status = %q, want unhealthy", got.Status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestRouter(t)
	do(t, h, http.MethodGet, "/api/locations", "")

	w := do(t, h, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "calmcorners_http_request_duration_seconds") {
		t.Error("request duration histogram missing from /metrics")
	}
}

func TestCreateLocation(t *testing.T) {
	h, _ := newTestRouter(t)

	loc := createLocation(t, h, mainLibrary)
	if loc.ID == "" || loc.Rating != 0 || loc.NumReviews != 0 {
		t.Errorf("created location = %+v", loc)
	}

	w := do(t, h, http.MethodPost, "/api/locations", `{"address":"1961  EAST mall, vancouver","latitude":1,"longitude":1}`)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate address = %d, want 409", w.Code)
	}
	if got := decode[ErrorResponse](t, w); got.Code != CodeDuplicate {
		t.Errorf("code = %q, want %q", got.Code, CodeDuplicate)
	}
}

func TestCreateLocationValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"malformed", `{"address":`},
		{"non-numeric latitude", `{"address":"x","latitude":"north","longitude":1}`},
		{"missing coordinates", `{"address":"2329 West Mall"}`},
		{"latitude out of range", `{"address":"2329 West Mall","latitude":91,"longitude":0}`},
		{"blank address", `{"address":"   ","latitude":1,"longitude":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestRouter(t)
			w := do(t, h, http.MethodPost, "/api/locations", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
			}
			got := decode[ErrorResponse](t, w)
			if got.Code != CodeValidation || len(got.Errors) == 0 {
				t.Errorf("error body = %+v", got)
			}

			list := decode[[]catalog.Location](t, do(t, h, http.MethodGet, "/api/locations", ""))
			if len(list) != 0 {
				t.Errorf("rejected create stored %d locations", len(list))
			}
		})
	}
}

func TestListLocationsFilters(t *testing.T) {
	h, _ := newTestRouter(t)
	lib := createLocation(t, h, mainLibrary)
	createLocation(t, h, `{"address":"6138 Student Union Blvd","latitude":49.2665,"longitude":-123.2500,"category":"cafe"}`)
	createReview(t, h, reviewBody(t, lib.ID, "Alice", 5))

	if list := decode[[]catalog.Location](t, do(t, h, http.MethodGet, "/api/locations", "")); len(list) != 2 {
		t.Fatalf("unfiltered list = %d locations, want 2", len(list))
	}
	list := decode[[]catalog.Location](t, do(t, h, http.MethodGet, "/api/locations?category=LIBRARY", ""))
	if len(list) != 1 || list[0].ID != lib.ID {
		t.Errorf("category filter = %+v", list)
	}
	list = decode[[]catalog.Location](t, do(t, h, http.MethodGet, "/api/locations?minRating=4.5", ""))
	if len(list) != 1 || list[0].ID != lib.ID {
		t.Errorf("minRating filter = %+v", list)
	}

	if w := do(t, h, http.MethodGet, "/api/locations?minRating=loud", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad minRating = %d, want 400", w.Code)
	}
}

func TestGetLocationNotFound(t *testing.T) {
	h, _ := newTestRouter(t)
	for _, target := range []string{"/api/locations/nope", "/api/locations/nope/reviews", "/api/reviews/nope"} {
		w := do(t, h, http.MethodGet, target, "")
		if w.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", target, w.Code)
		}
		if got := decode[ErrorResponse](t, w); got.Code != CodeNotFound {
			t.Errorf("GET %s code = %q", target, got.Code)
		}
	}
}

// Two reviews with noise 5 and 4 leave the location at 4.5 over 2 reviews;
// updating and deleting keep the aggregates in step.
func TestMainLibraryScenario(t *testing.T) {
	h, _ := newTestRouter(t)
	lib := createLocation(t, h, mainLibrary)

	r1 := createReview(t, h, reviewBody(t, lib.ID, "Alice", 5))
	createReview(t, h, reviewBody(t, lib.ID, "Bob", 4))

	got := decode[catalog.Location](t, do(t, h, http.MethodGet, "/api/locations/"+lib.ID, ""))
	if got.Rating != 4.5 || got.NumReviews != 2 {
		t.Fatalf("after two reviews = (%v, %d), want (4.5, 2)", got.Rating, got.NumReviews)
	}

	w := do(t, h, http.MethodPatch, "/api/reviews/"+r1.ID, `{"name":"Alice","noiseLevel":2}`)
	if w.Code != http.StatusOK {
		t.Fatalf("PATCH = %d: %s", w.Code, w.Body.String())
	}
	updated := decode[catalog.Review](t, w)
	if updated.NoiseLevel != 2 || updated.TextReview != r1.TextReview {
		t.Errorf("patched review = %+v", updated)
	}
	got = decode[catalog.Location](t, do(t, h, http.MethodGet, "/api/locations/"+lib.ID, ""))
	if got.Rating != 3 || got.NumReviews != 2 {
		t.Errorf("after update = (%v, %d), want (3, 2)", got.Rating, got.NumReviews)
	}

	reviews := decode[[]catalog.Review](t, do(t, h, http.MethodGet, "/api/locations/"+lib.ID+"/reviews", ""))
	if len(reviews) != 2 || reviews[0].ID != r1.ID {
		t.Errorf("location reviews = %+v", reviews)
	}
	reviews = decode[[]catalog.Review](t, do(t, h, http.MethodGet, "/api/reviews?locationId="+lib.ID, ""))
	if len(reviews) != 2 {
		t.Errorf("reviews by locationId = %d, want 2", len(reviews))
	}

	w = do(t, h, http.MethodDelete, "/api/reviews/"+r1.ID, `{"name":"Alice"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("DELETE = %d: %s", w.Code, w.Body.String())
	}
	got = decode[catalog.Location](t, do(t, h, http.MethodGet, "/api/locations/"+lib.ID, ""))
	if got.Rating != 4 || got.NumReviews != 1 {
		t.Errorf("after delete = (%v, %d), want (4, 1)", got.Rating, got.NumReviews)
	}
}

func TestCreateReviewUnknownLocation(t *testing.T) {
	h, _ := newTestRouter(t)
	w := do(t, h, http.MethodPost, "/api/reviews", reviewBody(t, "missing", "Alice", 3))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestCreateReviewValidation(t *testing.T) {
	h, _ := newTestRouter(t)
	lib := createLocation(t, h, mainLibrary)

	w := do(t, h, http.MethodPost, "/api/reviews", mustJSON(t, map[string]interface{}{
		"name": "Alice", "textReview": "short", "noiseLevel": 6, "busyLevel": 0,
		"location": lib.ID, "weather": "foggy",
	}))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	fields := map[string]bool{}
	for _, fe := range decode[ErrorResponse](t, w).Errors {
		fields[fe.Field] = true
	}
	for _, f := range []string{"textReview", "noiseLevel", "busyLevel", "weather"} {
		if !fields[f] {
			t.Errorf("missing field error for %s in %v", f, fields)
		}
	}
}

func TestCreateReviewMistypedFields(t *testing.T) {
	h, _ := newTestRouter(t)
	lib := createLocation(t, h, mainLibrary)

	tests := []struct {
		name  string
		noise string
	}{
		{"quoted integer", `"3"`},
		{"fractional number", `3.5`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"name":"Alice","textReview":"short","noiseLevel":` + tt.noise +
				`,"busyLevel":2,"location":"` + lib.ID + `","weather":"sunny"}`
			w := do(t, h, http.MethodPost, "/api/reviews", body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}

			got := map[string][]string{}
			for _, fe := range decode[ErrorResponse](t, w).Errors {
				got[fe.Field] = append(got[fe.Field], fe.Message)
			}
			if msgs := got["noiseLevel"]; len(msgs) != 1 || msgs[0] != "noiseLevel must be an integer" {
				t.Errorf("noiseLevel errors = %q, want one type error", msgs)
			}
			if len(got["textReview"]) == 0 {
				t.Errorf("textReview violation dropped: %v", got)
			}
			if _, ok := got["NoiseLevel"]; ok {
				t.Errorf("field reported under Go name: %v", got)
			}
			if _, ok := got["body"]; ok {
				t.Errorf("reported as malformed body: %v", got)
			}
		})
	}
}

func TestCreateLocationMistypedCoordinate(t *testing.T) {
	h, _ := newTestRouter(t)

	w := do(t, h, http.MethodPost, "/api/locations", `{"address":"","latitude":"north","longitude":-123.2}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	got := map[string]string{}
	for _, fe := range decode[ErrorResponse](t, w).Errors {
		got[fe.Field] = fe.Message
	}
	if got["latitude"] != "latitude must be a number" {
		t.Errorf("latitude = %q, want type error", got["latitude"])
	}
	if got["address"] == "" {
		t.Errorf("address violation dropped: %v", got)
	}
}

func TestDecodeJSONMalformedBody(t *testing.T) {
	for _, body := range []string{`{"name":`, `[1,2]`} {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		var dst catalog.ReviewInput
		err := decodeJSON(httptest.NewRecorder(), r, &dst)

		var ve *catalog.ValidationError
		if !errors.As(err, &ve) || len(ve.Fields) != 1 || ve.Fields[0].Field != "body" {
			t.Errorf("decode %s = %v, want a single body error", body, err)
		}
	}
}

func TestUpdateReviewForbidden(t *testing.T) {
	h, _ := newTestRouter(t)
	lib := createLocation(t, h, mainLibrary)
	r := createReview(t, h, reviewBody(t, lib.ID, "Alice", 5))

	for _, body := range []string{`{"name":"Mallory","noiseLevel":1}`, `{"noiseLevel":1}`} {
		w := do(t, h, http.MethodPut, "/api/reviews/"+r.ID, body)
		if w.Code != http.StatusForbidden {
			t.Errorf("PUT %s = %d, want 403", body, w.Code)
		}
	}

	got := decode[catalog.Review](t, do(t, h, http.MethodGet, "/api/reviews/"+r.ID, ""))
	if got.NoiseLevel != 5 {
		t.Errorf("forbidden update changed noiseLevel to %d", got.NoiseLevel)
	}
	loc := decode[catalog.Location](t, do(t, h, http.MethodGet, "/api/locations/"+lib.ID, ""))
	if loc.Rating != 5 {
		t.Errorf("forbidden update changed rating to %v", loc.Rating)
	}
}

func TestUpdateReviewInvalidPatch(t *testing.T) {
	h, _ := newTestRouter(t)
	lib := createLocation(t, h, mainLibrary)
	r := createReview(t, h, reviewBody(t, lib.ID, "Alice", 5))

	w := do(t, h, http.MethodPatch, "/api/reviews/"+r.ID, `{"name":"Alice","noiseLevel":9}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	w = do(t, h, http.MethodPatch, "/api/reviews/missing", `{"name":"Alice"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown review = %d, want 404", w.Code)
	}
}

func TestDeleteReviewNameFromQuery(t *testing.T) {
	h, _ := newTestRouter(t)
	lib := createLocation(t, h, mainLibrary)
	r := createReview(t, h, reviewBody(t, lib.ID, "Alice Wong", 5))

	if w := do(t, h, http.MethodDelete, "/api/reviews/"+r.ID+"?name=Bob", ""); w.Code != http.StatusForbidden {
		t.Errorf("wrong name = %d, want 403", w.Code)
	}
	if w := do(t, h, http.MethodDelete, "/api/reviews/"+r.ID, ""); w.Code != http.StatusForbidden {
		t.Errorf("no name = %d, want 403", w.Code)
	}

	w := do(t, h, http.MethodDelete, "/api/reviews/"+r.ID+"?name=Alice%20Wong", "")
	if w.Code != http.StatusOK {
		t.Fatalf("DELETE ?name= = %d: %s", w.Code, w.Body.String())
	}
	if got := decode[catalog.Review](t, w); got.ID != r.ID {
		t.Errorf("deleted review id = %q, want %q", got.ID, r.ID)
	}
	if w := do(t, h, http.MethodGet, "/api/reviews/"+r.ID, ""); w.Code != http.StatusNotFound {
		t.Errorf("GET deleted review = %d, want 404", w.Code)
	}
}

func TestDeleteLocation(t *testing.T) {
	h, _ := newTestRouter(t)
	lib := createLocation(t, h, mainLibrary)
	r := createReview(t, h, reviewBody(t, lib.ID, "Alice", 5))

	w := do(t, h, http.MethodDelete, "/api/locations/"+lib.ID, "")
	if w.Code != http.StatusConflict {
		t.Fatalf("delete with reviews = %d, want 409", w.Code)
	}
	if got := decode[ErrorResponse](t, w); got.Code != CodeConflict {
		t.Errorf("code = %q, want %q", got.Code, CodeConflict)
	}

	do(t, h, http.MethodDelete, "/api/reviews/"+r.ID+"?name=Alice", "")
	if w := do(t, h, http.MethodDelete, "/api/locations/"+lib.ID, ""); w.Code != http.StatusOK {
		t.Errorf("delete without reviews = %d, want 200", w.Code)
	}
	if w := do(t, h, http.MethodDelete, "/api/locations/"+lib.ID, ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	h, _ := newTestRouter(t)
	if w := do(t, h, http.MethodGet, "/api/nothing", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown route = %d, want 404", w.Code)
	}
	w := do(t, h, http.MethodPost, "/api/locations/abc", "{}")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /api/locations/abc = %d, want 405", w.Code)
	}
}

func TestWriteRateLimit(t *testing.T) {
	store := memstore.New()
	t.Cleanup(func() { _ = store.Close() })
	h := NewRouter(catalog.NewService(store), Config{RateLimitEnabled: true, RateLimitPerMin: 1})

	createLocation(t, h, mainLibrary)
	w := do(t, h, http.MethodPost, "/api/locations", `{"address":"2329 West Mall","latitude":1,"longitude":1}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second write = %d, want 429", w.Code)
	}
	if got := decode[ErrorResponse](t, w); got.Code != CodeRateLimit {
		t.Errorf("code = %q, want %q", got.Code, CodeRateLimit)
	}
	if w := do(t, h, http.MethodGet, "/api/locations", ""); w.Code != http.StatusOK {
		t.Errorf("reads are limited: %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/reviews", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestWriteErrorStorageFailure(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	writeError(w, r, &catalog.StorageError{Op: "list locations", Err: errors.New("connection refused")})

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	got := decode[ErrorResponse](t, w)
	if got.Code != CodeStorage || strings.Contains(got.Message, "refused") {
		t.Errorf("storage error leaked details: %+v", got)
	}
}

func TestDecodeJSONBodyTooLarge(t *testing.T) {
	body := bytes.Repeat([]byte("a"), maxBodyBytes+10)
	r := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body)).WithContext(context.Background())
	var dst map[string]string
	err := decodeJSON(httptest.NewRecorder(), r, &dst)

	var ve *catalog.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}
