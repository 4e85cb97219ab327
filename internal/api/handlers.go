package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/smukkama/calmcorners/internal/catalog"
)

// Banner is the plain-text body served on GET /.
const Banner = "Quiet Space Finder API is running..."

// Handler serves the catalog over HTTP.
type Handler struct {
	svc       *catalog.Service
	startedAt time.Time
}

// NewHandler creates a handler around svc.
func NewHandler(svc *catalog.Service) *Handler {
	return &Handler{svc: svc, startedAt: time.Now()}
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	Uptime string `json:"uptime"`
	Error  string `json:"error,omitempty"`
}

// Root serves the banner.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(Banner))
}

// Health pings the store. An unreachable store yields 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := HealthStatus{
		Status: "healthy",
		Store:  "connected",
		Uptime: time.Since(h.startedAt).Round(time.Second).String(),
	}
	code := http.StatusOK
	if err := h.svc.Ping(ctx); err != nil {
		status.Status = "unhealthy"
		status.Store = "unreachable"
		status.Error = err.Error()
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, status)
}

// ListLocations handles GET /api/locations?category=&minRating=
func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	filter, err := parseLocationFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	locations, err := h.svc.ListLocations(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, locations)
}

func parseLocationFilter(r *http.Request) (catalog.LocationFilter, error) {
	q := r.URL.Query()
	filter := catalog.LocationFilter{Category: strings.TrimSpace(q.Get("category"))}

	if raw := strings.TrimSpace(q.Get("minRating")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 5 {
			return filter, fieldError("minRating", "minRating must be a number between 0 and 5")
		}
		filter.MinRating = v
	}
	return filter, nil
}

// CreateLocation handles POST /api/locations.
func (h *Handler) CreateLocation(w http.ResponseWriter, r *http.Request) {
	var in catalog.LocationInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	loc, err := h.svc.CreateLocation(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, loc)
}

// GetLocation handles GET /api/locations/{id}.
func (h *Handler) GetLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := h.svc.GetLocation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, loc)
}

// DeleteLocation handles DELETE /api/locations/{id}.
func (h *Handler) DeleteLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := h.svc.DeleteLocation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, loc)
}

// ListLocationReviews handles GET /api/locations/{id}/reviews.
func (h *Handler) ListLocationReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.svc.ListLocationReviews(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, reviews)
}

// ListReviews handles GET /api/reviews?locationId=
func (h *Handler) ListReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.svc.ListReviews(r.Context(), r.URL.Query().Get("locationId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, reviews)
}

// CreateReview handles POST /api/reviews.
func (h *Handler) CreateReview(w http.ResponseWriter, r *http.Request) {
	var in catalog.ReviewInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	review, err := h.svc.CreateReview(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, review)
}

// GetReview handles GET /api/reviews/{id}.
func (h *Handler) GetReview(w http.ResponseWriter, r *http.Request) {
	review, err := h.svc.GetReview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, review)
}

// UpdateReview handles PUT and PATCH /api/reviews/{id}. Both are partial.
func (h *Handler) UpdateReview(w http.ResponseWriter, r *http.Request) {
	var patch catalog.ReviewPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, err)
		return
	}

	review, err := h.svc.UpdateReview(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, review)
}

type deleteReviewRequest struct {
	Name string `json:"name"`
}

// DeleteReview handles DELETE /api/reviews/{id}. The owner's name comes
// from the body, or from ?name= for clients that cannot send a DELETE body.
func (h *Handler) DeleteReview(w http.ResponseWriter, r *http.Request) {
	var req deleteReviewRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		req.Name = r.URL.Query().Get("name")
	}

	review, err := h.svc.DeleteReview(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, review)
}

// NotFound is the JSON 404 for unknown routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, CodeNotFound, "route not found: "+r.URL.Path, nil)
}

// MethodNotAllowed is the JSON 405 for known routes.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusMethodNotAllowed, CodeBadRequest, "method "+r.Method+" not allowed", nil)
}
