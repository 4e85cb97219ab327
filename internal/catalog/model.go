// Package catalog holds the quiet-space directory: locations, the reviews
// posted against them, and the rules that keep each location's derived
// rating and review count in step with its reviews.
package catalog

import (
	"strings"
	"time"
)

// Weather is the sky condition a reviewer reports with their visit.
type Weather string

const (
	WeatherRainy        Weather = "rainy"
	WeatherCloudy       Weather = "cloudy"
	WeatherSunny        Weather = "sunny"
	WeatherPartlyCloudy Weather = "partly_cloudy"
	WeatherSnowy        Weather = "snowy"
)

// Location is a study spot on the map. Rating and NumReviews are derived
// from the location's reviews and are only ever written by a Store.
type Location struct {
	ID          string    `json:"id"`
	Address     string    `json:"address"`
	Longitude   float64   `json:"longitude"`
	Latitude    float64   `json:"latitude"`
	Rating      float64   `json:"rating"`
	NumReviews  int       `json:"numReviews"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	Amenities   []string  `json:"amenities,omitempty"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AddressKey is the normalized form used for address uniqueness.
func AddressKey(address string) string {
	return strings.ToLower(strings.Join(strings.Fields(address), " "))
}

// Review is one visit report. Higher NoiseLevel means quieter, higher
// BusyLevel means less busy. Name doubles as the ownership token.
type Review struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	TextReview string    `json:"textReview"`
	NoiseLevel int       `json:"noiseLevel"`
	BusyLevel  int       `json:"busyLevel"`
	Location   string    `json:"location"`
	Weather    Weather   `json:"weather"`
	Datetime   time.Time `json:"datetime"`
}

// LocationFilter narrows ListLocations. Zero values match everything.
type LocationFilter struct {
	Category  string
	MinRating float64
}

// IsZero reports whether the filter matches every location.
func (f LocationFilter) IsZero() bool {
	return f.Category == "" && f.MinRating == 0
}

// Match applies the filter to one location.
func (f LocationFilter) Match(l *Location) bool {
	if f.Category != "" && !strings.EqualFold(l.Category, f.Category) {
		return false
	}
	return l.Rating >= f.MinRating
}

// Aggregate computes the derived fields of a location from the noise
// levels of its reviews.
func Aggregate(noiseLevels []int) (rating float64, count int) {
	if len(noiseLevels) == 0 {
		return 0, 0
	}
	sum := 0
	for _, n := range noiseLevels {
		sum += n
	}
	return float64(sum) / float64(len(noiseLevels)), len(noiseLevels)
}
