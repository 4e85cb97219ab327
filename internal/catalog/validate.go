package catalog

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// MinTextReviewLength mirrors the submission form's minimum review length.
const MinTextReviewLength = 10

// LocationInput is the body accepted by CreateLocation. Coordinates are
// pointers so that a missing value is distinguishable from 0.
type LocationInput struct {
	Address     string   `json:"address" validate:"notblank"`
	Longitude   *float64 `json:"longitude" validate:"required,longitude"`
	Latitude    *float64 `json:"latitude" validate:"required,latitude"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Amenities   []string `json:"amenities,omitempty"`
	ImageURL    string   `json:"imageUrl,omitempty"`
}

// ReviewInput is the body accepted by CreateReview.
type ReviewInput struct {
	Name       string  `json:"name" validate:"notblank,max=64"`
	TextReview string  `json:"textReview" validate:"notblank,min=10,max=2000"`
	NoiseLevel *int    `json:"noiseLevel" validate:"required,min=1,max=5"`
	BusyLevel  *int    `json:"busyLevel" validate:"required,min=1,max=5"`
	Location   string  `json:"location" validate:"notblank"`
	Weather    Weather `json:"weather" validate:"required,oneof=rainy cloudy sunny partly_cloudy snowy"`
	Datetime   string  `json:"datetime,omitempty" validate:"omitempty,rfc3339"`
}

// ReviewPatch is the body accepted by UpdateReview. Name is the ownership
// token; every other field is applied only when present.
type ReviewPatch struct {
	Name       string   `json:"name"`
	TextReview *string  `json:"textReview,omitempty"`
	NoiseLevel *int     `json:"noiseLevel,omitempty"`
	BusyLevel  *int     `json:"busyLevel,omitempty"`
	Location   *string  `json:"location,omitempty"`
	Weather    *Weather `json:"weather,omitempty"`
	Datetime   *string  `json:"datetime,omitempty"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Report fields under their JSON names.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})

		_ = validate.RegisterValidation("notblank", validators.NotBlank)
		_ = validate.RegisterValidation("rfc3339", func(fl validator.FieldLevel) bool {
			_, err := time.Parse(time.RFC3339, fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// validateStruct runs the tag rules on s and collects every failure.
func validateStruct(s interface{}) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Fields: []FieldError{{Field: "body", Message: err.Error()}}}
	}

	out := &ValidationError{Fields: make([]FieldError, 0, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Message: translate(fe)})
	}
	return out
}

var simpleMessages = map[string]string{
	"required":  "%s is required",
	"notblank":  "%s is required",
	"latitude":  "%s must be a valid latitude (-90 to 90)",
	"longitude": "%s must be a valid longitude (-180 to 180)",
	"rfc3339":   "%s must be an RFC 3339 timestamp",
}

func translate(fe validator.FieldError) string {
	field := fe.Field()
	if tmpl, ok := simpleMessages[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, field)
	}

	isString := fe.Kind() == reflect.String
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min":
		if isString {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if isString {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// Normalize trims the free-text fields in place.
func (in *LocationInput) Normalize() {
	in.Address = strings.TrimSpace(in.Address)
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Category = strings.TrimSpace(in.Category)
	in.ImageURL = strings.TrimSpace(in.ImageURL)
}

// Validate checks the input and returns a *ValidationError listing every problem.
func (in *LocationInput) Validate() error {
	return validateStruct(in)
}

// Normalize trims the free-text fields in place.
func (in *ReviewInput) Normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.TextReview = strings.TrimSpace(in.TextReview)
	in.Location = strings.TrimSpace(in.Location)
	in.Weather = Weather(strings.TrimSpace(string(in.Weather)))
	in.Datetime = strings.TrimSpace(in.Datetime)
}

// Validate checks the input and returns a *ValidationError listing every problem.
func (in *ReviewInput) Validate() error {
	return validateStruct(in)
}

// toReview converts a validated input. now is used when Datetime is empty.
// Timestamps keep millisecond precision, the finest every store can hold.
func (in *ReviewInput) toReview(id string, now time.Time) Review {
	ts := now
	if in.Datetime != "" {
		// Validate has already accepted the format.
		if parsed, err := time.Parse(time.RFC3339, in.Datetime); err == nil {
			ts = parsed
		}
	}
	ts = ts.UTC().Truncate(time.Millisecond)
	return Review{
		ID:         id,
		Name:       in.Name,
		TextReview: in.TextReview,
		NoiseLevel: *in.NoiseLevel,
		BusyLevel:  *in.BusyLevel,
		Location:   in.Location,
		Weather:    in.Weather,
		Datetime:   ts,
	}
}

// apply merges the patch over r, revalidates the result under the creation
// rules and writes it back into r. r is left untouched on error.
func (p *ReviewPatch) apply(r *Review) error {
	noise, busy := r.NoiseLevel, r.BusyLevel
	merged := ReviewInput{
		Name:       r.Name,
		TextReview: r.TextReview,
		NoiseLevel: &noise,
		BusyLevel:  &busy,
		Location:   r.Location,
		Weather:    r.Weather,
		Datetime:   r.Datetime.Format(time.RFC3339Nano),
	}
	if p.TextReview != nil {
		merged.TextReview = *p.TextReview
	}
	if p.NoiseLevel != nil {
		merged.NoiseLevel = p.NoiseLevel
	}
	if p.BusyLevel != nil {
		merged.BusyLevel = p.BusyLevel
	}
	if p.Location != nil {
		merged.Location = *p.Location
	}
	if p.Weather != nil {
		merged.Weather = *p.Weather
	}
	if p.Datetime != nil {
		merged.Datetime = *p.Datetime
	}

	merged.Normalize()
	if err := merged.Validate(); err != nil {
		return err
	}
	*r = merged.toReview(r.ID, r.Datetime)
	return nil
}
