package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/goccy/go-json"

	"github.com/smukkama/calmcorners/internal/catalog"
	"github.com/smukkama/calmcorners/internal/logging"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Error codes carried in ErrorResponse.Code
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeBadRequest = "BAD_REQUEST"
	CodeNotFound   = "NOT_FOUND"
	CodeForbidden  = "FORBIDDEN"
	CodeDuplicate  = "DUPLICATE"
	CodeConflict   = "CONFLICT"
	CodeStorage    = "STORAGE_ERROR"
	CodeInternal   = "INTERNAL_ERROR"
	CodeRateLimit  = "RATE_LIMITED"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string               `json:"code"`
	Message string               `json:"message"`
	Errors  []catalog.FieldError `json:"errors,omitempty"`
}

// respondJSON sends a JSON response with proper headers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("failed to write JSON response")
	}
}

// respondError sends an error body with the given status.
func respondError(w http.ResponseWriter, status int, code, message string, fields []catalog.FieldError) {
	respondJSON(w, status, &ErrorResponse{Code: code, Message: message, Errors: fields})
}

// writeError maps a service error onto its HTTP status.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *catalog.ValidationError
	var se *catalog.StorageError

	switch {
	case errors.As(err, &ve):
		respondError(w, http.StatusBadRequest, CodeValidation, "validation failed", ve.Fields)
	case errors.Is(err, catalog.ErrNotFound):
		respondError(w, http.StatusNotFound, CodeNotFound, err.Error(), nil)
	case errors.Is(err, catalog.ErrForbidden):
		respondError(w, http.StatusForbidden, CodeForbidden, "name does not match the review's author", nil)
	case errors.Is(err, catalog.ErrDuplicate):
		respondError(w, http.StatusConflict, CodeDuplicate, err.Error(), nil)
	case errors.Is(err, catalog.ErrConflict):
		respondError(w, http.StatusConflict, CodeConflict, err.Error(), nil)
	case errors.As(err, &se):
		logging.Ctx(r.Context()).Error().Err(err).Str("op", se.Op).Msg("storage failure")
		respondError(w, http.StatusInternalServerError, CodeStorage, "storage failure", nil)
	default:
		logging.Ctx(r.Context()).Error().Err(err).Msg("unhandled error")
		respondError(w, http.StatusInternalServerError, CodeInternal, "internal error", nil)
	}
}

// decodeJSON reads the request body into dst. Malformed JSON and values
// of the wrong type come back as a *catalog.ValidationError.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return fieldError("body", "request body is required")
	}
	return unmarshalBody(body, dst)
}

// decodeOptionalJSON is decodeJSON for bodies that may be absent.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body, err := readBody(w, r)
	if err != nil || len(body) == 0 {
		return err
	}
	return unmarshalBody(body, dst)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fieldError("body", fmt.Sprintf("body must not exceed %d bytes", tooLarge.Limit))
		}
		return nil, fieldError("body", "could not read request body")
	}
	return bytes.TrimSpace(body), nil
}

// unmarshalBody decodes a JSON object into the struct dst one field at a
// time, so every value of the wrong type is reported under its JSON name.
// When some fields fail to decode and dst can validate itself, the
// remaining rule violations are reported alongside them.
func unmarshalBody(body []byte, dst interface{}) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		if err := json.Unmarshal(body, dst); err != nil {
			return fieldError("body", "malformed JSON")
		}
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		if !json.Valid(body) {
			return fieldError("body", "malformed JSON")
		}
		return fieldError("body", "body must be a JSON object")
	}

	var fields []catalog.FieldError
	typed := map[string]bool{}
	sv := rv.Elem()
	st := sv.Type()
	for i := 0; i < st.NumField(); i++ {
		sf := st.Field(i)
		name := jsonName(sf)
		if !sf.IsExported() || name == "" {
			continue
		}
		value, ok := lookupKey(raw, name)
		if !ok {
			continue
		}

		ptr := reflect.New(sf.Type)
		if err := json.Unmarshal(value, ptr.Interface()); err != nil {
			fields = append(fields, catalog.FieldError{
				Field:   name,
				Message: fmt.Sprintf("%s must be %s", name, jsonKind(sf.Type)),
			})
			typed[name] = true
			continue
		}
		sv.Field(i).Set(ptr.Elem())
	}
	if len(fields) == 0 {
		return nil
	}

	if n, ok := dst.(interface{ Normalize() }); ok {
		n.Normalize()
	}
	if v, ok := dst.(interface{ Validate() error }); ok {
		var ve *catalog.ValidationError
		if errors.As(v.Validate(), &ve) {
			for _, fe := range ve.Fields {
				if !typed[fe.Field] {
					fields = append(fields, fe)
				}
			}
		}
	}
	return &catalog.ValidationError{Fields: fields}
}

// jsonName returns the key a struct field is decoded from, or "" when the
// field is skipped.
func jsonName(sf reflect.StructField) string {
	tag := sf.Tag.Get("json")
	if tag == "-" {
		return ""
	}
	if name := strings.SplitN(tag, ",", 2)[0]; name != "" {
		return name
	}
	return sf.Name
}

// lookupKey matches keys the way encoding/json does: exact first, then
// case-insensitively.
func lookupKey(raw map[string]json.RawMessage, name string) (json.RawMessage, bool) {
	if v, ok := raw[name]; ok {
		return v, true
	}
	for k, v := range raw {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

func jsonKind(t reflect.Type) string {
	if t == nil {
		return "a valid value"
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "an integer"
	case reflect.Float32, reflect.Float64:
		return "a number"
	case reflect.String:
		return "a string"
	case reflect.Bool:
		return "a boolean"
	case reflect.Slice, reflect.Array:
		return "an array"
	default:
		return "a valid value"
	}
}

func fieldError(field, message string) error {
	return &catalog.ValidationError{Fields: []catalog.FieldError{{Field: field, Message: message}}}
}
