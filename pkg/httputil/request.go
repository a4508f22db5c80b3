package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseJSON decodes JSON from the request body into dest and runs struct
// validation tags on the result.
func ParseJSON(r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validate.Struct(dest); err != nil {
		if _, ok := err.(*validator.InvalidValidationError); ok {
			return nil
		}
		return describeValidation(err)
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes error response on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

func describeValidation(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", strings.ToLower(fe.Field()), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s is %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("invalid request: %s", strings.Join(parts, "; "))
}

// ParsePathInt64 extracts and parses an int64 path parameter
func ParsePathInt64(r *http.Request, key string) (int64, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return 0, fmt.Errorf("missing path parameter: %s", key)
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %s", key, str)
	}
	return val, nil
}

// ParsePathInt64OrError extracts an int64 path parameter and writes error on failure
func ParsePathInt64OrError(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	val, err := ParsePathInt64(r, key)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return 0, false
	}
	return val, true
}

// ParseQueryInt parses an integer query parameter with a default value
func ParseQueryInt(r *http.Request, key string, defaultVal int) int {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return defaultVal
	}
	return val
}

// ParseQueryString returns a query parameter or the default.
func ParseQueryString(r *http.Request, key, defaultVal string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	return defaultVal
}

// ParseQueryMonth parses a "YYYY-MM" query parameter in loc. A missing
// parameter yields def.
func ParseQueryMonth(r *http.Request, key string, loc *time.Location, def time.Time) (time.Time, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return def, nil
	}
	t, err := time.ParseInLocation("2006-01", str, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month for %s: %s (want YYYY-MM)", key, str)
	}
	return t, nil
}

// ParseQueryDate parses a "YYYY-MM-DD" query parameter in loc.
func ParseQueryDate(r *http.Request, key string, loc *time.Location, def time.Time) (time.Time, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return def, nil
	}
	t, err := time.ParseInLocation("2006-01-02", str, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date for %s: %s (want YYYY-MM-DD)", key, str)
	}
	return t, nil
}
