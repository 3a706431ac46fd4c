package shared

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxRequestBytes bounds request bodies; task payloads are small by contract.
const MaxRequestBytes = 1 << 20

// ErrRequestTooLarge is returned by DecodeJSON when the body exceeds
// MaxRequestBytes.
var ErrRequestTooLarge = errors.New("request body too large")

var (
	queueNamePattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
	taskIDPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// Global validator instance for reuse
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON field names in validation errors.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails for empty tags or nil functions.
	_ = v.RegisterValidation("queuename", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return len(s) <= 100 && queueNamePattern.MatchString(s)
	})
	_ = v.RegisterValidation("taskid", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return len(s) <= 500 && taskIDPattern.MatchString(s)
	})
	return v
}

// DecodeJSON decodes the request body into the given struct. An empty body
// leaves v untouched.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBytes))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.As(err, &tooLarge):
			return fmt.Errorf("%w: limit is %d bytes", ErrRequestTooLarge, tooLarge.Limit)
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// ValidateRequest validates the given struct using the validator package.
func ValidateRequest(v interface{}) error {
	// Check if the object implements the Validate interface
	if validator, ok := v.(interface{ Validate() error }); ok {
		return validator.Validate()
	}

	// Otherwise, use the struct validator
	return validate.Struct(v)
}

// ValidateVar validates a single value against a tag such as "queuename".
func ValidateVar(value interface{}, tag string) error {
	return validate.Var(value, tag)
}
