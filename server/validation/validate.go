// Package validation decodes and validates API request bodies.
package validation

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/teilomillet/quill/errors"
)

// MaxBodyBytes bounds request bodies.
const MaxBodyBytes = 64 << 10

// maxValueLen bounds echoed invalid values.
const maxValueLen = 64

var (
	validate    = newValidator()
	namePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("filtername", func(fl validator.FieldLevel) bool {
		return namePattern.MatchString(strings.TrimSpace(fl.Field().String()))
	})
	return v
}

// Decode reads a JSON body from r into dst and validates it.
func Decode(w http.ResponseWriter, r *http.Request, requestID string, dst any) *errors.QuillError {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			return errors.NewValidationError(requestID, "Invalid Content-Type header", details(ValidationErrorDetail{
				Field:   "header:Content-Type",
				Message: "Content-Type must be application/json",
				Code:    "invalid_content_type",
				Value:   truncate(ct),
			}))
		}
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return decodeError(requestID, err)
	}
	if dec.More() {
		return errors.NewValidationError(requestID, "Invalid request format", details(ValidationErrorDetail{
			Field:   "body",
			Message: "body must contain a single JSON object",
			Code:    "invalid_json",
		}))
	}
	return Check(requestID, dst)
}

// Check validates v and returns a validation error listing every failed field.
func Check(requestID string, v any) *errors.QuillError {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return errors.NewInternalError(requestID, err)
	}

	out := make([]ValidationErrorDetail, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationErrorDetail{
			Field:   fe.Field(),
			Message: message(fe),
			Code:    fe.Tag() + "_validation_failed",
			Value:   truncate(fmt.Sprintf("%v", fe.Value())),
		})
	}
	return errors.NewValidationError(requestID, "Request validation failed", details(out...))
}

func decodeError(requestID string, err error) *errors.QuillError {
	detail := ValidationErrorDetail{Field: "body", Message: err.Error(), Code: "invalid_json"}

	var maxErr *http.MaxBytesError
	var typeErr *json.UnmarshalTypeError
	switch {
	case stderrors.As(err, &maxErr):
		detail.Message = fmt.Sprintf("body exceeds %d bytes", maxErr.Limit)
		detail.Code = "body_too_large"
	case stderrors.As(err, &typeErr):
		detail.Field = typeErr.Field
		detail.Message = fmt.Sprintf("must be a %s", typeErr.Type)
		detail.Code = "invalid_type"
	case stderrors.Is(err, io.EOF):
		detail.Message = "body is empty"
		detail.Code = "empty_body"
	}
	return errors.NewValidationError(requestID, "Invalid request format", details(detail))
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", fe.Field())
	case "notblank":
		return fmt.Sprintf("field '%s' must not be blank", fe.Field())
	case "max":
		return fmt.Sprintf("field '%s' must be at most %s characters", fe.Field(), fe.Param())
	case "filtername":
		return fmt.Sprintf("field '%s' may only contain letters, digits and underscores", fe.Field())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("validation failed: %s", fe.Error())
	}
}

func details(d ...ValidationErrorDetail) map[string]interface{} {
	return map[string]interface{}{"errors": d}
}

func truncate(s string) string {
	if len(s) <= maxValueLen {
		return s
	}
	return s[:maxValueLen] + "..."
}
