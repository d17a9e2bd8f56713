package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	orcherrors "github.com/randalmurphal/orch/internal/errors"
	"github.com/randalmurphal/orch/internal/task"
)

// maxBodySize bounds request and webhook bodies.
const maxBodySize = 5 << 20

// requestValidator wraps go-playground/validator and reports the first
// failing field by its JSON name.
type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("tasktype", func(fl validator.FieldLevel) bool {
		return task.Type(fl.Field().String()).IsValid()
	})
	return &requestValidator{validate: v}
}

// Validate checks a struct against its validate tags.
func (v *requestValidator) Validate(i any) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		if fe.Tag() == "tasktype" {
			return orcherrors.ErrInvalidTaskType(fmt.Sprint(fe.Value()))
		}
		return orcherrors.ErrInvalidRequest(fmt.Sprintf("%s failed on '%s' validation", fe.Field(), fe.Tag()))
	}
	return orcherrors.ErrInvalidRequest(err.Error())
}

// decode reads a JSON body into dst and validates it. An empty body leaves
// dst at its zero value before validation.
func (s *Server) decode(r *http.Request, dst any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		return orcherrors.ErrInvalidRequest("invalid JSON body: " + err.Error())
	}
	return s.validator.Validate(dst)
}
