// Package validation checks trigger requests with go-playground/validator
// using a shared instance and the custom tags scope and setid.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/mappy4ever/tcgsync/internal/domain"
)

var (
	ErrInvalidScope = errors.New("invalid sync type")
	ErrMissingSetID = errors.New("setId is required for set sync")
	ErrInvalidSetID = errors.New("invalid setId")
)

// Upstream set ids look like base1, sv03.5, swsh12pt5 or A1a.
var setIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func IsValidSetID(s string) bool {
	return setIDRe.MatchString(s)
}

// Validator returns the shared instance with the custom tags registered.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		must(v.RegisterValidation("scope", func(fl validator.FieldLevel) bool {
			return domain.SyncScope(fl.Field().String()).Valid()
		}))
		must(v.RegisterValidation("setid", func(fl validator.FieldLevel) bool {
			return IsValidSetID(fl.Field().String())
		}))
		validate = v
	})
	return validate
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// ValidateSyncRequest normalizes and checks req. Failures wrap
// ErrInvalidScope, ErrMissingSetID or ErrInvalidSetID.
func ValidateSyncRequest(req *domain.SyncRequest) error {
	if req == nil {
		return fmt.Errorf("%w: empty request", ErrInvalidScope)
	}
	req.Type = domain.SyncScope(strings.ToLower(strings.TrimSpace(string(req.Type))))
	req.SetID = strings.TrimSpace(req.SetID)
	if req.Type != domain.SyncScopeSet {
		req.SetID = ""
	}

	err := Validator().Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	fe := fieldErrs[0]
	switch fe.Field() {
	case "Type":
		return fmt.Errorf("%w: %q (expected full, delta or set)", ErrInvalidScope, req.Type)
	case "SetID":
		if fe.Tag() == "required_if" {
			return ErrMissingSetID
		}
		return fmt.Errorf("%w: %q", ErrInvalidSetID, req.SetID)
	}
	return err
}
