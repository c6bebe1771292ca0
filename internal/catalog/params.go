package catalog

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// ErrValidation marks parameters rejected before any node is contacted.
var ErrValidation = errors.New("invalid parameters")

// keyspace names are limited to alphanumerics and underscores, at most 48 characters
var keyspacePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,48}$`)

var validate = validator.New()

func init() {
	_ = validate.RegisterValidation("keyspace", validateKeyspace)
}

func validateKeyspace(fl validator.FieldLevel) bool {
	return keyspacePattern.MatchString(fl.Field().String())
}

// ValidateParams checks params against the command's parameter rules.
func ValidateParams(cmd *Command, params Params) error {
	switch {
	case cmd.RequiresKeyspace:
		if params.Keyspace == "" {
			return fmt.Errorf("%w: %s requires a keyspace", ErrValidation, cmd.Name)
		}
		if err := validate.Var(params.Keyspace, "keyspace"); err != nil {
			return fmt.Errorf("%w: keyspace %q is not a valid keyspace name", ErrValidation, params.Keyspace)
		}
	case cmd.UsesKeyspace:
		if err := validate.Var(params.Keyspace, "omitempty,keyspace"); err != nil {
			return fmt.Errorf("%w: keyspace %q is not a valid keyspace name", ErrValidation, params.Keyspace)
		}
	}
	if cmd.UsesLimit {
		if err := validate.Var(EffectiveLimit(cmd, params), "min=0"); err != nil {
			return fmt.Errorf("%w: limit must be a non-negative integer, got %d", ErrValidation, EffectiveLimit(cmd, params))
		}
	}
	return nil
}
