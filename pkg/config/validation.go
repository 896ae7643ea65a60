package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the merged configuration against the struct-level
// constraints declared on the option types.
func Validate(cfg *StandaloneConfig) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return fmt.Errorf("configuration validation failed: %s", strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	// Strip the root struct name so messages read like config keys.
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a host:port address (got %q)", field, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got %q)", field, fe.Param(), fe.Value())
	case "min":
		return fmt.Sprintf("%s must be at least %s (got %v)", field, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %q validation", field, fe.Tag())
	}
}
