package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	name := cfg.Export.PseudoDirName
	if name == "." || name == ".." {
		return fmt.Errorf("export.pseudo_dir_name: %q is reserved", name)
	}

	if cfg.Backend.Type == "posix" {
		if path, _ := cfg.Backend.Posix["path"].(string); path == "" {
			return fmt.Errorf("backend.posix.path: required when backend.type is posix")
		}
	}

	if cfg.Backend.Type == "cow" {
		if len(cfg.Backend.Cow.Snapshots) > 1 {
			for _, s := range cfg.Backend.Cow.Snapshots {
				if s == "*" {
					return fmt.Errorf("backend.cow.snapshots: \"*\" cannot be combined with named snapshots")
				}
			}
		}
		seen := make(map[string]bool)
		for i, s := range cfg.Backend.Cow.Snapshots {
			if s == "" || strings.Contains(s, "/") {
				return fmt.Errorf("backend.cow.snapshots[%d]: invalid snapshot name %q", i, s)
			}
			if seen[s] {
				return fmt.Errorf("backend.cow.snapshots[%d]: duplicate snapshot %q", i, s)
			}
			seen[s] = true
		}
	}

	if cfg.Export.IdentityMapping.MapAllToAnonymous && cfg.Export.IdentityMapping.AnonymousUID == 0 {
		return fmt.Errorf("export.identity_mapping: map_all_to_anonymous with anonymous_uid 0 grants root to everyone")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
