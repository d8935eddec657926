package service

import (
	"fmt"
	"strings"
)

// ValidateStoreConfig checks the key-naming rules the original store_config
// model enforces: no empty/whitespace-only key, no "." in a key (the dot is
// reserved for the "store.key" placeholder grammar), and no duplicate key
// within either RequiredKeys or DefaultValues. All violations are collected
// and returned together rather than failing on the first one, matching the
// original's aggregate-then-raise behavior.
func ValidateStoreConfig(cfg StoreConfig) []string {
	var errs []string

	seen := make(map[string]bool)
	checkKey := func(key, field string) {
		trimmed := strings.TrimSpace(key)
		if trimmed == "" {
			errs = append(errs, fmt.Sprintf("%s: key must not be empty", field))
			return
		}
		if strings.Contains(trimmed, ".") {
			errs = append(errs, fmt.Sprintf("%s: key %q must not contain '.'", field, key))
		}
		if seen[trimmed] {
			errs = append(errs, fmt.Sprintf("%s: duplicate key %q", field, key))
		}
		seen[trimmed] = true
	}

	for _, key := range cfg.RequiredKeys {
		checkKey(key, "required_keys")
	}

	seen = make(map[string]bool)
	for key := range cfg.DefaultValues {
		checkKey(key, "default_values")
	}

	return errs
}
