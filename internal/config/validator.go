// internal/config/validator.go
//
// Thin wrapper around go-playground/validator.
//
// `New()` calls `validateStruct` once the merged tree is unmarshalled and
// secrets are resolved.  Presence is checked earlier against koanf keys
// (a `false` bool or a zero retry count is a legitimate value), so the tags
// here cover value rules: non-empty strings, port ranges, and non-negative
// retry budgets.

package config

import "github.com/go-playground/validator/v10"

var v = validator.New()

// validateStruct returns the validation errors, or nil on success.
func validateStruct(c *Configs) error {
	return v.Struct(c)
}
