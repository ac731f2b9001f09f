// internal/config/secret.go
//
// Masked credential type.
//
// Context
// -------
// Database credentials and the signing key are typed as `Secret` the moment
// they leave the merged config tree.  Every default rendering path (fmt
// verbs, `%#v`, JSON, text marshalling, zap reflection) prints the mask, so
// dumping a whole `DatabaseConfigs` into a log line is harmless.  The raw
// value is only reachable through `Reveal()`.
//
// Notes
// -----
//   - An empty secret renders empty so "not set" stays visible in debug output.
//   - Oxford commas, two spaces after periods.
package config

import "encoding/json"

const secretMask = "**********"

// Secret holds a credential that must not leak into logs.
type Secret string

// Reveal returns the raw value.
func (s Secret) Reveal() string { return string(s) }

// String implements fmt.Stringer with the mask.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return secretMask
}

// GoString masks %#v output.
func (s Secret) GoString() string { return `config.Secret("` + s.String() + `")` }

// MarshalJSON masks JSON output, including zap's reflected fields.
func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// MarshalText masks YAML and text encoders.
func (s Secret) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
