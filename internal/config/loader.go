// internal/config/loader.go
//
// Configs container: merge, type, validate, then configure logging.
//
/*
Context
--------
`New()` turns a loading Context into one `Configs` value.  Every field is
resolved with the same rule: the environment value when present (and
non-empty), cast to the declared type, otherwise the value at the matching
YAML key path.  The merge is done with koanf layers, lowest first:

  1. A copy of the YAML tree with env-only keys (every `Secret` field)
     deleted.
  2. The dotenv file, mapped through the `env:"…"` struct tags
     (`confmap.Provider`).
  3. The process environment, mapped the same way (`env.Provider`).

The merged tree must contain every key in `requiredKeys`; it is then
unmarshalled (weakly typed, so "8080" becomes 8080 and "true" becomes true),
secret references are resolved, and go-playground/validator rules run.

Afterwards the logs directory is created and `ConfigureLogging()` installs
the process-wide logger.

Errors
------
  • ErrPathNotFound  – base directory missing (checked before anything else).
  • ErrConfigFile    – YAML missing or malformed.
  • ErrMissingField  – required key absent from every source.
  • ErrInvalidField  – cast failure, validation failure, or unresolvable secret.
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	koanf "github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/yanizio/stencil/internal/logger"
)

var (
	ErrPathNotFound = errors.New("config: path not found")
	ErrConfigFile   = errors.New("config: cannot load config file")
	ErrMissingField = errors.New("config: missing required field")
	ErrInvalidField = errors.New("config: invalid field")
)

// requiredKeys must resolve from YAML or the environment.  Optional maps
// (`db.other`, `security.crypt_context`, `security.oauth2`) are absent here.
var requiredKeys = []string{
	"server.host",
	"server.port",
	"server.enable_cors",
	"db.dialect",
	"db.username",
	"db.password",
	"db.host",
	"db.port",
	"db.name",
	"db.connect_retry.count",
	"db.connect_retry.delay",
	"security.secret_key",
	"security.algorithm",
	"security.access_token_expires_hours",
	"security.token_name",
	"validation.email",
	"validation.password",
	"path.logs",
	"logging",
}

/*──────────────────────────── env bindings ──────────────────────────────────*/

type envBinding struct {
	name   string // HOST
	path   string // server.host
	secret bool
}

var secretType = reflect.TypeOf(Secret(""))

// envBindings reads the `env` tags of the overridable sections.
func envBindings() []envBinding {
	sections := []struct {
		prefix string
		model  any
	}{
		{"server", ServerConfigs{}},
		{"db", DatabaseConfigs{}},
		{"security", SecurityConfigs{}},
	}

	var out []envBinding
	for _, s := range sections {
		t := reflect.TypeOf(s.model)
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name := f.Tag.Get("env")
			if name == "" {
				continue
			}
			out = append(out, envBinding{
				name:   name,
				path:   s.prefix + "." + f.Tag.Get("koanf"),
				secret: f.Type == secretType,
			})
		}
	}
	return out
}

/*──────────────────────────── constructor ───────────────────────────────────*/

// WithLogInstaller replaces logger.Install, the default process-wide hook.
func WithLogInstaller(fn func(*zap.Logger)) Option {
	return func(o *options) { o.installer = fn }
}

// WithSecretResolver resolves `vault:` references in secret fields.
func WithSecretResolver(r SecretResolver) Option {
	return func(o *options) { o.resolver = r }
}

// New loads the Context for baseDir and builds every sub-config.
func New(baseDir string, opts ...Option) (*Configs, error) {
	o := options{installer: logger.Install}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, err := loadContext(baseDir, o)
	if err != nil {
		return nil, err
	}

	k, err := ctx.merge()
	if err != nil {
		return nil, err
	}
	for _, key := range requiredKeys {
		if !k.Exists(key) {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, key)
		}
	}

	cfg := &Configs{ctx: ctx, installer: o.installer}
	sections := []struct {
		path string
		dst  any
	}{
		{"server", &cfg.Server},
		{"db", &cfg.DB},
		{"security", &cfg.Security},
		{"validation", &cfg.Validation},
		{"path", &cfg.Path},
	}
	for _, s := range sections {
		if err := k.Unmarshal(s.path, s.dst); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidField, s.path, err)
		}
	}
	cfg.fillDefaults()

	if o.resolver != nil {
		if err := resolveSecrets(o.resolver, map[string]*Secret{
			"db.username":         &cfg.DB.Username,
			"db.password":         &cfg.DB.Password,
			"security.secret_key": &cfg.Security.SecretKey,
		}); err != nil {
			return nil, err
		}
	}

	if err := validateStruct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidField, err)
	}

	if err := cfg.preparePaths(); err != nil {
		return nil, err
	}
	if err := cfg.ConfigureLogging(); err != nil {
		return nil, err
	}

	zap.S().Infow("config loaded",
		"addr", cfg.Server.Addr(),
		"enable_cors", cfg.Server.EnableCORS,
		"db_dialect", cfg.DB.Dialect,
		"db_host", cfg.DB.Host,
		"db_name", cfg.DB.Name,
		"logs", cfg.Path.Logs,
	)
	return cfg, nil
}

// merge layers YAML, dotenv, and process environment.
func (c *Context) merge() (*koanf.Koanf, error) {
	bindings := envBindings()
	byName := make(map[string]string, len(bindings))

	k := c.yml.Copy()
	for _, b := range bindings {
		byName[b.name] = b.path
		if b.secret {
			k.Delete(b.path)
		}
	}

	fromDotenv := make(map[string]any)
	for name, path := range byName {
		if v := c.dotenv[name]; v != "" {
			fromDotenv[path] = v
		}
	}
	if err := k.Load(confmap.Provider(fromDotenv, "."), nil); err != nil {
		return nil, fmt.Errorf("config dotenv overlay: %w", err)
	}

	if err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, any) {
		path, ok := byName[key]
		if !ok || value == "" {
			return "", nil
		}
		return path, value
	}), nil); err != nil {
		return nil, fmt.Errorf("config env overlay: %w", err)
	}
	return k, nil
}

func (c *Configs) fillDefaults() {
	if c.DB.Other == nil {
		c.DB.Other = map[string]any{}
	}
	if c.Security.CryptContext == nil {
		c.Security.CryptContext = map[string]any{}
	}
	if c.Security.OAuth2 == nil {
		c.Security.OAuth2 = map[string]any{}
	}
	if c.Validation.Email == nil {
		c.Validation.Email = map[string]any{}
	}
	if c.Validation.Password == nil {
		c.Validation.Password = map[string]any{}
	}
}

// preparePaths creates the logs directory and derives the fixed asset paths.
func (c *Configs) preparePaths() error {
	logs, err := filepath.Abs(c.Path.Logs)
	if err != nil {
		return fmt.Errorf("%w: path.logs: %v", ErrInvalidField, err)
	}
	if err := os.MkdirAll(logs, 0o755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}
	c.Path.Logs = logs
	c.Path.Static = filepath.Join(c.ctx.baseDir, "app", "static")
	c.Path.Templates = filepath.Join(c.ctx.baseDir, "app", "templates")
	return nil
}

/*──────────────────────────── logging ───────────────────────────────────────*/

// ConfigureLogging points every relative handler filename at the logs
// directory, builds the logger, and hands it to the installer.  Absolute
// filenames are left alone, so running it again changes nothing.  Files
// held by the logger it replaces are closed.
func (c *Configs) ConfigureLogging() error {
	k := c.ctx.yml
	for _, name := range k.MapKeys("logging.handlers") {
		key := "logging.handlers." + name + ".filename"
		fname := k.String(key)
		if fname == "" || filepath.IsAbs(fname) {
			continue
		}
		if err := k.Set(key, filepath.Join(c.Path.Logs, fname)); err != nil {
			return fmt.Errorf("rewrite %s: %w", key, err)
		}
	}

	var lc logger.Config
	if err := k.Unmarshal("logging", &lc); err != nil {
		return fmt.Errorf("%w: logging: %v", ErrInvalidField, err)
	}
	l, files, err := logger.Build(lc)
	if err != nil {
		return fmt.Errorf("%w: logging: %v", ErrInvalidField, err)
	}

	c.Logging = lc
	if c.installer != nil {
		c.installer(l)
	}

	// The previous logger is no longer installed; release its files.
	prev := c.logSinks
	c.logSinks = files
	if prev != nil {
		if err := prev.Close(); err != nil {
			zap.S().Warnw("closing previous log files", "error", err)
		}
	}
	return nil
}

// Close releases the log files opened by ConfigureLogging.
func (c *Configs) Close() error {
	if c.logSinks == nil {
		return nil
	}
	err := c.logSinks.Close()
	c.logSinks = nil
	return err
}

// Context returns the loading context the container was built from.
func (c *Configs) Context() *Context { return c.ctx }

/*──────────────────────────── secrets ───────────────────────────────────────*/

// SecretRefPrefix marks a secret value that must be resolved externally,
// e.g. `vault:secret/app#db_password`.
const SecretRefPrefix = "vault:"

// SecretResolver turns a reference (prefix stripped) into the raw value.
type SecretResolver interface {
	Resolve(ref string) (string, error)
}

func resolveSecrets(r SecretResolver, fields map[string]*Secret) error {
	for path, s := range fields {
		raw := s.Reveal()
		if !strings.HasPrefix(raw, SecretRefPrefix) {
			continue
		}
		v, err := r.Resolve(strings.TrimPrefix(raw, SecretRefPrefix))
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidField, path, err)
		}
		*s = Secret(v)
	}
	return nil
}
