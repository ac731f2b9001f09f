// internal/config/context.go
//
// Loading context: one parsed YAML tree, one environment accessor, one base
// directory.
//
/*
Context
--------
`LoadContext()` is the only place that touches the filesystem for
configuration.  It runs exactly once per `New()`:

  1. Verify the base (package) directory exists.  Nothing else is attempted
     when it does not.
  2. Read `<parent of base>/.env` with godotenv.  A missing file is normal;
     the accessor then answers from the process environment only.
  3. Parse `<base>/configs/configs.yml` into a koanf tree.  Missing or
     malformed YAML aborts the boot.

godotenv.Read is used instead of godotenv.Load so the process environment
is never mutated, and real environment variables keep precedence over the
dotenv file.

Instrumentation
---------------
  • DEBUG spans: resolved paths, dotenv presence.
  • Logs use the global sugared logger (`zap.S()`); before ConfigureLogging
    runs it is the no-op logger.
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

/*──────────────────────────── options ───────────────────────────────────────*/

type options struct {
	configFile string
	envFile    string
	installer  func(*zap.Logger)
	resolver   SecretResolver
}

// Option tweaks LoadContext and New.
type Option func(*options)

// WithConfigFile overrides <base>/configs/configs.yml.
func WithConfigFile(path string) Option { return func(o *options) { o.configFile = path } }

// WithEnvFile overrides <parent of base>/.env.
func WithEnvFile(path string) Option { return func(o *options) { o.envFile = path } }

/*──────────────────────────── context ───────────────────────────────────────*/

// Context is the immutable input to every sub-config builder.
type Context struct {
	yml     *koanf.Koanf
	dotenv  map[string]string
	baseDir string
}

// LoadContext validates baseDir, then reads the dotenv and YAML sources.
func LoadContext(baseDir string, opts ...Option) (*Context, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return loadContext(baseDir, o)
}

func loadContext(baseDir string, o options) (*Context, error) {
	if _, err := os.Stat(baseDir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, baseDir)
		}
		return nil, err
	}

	envPath := o.envFile
	if envPath == "" {
		envPath = filepath.Join(filepath.Dir(filepath.Clean(baseDir)), ".env")
	}
	dotenv, err := readDotenv(envPath)
	if err != nil {
		return nil, err
	}

	ymlPath := o.configFile
	if ymlPath == "" {
		ymlPath = filepath.Join(baseDir, "configs", "configs.yml")
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(ymlPath), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigFile, ymlPath, err)
	}
	zap.S().Debugw("config yaml loaded", "file", ymlPath, "dotenv", envPath, "dotenv_keys", len(dotenv))

	return &Context{yml: k, dotenv: dotenv, baseDir: baseDir}, nil
}

// readDotenv returns an empty map when the file does not exist.
func readDotenv(path string) (map[string]string, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	vals, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return vals, nil
}

/*──────────────────────────── accessors ─────────────────────────────────────*/

// BaseDir is the validated package directory.
func (c *Context) BaseDir() string { return c.baseDir }

// Getenv answers from the process environment first, then the dotenv file.
// Empty values count as unset.
func (c *Context) Getenv(name string) (string, bool) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v, true
	}
	if v, ok := c.dotenv[name]; ok && v != "" {
		return v, true
	}
	return "", false
}

// Raw returns a copy of the parsed YAML tree.
func (c *Context) Raw() *koanf.Koanf { return c.yml.Copy() }
