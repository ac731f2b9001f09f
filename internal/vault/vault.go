// internal/vault/vault.go
//
// HashiCorp Vault KV-v2 lookups for `vault:` secret references.
//
// Context
// -------
// A secret field in configs.yml, the environment, or .env may hold a
// reference instead of the value itself:
//
//	DB_PASSWORD=vault:secret/app#db_password
//
// internal/config strips the prefix and hands `secret/app#db_password` to
// Client.Resolve.  The first path segment is the KV mount, the remainder is
// the secret path, and the fragment names the key inside the secret.
//
// Workflow
// --------
//  1. cli, err := vault.New(zap.S())               // during boot.
//  2. g.Go(func() error { return cli.Run(gctx) })  // token renewal.
//  3. cfg, err := config.New(base, config.WithSecretResolver(cli))
//
// Notes
// -----
// • VAULT_ADDR and VAULT_TOKEN are read by the SDK; VAULT_TOKEN wins over
//   ~/.vault-token.
// • Values are cached per path#key for CacheTTL so a boot that resolves
//   username and password from one secret performs a single read.
//   Concurrent misses for the same secret share one request.
// • Run renews the token until ctx is cancelled.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrBadRef marks a reference that is not `mount/path#key`.
var ErrBadRef = errors.New("vault: malformed secret reference")

const (
	// CacheTTL bounds how long a resolved value is reused.
	CacheTTL = 5 * time.Minute
	// LookupTimeout bounds a single Resolve call.
	LookupTimeout = 10 * time.Second
)

// Client is safe for concurrent use.  Zero value is invalid.
type Client struct {
	api   *vault.Client
	log   *zap.SugaredLogger
	fetch func(ctx context.Context, mount, rel string) (map[string]any, error)

	sfg   singleflight.Group
	mu    sync.RWMutex
	cache map[string]cached // path#key → value + expiry
}

type cached struct {
	val string
	exp time.Time
}

// New builds a client from the VAULT_* environment.  Call Run to keep the
// token renewed.
func New(log *zap.SugaredLogger) (*Client, error) {
	if log == nil {
		log = zap.S()
	}

	cfg := vault.DefaultConfig()
	if err := cfg.ReadEnvironment(); err != nil {
		return nil, fmt.Errorf("vault env cfg: %w", err)
	}
	api, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault api: %w", err)
	}
	if tok := os.Getenv("VAULT_TOKEN"); tok != "" {
		api.SetToken(tok)
	}

	c := &Client{api: api, log: log, cache: make(map[string]cached)}
	c.fetch = c.readKVv2
	return c, nil
}

// Run renews the token until ctx is cancelled.  It always returns nil;
// renewal failures are logged and retried.
func (c *Client) Run(ctx context.Context) error {
	c.renewLoop(ctx)
	return nil
}

// Resolve implements config.SecretResolver.
func (c *Client) Resolve(ref string) (string, error) {
	path, key, err := ParseRef(ref)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), LookupTimeout)
	defer cancel()
	return c.GetKV(ctx, path, key)
}

// ParseRef splits `mount/path#key`.
func ParseRef(ref string) (path, key string, err error) {
	path, key, ok := strings.Cut(ref, "#")
	if !ok || key == "" || path == "" || !strings.Contains(strings.Trim(path, "/"), "/") {
		return "", "", fmt.Errorf("%w: %q", ErrBadRef, ref)
	}
	return strings.Trim(path, "/"), key, nil
}

// GetKV fetches one key from a KV-v2 secret, consulting the cache first.
func (c *Client) GetKV(ctx context.Context, secretPath, key string) (string, error) {
	canonical := secretPath + "#" + key
	if v, ok := c.cached(canonical); ok {
		return v, nil
	}

	v, err, _ := c.sfg.Do(canonical, func() (any, error) {
		// Double-check after the singleflight barrier.
		if v, ok := c.cached(canonical); ok {
			return v, nil
		}
		mount, rel := splitMount(secretPath)
		data, err := c.fetch(ctx, mount, rel)
		if err != nil {
			return "", fmt.Errorf("vault get %s: %w", secretPath, err)
		}
		raw, ok := data[key]
		if !ok {
			return "", fmt.Errorf("key %q not found in secret %q", key, secretPath)
		}
		val, ok := raw.(string)
		if !ok {
			return "", fmt.Errorf("value at %s is not a string", canonical)
		}

		c.mu.Lock()
		c.cache[canonical] = cached{val: val, exp: time.Now().Add(CacheTTL)}
		c.mu.Unlock()
		return val, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) cached(canonical string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cv, ok := c.cache[canonical]
	if !ok || !time.Now().Before(cv.exp) {
		return "", false
	}
	return cv.val, true
}

func (c *Client) readKVv2(ctx context.Context, mount, rel string) (map[string]any, error) {
	sec, err := c.api.KVv2(mount).Get(ctx, rel)
	if err != nil {
		return nil, err
	}
	return sec.Data, nil
}

func (c *Client) renewLoop(ctx context.Context) {
	for ctx.Err() == nil {
		sec, err := c.api.Auth().Token().RenewSelfWithContext(ctx, 0)
		if err != nil {
			c.log.Warnw("vault token renew failed", "error", err)
			backoff(ctx, 30*time.Second)
			continue
		}
		if sec == nil || sec.Auth == nil || !sec.Auth.Renewable {
			c.log.Debugw("vault token not renewable")
			backoff(ctx, time.Hour)
			continue
		}

		w, err := c.api.NewLifetimeWatcher(&vault.LifetimeWatcherInput{Secret: sec})
		if err != nil {
			c.log.Warnw("vault watcher init failed", "error", err)
			backoff(ctx, 30*time.Second)
			continue
		}
		c.watch(ctx, w)
	}
}

// watch blocks until the watcher stops or ctx ends.
func (c *Client) watch(ctx context.Context, w *vault.LifetimeWatcher) {
	go w.Start()
	defer w.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-w.DoneCh():
			if err != nil {
				c.log.Warnw("vault token renewal stopped", "error", err)
			}
			backoff(ctx, 15*time.Second)
			return
		case ev := <-w.RenewCh():
			if ev != nil && ev.Secret != nil && ev.Secret.Auth != nil {
				c.log.Debugw("vault token renewed", "ttl_seconds", ev.Secret.Auth.LeaseDuration)
			}
		}
	}
}

func splitMount(p string) (mount, rel string) {
	mount, rel, _ = strings.Cut(p, "/")
	return mount, rel
}

func backoff(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
