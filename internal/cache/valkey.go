package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"
)

// Valkey stores JSON-encoded values in a Valkey-compatible server, so that
// several replicas can share extracted forecasts.
type Valkey[V any] struct {
	client valkey.Client
	prefix string
}

// NewValkey wraps a connected client. Keys are written as "{prefix}:{key}".
func NewValkey[V any](client valkey.Client, prefix string) *Valkey[V] {
	if prefix == "" {
		prefix = "gfs"
	}
	return &Valkey[V]{client: client, prefix: prefix}
}

func (c *Valkey[V]) Get(ctx context.Context, key Key) (V, bool, error) {
	var zero V
	payload, err := c.client.Do(ctx, c.client.B().Get().Key(c.key(key)).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return zero, false, nil
		}
		return zero, false, err
	}
	var v V
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return zero, false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return v, true, nil
}

func (c *Valkey[V]) Set(ctx context.Context, key Key, value V, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	builder := c.client.B().Set().Key(c.key(key)).Value(string(payload))
	var cmd valkey.Completed
	if ttl > 0 {
		if ttl < time.Second {
			ttl = time.Second
		}
		cmd = builder.Ex(ttl).Build()
	} else {
		cmd = builder.Build()
	}
	return c.client.Do(ctx, cmd).Error()
}

// Close closes the underlying client. Later calls fail.
func (c *Valkey[V]) Close() error {
	c.client.Close()
	return nil
}

func (c *Valkey[V]) key(k Key) string { return c.prefix + ":" + k.String() }

// Dial connects to addr, which is either host:port or a redis:// URL, and
// verifies the connection with PING.
func Dial(ctx context.Context, addr string) (valkey.Client, error) {
	var (
		opt valkey.ClientOption
		err error
	)
	if strings.Contains(addr, "://") {
		opt, err = valkey.ParseURL(addr)
	} else {
		opt = valkey.ClientOption{InitAddress: []string{addr}}
	}
	if err != nil {
		return nil, fmt.Errorf("parse valkey address: %w", err)
	}
	client, err := valkey.NewClient(opt)
	if err != nil {
		return nil, fmt.Errorf("create valkey client: %w", err)
	}
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping valkey: %w", err)
	}
	return client, nil
}
