package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/edgegate/edgegate/internal/cache"
	"github.com/edgegate/edgegate/internal/store"
)

// probeKey is read during store and cache pings. It is never written;
// a key-not-found answer proves the backend is reachable.
const probeKey = "health:probe"

// StoreCheck verifies that the shared counter store answers reads.
func StoreCheck(name string, s store.Store) *CheckFunc {
	return NewCheckFunc(name, func(ctx context.Context) error {
		if s == nil {
			return errors.New("store is not configured")
		}
		_, err := s.Get(ctx, probeKey)
		if err != nil && !store.IsKeyNotFound(err) {
			return fmt.Errorf("store ping failed: %w", err)
		}
		return nil
	})
}

// CacheCheck verifies that the response cache backend answers reads.
func CacheCheck(name string, c cache.Cache) *CheckFunc {
	return NewCheckFunc(name, func(ctx context.Context) error {
		if c == nil {
			return errors.New("cache is not configured")
		}
		_, err := c.Get(ctx, probeKey)
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			return fmt.Errorf("cache ping failed: %w", err)
		}
		return nil
	})
}

// HTTPCheck verifies that an HTTP endpoint answers with a 2xx status.
func HTTPCheck(name, url string, timeout time.Duration) *CheckFunc {
	return NewCheckFunc(name, func(ctx context.Context) error {
		client := &http.Client{Timeout: timeout}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("unhealthy status code: %d", resp.StatusCode)
		}
		return nil
	})
}

// TCPCheck verifies that a TCP address accepts connections.
func TCPCheck(name, address string, timeout time.Duration) *CheckFunc {
	return NewCheckFunc(name, func(ctx context.Context) error {
		dialer := &net.Dialer{Timeout: timeout}
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", address, err)
		}
		return conn.Close()
	})
}
