// Package statsd emits metrics over UDP using the StatsD line protocol with
// DogStatsD-style tags.
package statsd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Sink is the minimal interface services need to emit metrics.
type Sink interface {
	Count(name string, value int64, tags map[string]string)
	Gauge(name string, value float64, tags map[string]string)
	Timing(name string, value time.Duration, tags map[string]string)
}

// Config describes how to connect to a StatsD-compatible endpoint.
type Config struct {
	Enabled    bool
	Address    string
	Prefix     string
	Logger     *slog.Logger
	GlobalTags map[string]string
}

// Client emits metrics over UDP. Safe for concurrent use. A nil or disabled
// client swallows all emissions, so callers never guard their metric calls.
type Client struct {
	enabled    bool
	prefix     string
	globalTags map[string]string

	logger *slog.Logger
	mu     sync.Mutex
	conn   net.Conn
}

var _ Sink = (*Client)(nil)

// NewClient dials the configured endpoint unless disabled.
func NewClient(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	address := strings.TrimSpace(cfg.Address)
	client := &Client{
		enabled:    cfg.Enabled && address != "",
		prefix:     strings.Trim(strings.TrimSpace(cfg.Prefix), "."),
		globalTags: copyTags(cfg.GlobalTags),
		logger:     logger,
	}
	if !client.enabled {
		return client, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := (&net.Dialer{}).DialContext(ctx, "udp", address)
	if err != nil {
		return nil, fmt.Errorf("statsd dial %s: %w", address, err)
	}
	client.conn = conn
	return client, nil
}

// Enabled reports whether the client actively emits metrics.
func (c *Client) Enabled() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled && c.conn != nil
}

// Count increments a counter metric.
func (c *Client) Count(name string, value int64, tags map[string]string) {
	if c == nil {
		return
	}
	c.write(name, strconv.FormatInt(value, 10)+"|c", tags)
}

// Gauge records the current value for a gauge metric.
func (c *Client) Gauge(name string, value float64, tags map[string]string) {
	if c == nil {
		return
	}
	c.write(name, formatFloat(value)+"|g", tags)
}

// Timing records a timing metric in milliseconds.
func (c *Client) Timing(name string, value time.Duration, tags map[string]string) {
	if c == nil {
		return
	}
	ms := float64(value) / float64(time.Millisecond)
	c.write(name, formatFloat(ms)+"|ms", tags)
}

// Close releases the underlying UDP connection if one was established.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enabled = false
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) write(name, payload string, tags map[string]string) {
	metric := c.metricName(name)
	if metric == "" {
		return
	}
	line := metric + ":" + payload + formatTags(c.globalTags, tags)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled || c.conn == nil {
		return
	}
	if _, err := c.conn.Write([]byte(line)); err != nil {
		c.logger.Debug("statsd write failed", "error", err)
	}
}

func (c *Client) metricName(name string) string {
	normalized := normalizeMetricName(name)
	switch {
	case normalized == "":
		return c.prefix
	case c.prefix == "":
		return normalized
	default:
		return c.prefix + "." + normalized
	}
}

func normalizeMetricName(name string) string {
	n := strings.TrimSpace(name)
	n = strings.ReplaceAll(n, " ", "_")
	n = strings.ReplaceAll(n, "/", "_")
	for strings.Contains(n, "..") {
		n = strings.ReplaceAll(n, "..", ".")
	}
	return strings.Trim(n, ".")
}

func formatTags(global, local map[string]string) string {
	if len(global)+len(local) == 0 {
		return ""
	}

	merged := make(map[string]string, len(global)+len(local))
	for _, src := range []map[string]string{global, local} {
		for k, v := range src {
			if key := strings.TrimSpace(k); key != "" {
				merged[key] = strings.TrimSpace(v)
			}
		}
	}
	if len(merged) == 0 {
		return ""
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + ":" + merged[k]
	}
	return "|#" + strings.Join(pairs, ",")
}

func copyTags(tags map[string]string) map[string]string {
	cp := make(map[string]string, len(tags))
	for k, v := range tags {
		if key := strings.TrimSpace(k); key != "" {
			cp[key] = strings.TrimSpace(v)
		}
	}
	return cp
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
