package goAuthClient

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config defines how a Session talks to the backend and keeps its tokens.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	// BaseURL is the API root every request path is resolved against.
	BaseURL   string
	UserAgent string

	Endpoints EndpointConfig
	Timeouts  TimeoutConfig
	Retry     RetryConfig
	Refresh   RefreshConfig
	Store     StoreConfig
	Events    EventsConfig
	Metrics   MetricsConfig

	// MaxResponseBytes caps how much of a response body is read.
	MaxResponseBytes int64
}

// EndpointConfig holds the auth endpoint paths.
type EndpointConfig struct {
	Login   string
	Refresh string
	Logout  string
	Profile string
}

// TimeoutConfig bounds individual HTTP attempts.
type TimeoutConfig struct {
	Request time.Duration
	Upload  time.Duration
	Logout  time.Duration
}

// RetryConfig applies to GET requests that fail without a response.
type RetryConfig struct {
	// MaxAttempts counts the first try. 1 disables retries.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RefreshConfig tunes token renewal.
type RefreshConfig struct {
	// Timeout bounds one refresh exchange, independent of any caller.
	Timeout time.Duration
	// Skew renews an access token before use when its exp is this close.
	// Zero disables proactive refresh.
	Skew time.Duration
}

// StoreConfig names the token record when the Session builds its own store.
type StoreConfig struct {
	RedisPrefix string
	Profile     string
	// TTL applies to the redis key. Zero keeps it until logout.
	TTL time.Duration
}

// EventsConfig controls the asynchronous session event dispatcher.
type EventsConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration used by New.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		UserAgent: "goAuthClient/1",
		Endpoints: EndpointConfig{
			Login:   "/auth/login",
			Refresh: "/auth/refresh",
			Logout:  "/auth/logout",
			Profile: "/auth/profile",
		},
		Timeouts: TimeoutConfig{
			Request: 30 * time.Second,
			Upload:  5 * time.Minute,
			Logout:  5 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    2 * time.Second,
		},
		Refresh: RefreshConfig{
			Timeout: 15 * time.Second,
			Skew:    30 * time.Second,
		},
		Store: StoreConfig{
			RedisPrefix: "gac",
			Profile:     "default",
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		MaxResponseBytes: 32 << 20,
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("BaseURL is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("BaseURL is invalid: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("BaseURL scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("BaseURL must include a host")
	}

	for name, path := range map[string]string{
		"Login":   c.Endpoints.Login,
		"Refresh": c.Endpoints.Refresh,
		"Logout":  c.Endpoints.Logout,
		"Profile": c.Endpoints.Profile,
	} {
		if strings.TrimSpace(path) == "" {
			return fmt.Errorf("Endpoints %s must not be empty", name)
		}
	}

	if c.Timeouts.Request <= 0 {
		return errors.New("Timeouts Request must be > 0")
	}
	if c.Timeouts.Upload <= 0 {
		return errors.New("Timeouts Upload must be > 0")
	}
	if c.Timeouts.Upload < c.Timeouts.Request {
		return errors.New("Timeouts Upload must be >= Timeouts Request")
	}
	if c.Timeouts.Logout <= 0 {
		return errors.New("Timeouts Logout must be > 0")
	}

	if c.Retry.MaxAttempts < 1 {
		return errors.New("Retry MaxAttempts must be >= 1")
	}
	if c.Retry.MaxAttempts > 10 {
		return errors.New("Retry MaxAttempts must be <= 10")
	}
	if c.Retry.MaxAttempts > 1 {
		if c.Retry.BaseDelay <= 0 {
			return errors.New("Retry BaseDelay must be > 0 when retries are enabled")
		}
		if c.Retry.MaxDelay < c.Retry.BaseDelay {
			return errors.New("Retry MaxDelay must be >= BaseDelay")
		}
	}

	if c.Refresh.Timeout <= 0 {
		return errors.New("Refresh Timeout must be > 0")
	}
	if c.Refresh.Skew < 0 {
		return errors.New("Refresh Skew must be >= 0")
	}

	if c.Store.TTL < 0 {
		return errors.New("Store TTL must be >= 0")
	}

	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return errors.New("Events BufferSize must be > 0 when enabled")
	}

	if c.MaxResponseBytes <= 0 {
		return errors.New("MaxResponseBytes must be > 0")
	}

	return nil
}
