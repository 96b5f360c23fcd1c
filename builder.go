package goAuthClient

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/goAuthClient/refresh"
	"github.com/MrEthical07/goAuthClient/tokenstore"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles a Session. It is meant to be configured once during
// start-up; Build may be called only once.
type Builder struct {
	config     Config
	httpClient *http.Client
	store      tokenstore.Store
	redis      redis.UniversalClient
	logger     *zap.Logger
	eventSink  EventSink

	built bool
}

// New returns a Builder holding DefaultConfig. A base URL must be set
// before Build.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithBaseURL(baseURL string) *Builder {
	b.config.BaseURL = baseURL
	return b
}

// WithHTTPClient sets the transport. Its Timeout should be zero or larger
// than Timeouts.Upload; per-attempt timeouts are applied through contexts.
func (b *Builder) WithHTTPClient(c *http.Client) *Builder {
	b.httpClient = c
	return b
}

// WithTokenStore sets where tokens are kept. It takes precedence over
// WithRedis.
func (b *Builder) WithTokenStore(store tokenstore.Store) *Builder {
	b.store = store
	return b
}

// WithRedis keeps tokens in redis under Config.Store's prefix and profile.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithEventSink receives every session event. Subscribe works with or
// without a sink.
func (b *Builder) WithEventSink(sink EventSink) *Builder {
	b.eventSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns an uninitialized Session.
// Call Session.Init to hydrate it from the store.
func (b *Builder) Build() (*Session, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := b.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	store := b.store
	switch {
	case store != nil:
	case b.redis != nil:
		store = tokenstore.NewRedisStore(b.redis, cfg.Store.RedisPrefix, cfg.Store.Profile, cfg.Store.TTL)
	default:
		store = tokenstore.NewMemoryStore()
	}

	metrics := NewMetrics(cfg.Metrics)
	tokens := newTokenKeeper(store, logger.Named("tokens"), metrics)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	s := &Session{
		config:      cfg,
		tokens:      tokens,
		logger:      logger,
		metrics:     metrics,
		broadcast:   newBroadcaster(b.eventSink),
		now:         time.Now,
		state:       StateUninitialized,
		validatedCh: make(chan struct{}),
		bgCtx:       bgCtx,
		bgCancel:    bgCancel,
	}
	s.dispatcher = newEventDispatcher(cfg.Events, s.broadcast)
	tokens.onFailure = s.onStorageFailure

	client := &Client{
		config:     cfg,
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		tokens:     tokens,
		logger:     logger.Named("client"),
		metrics:    metrics,
		onExpired:  s.expire,
		now:        time.Now,
	}
	client.coordinator = refresh.NewCoordinator(tokens, client.exchangeRefresh, refresh.Config{
		Timeout:     cfg.Refresh.Timeout,
		Logger:      logger.Named("refresh"),
		OnRefreshed: s.onRefreshed,
		OnRejected:  s.onRefreshRejected,
		OnFailed:    s.onRefreshFailed,
	})

	s.client = client
	s.coordinator = client.coordinator

	b.built = true
	return s, nil
}
