// Package storage owns the document database connection and the generic
// table operations the domain stores are built on.
package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/blueberrycongee/convostore/internal/docdb"
	"github.com/blueberrycongee/convostore/internal/metrics"
	"github.com/blueberrycongee/convostore/internal/observability"
	storeerrors "github.com/blueberrycongee/convostore/pkg/errors"
)

// Dialer opens the database described by cfg.
type Dialer func(ctx context.Context, cfg ConnectorConfig) (docdb.Database, error)

// Handler resolves collections on a connection managed by the caller.
// The connector never closes it.
type Handler interface {
	Collection(ctx context.Context, name string) (docdb.Collection, error)
}

// ConnectorConfig contains connection settings. URI and Database are
// required unless Handler is set.
type ConnectorConfig struct {
	URI            string
	Database       string
	MaxPoolSize    uint64
	MinPoolSize    uint64
	ConnectTimeout time.Duration
	AppName        string

	Handler Handler
	Dialer  Dialer
	Logger  *slog.Logger
}

// Connector owns a single lazily-established database handle.
type Connector struct {
	cfg     ConnectorConfig
	dial    Dialer
	handler Handler
	logger  *slog.Logger

	mu     sync.Mutex
	db     docdb.Database
	closed bool
}

// NewConnector validates cfg. It does not connect.
func NewConnector(cfg ConnectorConfig) (*Connector, error) {
	if cfg.Handler == nil {
		if cfg.URI == "" {
			return nil, storeerrors.NewConfigurationError("STORAGE_CONNECTOR_URI_REQUIRED",
				"connection uri is required when no connection handler is provided")
		}
		if cfg.Database == "" {
			return nil, storeerrors.NewConfigurationError("STORAGE_CONNECTOR_DATABASE_REQUIRED",
				"database name is required when no connection handler is provided")
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dial := cfg.Dialer
	if dial == nil {
		dial = DialMongo
	}

	return &Connector{
		cfg:     cfg,
		dial:    dial,
		handler: cfg.Handler,
		logger:  logger.With("component", "connector"),
	}, nil
}

// DialMongo is the default Dialer.
func DialMongo(ctx context.Context, cfg ConnectorConfig) (docdb.Database, error) {
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	return docdb.DialMongo(ctx, docdb.MongoConfig{
		URI:            cfg.URI,
		Database:       cfg.Database,
		MaxPoolSize:    cfg.MaxPoolSize,
		MinPoolSize:    cfg.MinPoolSize,
		ConnectTimeout: cfg.ConnectTimeout,
		AppName:        cfg.AppName,
		PoolMonitor:    metrics.NewPoolMonitor(nil),
	})
}

// StaticDialer returns a Dialer that hands out db.
func StaticDialer(db docdb.Database) Dialer {
	return func(context.Context, ConnectorConfig) (docdb.Database, error) {
		return db, nil
	}
}

// Database returns the connected database, dialing on first use. Concurrent
// callers share one dial; a failed dial is retried by the next call.
func (c *Connector) Database(ctx context.Context) (docdb.Database, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, storeerrors.NewInvalidArgumentError("STORAGE_CONNECTOR_CLOSED", "connector is closed", nil)
	}
	if c.db != nil {
		return c.db, nil
	}
	if c.handler != nil {
		return nil, storeerrors.NewUnsupportedError("database handle with an external connection handler")
	}

	redactor := observability.NewRedactor()
	c.logger.Info("connecting to document database",
		"uri", redactor.Redact(c.cfg.URI),
		"database", c.cfg.Database,
	)

	db, err := c.dial(ctx, c.cfg)
	if err != nil {
		return nil, storeerrors.NewBackendError("STORAGE_CONNECT_FAILED",
			errorf(redactor, err), map[string]any{"database": c.cfg.Database})
	}
	c.db = db
	return db, nil
}

// Collection resolves a collection through the handler when one is
// injected, otherwise through the database.
func (c *Connector) Collection(ctx context.Context, name string) (docdb.Collection, error) {
	if c.handler != nil {
		coll, err := c.handler.Collection(ctx, name)
		if err != nil {
			return nil, storeerrors.Wrap("STORAGE_COLLECTION_FAILED", err, map[string]any{"table": name})
		}
		return coll, nil
	}

	db, err := c.Database(ctx)
	if err != nil {
		return nil, err
	}
	return db.Collection(name), nil
}

// Ping checks connectivity.
func (c *Connector) Ping(ctx context.Context) error {
	db, err := c.Database(ctx)
	if err != nil {
		return err
	}
	return storeerrors.Wrap("STORAGE_PING_FAILED", db.Ping(ctx), nil)
}

// Close disconnects. It is safe to call more than once.
func (c *Connector) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.db == nil {
		return nil
	}
	db := c.db
	c.db = nil
	if err := db.Disconnect(ctx); err != nil {
		return storeerrors.NewBackendError("STORAGE_DISCONNECT_FAILED", err, nil)
	}
	c.logger.Info("disconnected from document database")
	return nil
}

// redactedError keeps driver errors from leaking connection credentials.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func errorf(r *observability.Redactor, err error) error {
	return &redactedError{msg: r.Redact(err.Error()), err: err}
}
