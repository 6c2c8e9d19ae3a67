// Package db implements the memory store on SurrealDB with an auto-reconnecting connection.
package db

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/mindstream/internal/metrics"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
)

func init() {
	// The websocket upgrade fails when wss negotiates HTTP/2 via ALPN.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

// AuthDatabase signs in as a database-scoped user. Any other level signs in as root.
const AuthDatabase = "database"

const (
	dialTimeout       = 5 * time.Second
	reconnectAttempts = 10
)

// Config holds the SurrealDB connection settings for a memory store.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	AuthLevel string

	// Dimension sizes the HNSW index. Zero leaves the schema untouched.
	Dimension int
}

// Client is a store.Store backed by the SurrealDB "memory" table.
type Client struct {
	conn    *rews.Connection[*gorillaws.Connection]
	db      *surrealdb.DB
	cfg     Config
	logger  logger.Logger
	metrics *metrics.Collector
}

// NewClient connects, signs in, selects the namespace and, when cfg.Dimension
// is set, defines the memory table. mc may be nil.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger, mc *metrics.Collector) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{cfg: cfg, logger: logger.New(log.Handler()), metrics: mc}
	c.conn = c.dial()

	c.logger.Info("connecting to memory store",
		"url", cfg.URL, "namespace", cfg.Namespace, "database", cfg.Database)
	if err := c.conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := c.open(ctx); err != nil {
		_ = c.conn.Close(ctx)
		return nil, err
	}
	if cfg.Dimension > 0 {
		if err := c.InitSchema(ctx, cfg.Dimension); err != nil {
			_ = c.conn.Close(ctx)
			return nil, err
		}
	}
	return c, nil
}

// dial builds the reconnecting websocket. gorillaws appends /rpc itself.
func (c *Client) dial() *rews.Connection[*gorillaws.Connection] {
	codec := surrealcbor.New()
	baseURL := strings.TrimSuffix(c.cfg.URL, "/rpc")

	conn := rews.New(
		func(context.Context) (*gorillaws.Connection, error) {
			return gorillaws.New(&connection.Config{
				BaseURL:     baseURL,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      c.logger,
			}), nil
		},
		dialTimeout,
		codec,
		c.logger,
	)

	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = time.Second
	retryer.MaxDelay = 30 * time.Second
	retryer.Multiplier = 2
	retryer.MaxRetries = reconnectAttempts
	conn.Retryer = retryer
	return conn
}

// open signs in over the live connection and selects namespace and database.
func (c *Client) open(ctx context.Context) error {
	db, err := surrealdb.FromConnection(ctx, c.conn)
	if err != nil {
		return fmt.Errorf("from connection: %w", err)
	}
	if _, err := db.SignIn(ctx, c.auth()); err != nil {
		return fmt.Errorf("signin as %s (%s): %w", c.cfg.Username, c.authLevel(), err)
	}
	if err := db.Use(ctx, c.cfg.Namespace, c.cfg.Database); err != nil {
		return fmt.Errorf("use %s/%s: %w", c.cfg.Namespace, c.cfg.Database, err)
	}
	c.db = db
	return nil
}

func (c *Client) authLevel() string {
	if c.cfg.AuthLevel == AuthDatabase {
		return AuthDatabase
	}
	return "root"
}

func (c *Client) auth() surrealdb.Auth {
	if c.authLevel() == AuthDatabase {
		return surrealdb.Auth{
			Namespace: c.cfg.Namespace,
			Database:  c.cfg.Database,
			Username:  c.cfg.Username,
			Password:  c.cfg.Password,
		}
	}
	return surrealdb.Auth{Username: c.cfg.Username, Password: c.cfg.Password}
}

// Close closes the connection. Stored memories stay in the database.
func (c *Client) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// InitSchema defines the memory table with an HNSW index of the given
// dimension. Safe to run against an existing table.
func (c *Client) InitSchema(ctx context.Context, dimension int) error {
	c.logger.Debug("defining memory table", "dimension", dimension)
	if _, err := surrealdb.Query[any](ctx, c.db, SchemaSQL(dimension), nil); err != nil {
		return fmt.Errorf("init schema: %w", wrapQueryError(err))
	}
	return nil
}

// Query runs raw SurrealQL, for diagnostics.
func (c *Client) Query(ctx context.Context, sql string, vars map[string]any) (*[]surrealdb.QueryResult[any], error) {
	return surrealdb.Query[any](ctx, c.db, sql, vars)
}
