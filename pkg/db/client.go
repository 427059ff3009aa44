package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/angelmondragon/membership-portal/pkg/config"
	"github.com/angelmondragon/membership-portal/pkg/logger"
)

// Client wraps the shared GORM connection.
type Client struct {
	conn *gorm.DB
	// txOptions is applied to every transaction this client opens.
	txOptions *sql.TxOptions
}

// Pinger exposes the health check surface.
type Pinger interface {
	Ping(ctx context.Context) error
}

// New boots a Postgres-backed GORM client using the provided configuration.
func New(ctx context.Context, cfg config.DBConfig, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database DSN is required")
	}

	dialector := postgres.New(postgres.Config{
		DSN:                  cfg.DSN,
		PreferSimpleProtocol: true,
	})

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 newQueryLogger(logg, cfg.SlowQueryThreshold),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening db connection: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql db handle: %w", err)
	}
	applyPoolSettings(sqlDB, cfg)

	if logg != nil {
		logg.Info(ctx, "database connection established")
	}

	// Check-then-act sequences (placement, fulfillment) rely on serializable snapshots.
	return &Client{conn: conn, txOptions: &sql.TxOptions{Isolation: sql.LevelSerializable}}, nil
}

// NewFromGorm wraps an already opened connection. SQLite connections run with
// the driver's default isolation since writers are serialized by the database lock.
func NewFromGorm(conn *gorm.DB) *Client {
	client := &Client{conn: conn}
	if conn != nil && conn.Dialector != nil && conn.Dialector.Name() == "postgres" {
		client.txOptions = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	return client
}

func applyPoolSettings(sqlDB *sql.DB, cfg config.DBConfig) {
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

// DB returns the underlying GORM connection.
func (c *Client) DB() *gorm.DB {
	return c.conn
}

func (c *Client) sqlDB() (*sql.DB, error) {
	if c == nil || c.conn == nil {
		return nil, errors.New("database client is not initialized")
	}
	return c.conn.DB()
}

// Ping verifies the datasource is reachable.
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.sqlDB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close shuts down the pooled connections.
func (c *Client) Close() error {
	sqlDB, err := c.sqlDB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RegisterPoolMetrics exports connection pool stats as go_sql_* series
// labelled with name.
func (c *Client) RegisterPoolMetrics(reg prometheus.Registerer, name string) error {
	sqlDB, err := c.sqlDB()
	if err != nil {
		return err
	}
	return reg.Register(collectors.NewDBStatsCollector(sqlDB, name))
}

// WithTx runs fn in one transaction at the client's isolation level. fn's
// error or panic rolls the transaction back.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	conn := c.conn.WithContext(ctx)
	if c.txOptions == nil {
		return conn.Transaction(fn)
	}
	return conn.Transaction(fn, c.txOptions)
}

// WithRetryTx runs fn in a fresh transaction, retrying the whole unit when the
// database reports a transient serialization conflict.
func (c *Client) WithRetryTx(ctx context.Context, policy RetryPolicy, fn func(tx *gorm.DB) error) error {
	return Retry(ctx, policy, func() error {
		return c.WithTx(ctx, fn)
	})
}
