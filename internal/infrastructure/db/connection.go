package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog"

	"github.com/sawpanic/etftrend/internal/persistence"
	"github.com/sawpanic/etftrend/internal/persistence/postgres"
)

// Config holds database connection configuration
type Config struct {
	DSN             string                    `yaml:"dsn"`
	MaxOpenConns    int                       `yaml:"max_open_conns"`
	MaxIdleConns    int                       `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration             `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration             `yaml:"conn_max_idle_time"`
	QueryTimeout    time.Duration             `yaml:"query_timeout"`
	Enabled         bool                      `yaml:"enabled"`
	Breaker         persistence.BreakerConfig `yaml:"breaker"`
}

// DefaultConfig returns reasonable defaults for database connections
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		QueryTimeout:    30 * time.Second,
		Enabled:         false, // requires explicit configuration
		Breaker:         persistence.DefaultBreakerConfig(),
	}
}

// Manager manages database connections and repository instances
type Manager struct {
	db     *sqlx.DB
	config Config
	repos  *persistence.Repository
	health *healthChecker
	logger zerolog.Logger
}

// NewManager opens and pings the database. A disabled config yields a
// Manager without repositories.
func NewManager(config Config, logger zerolog.Logger) (*Manager, error) {
	if !config.Enabled {
		return &Manager{
			config: config,
			health: &healthChecker{enabled: false},
			logger: logger,
		}, nil
	}

	if config.DSN == "" {
		return nil, fmt.Errorf("database DSN is required when enabled")
	}

	db, err := sqlx.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewManagerWithDB(db, config, logger), nil
}

// NewManagerWithDB wires repositories over an open connection. Every
// repository sits behind a circuit breaker.
func NewManagerWithDB(db *sqlx.DB, config Config, logger zerolog.Logger) *Manager {
	logger = logger.With().Str("component", "db").Logger()
	repos := persistence.Guard(&persistence.Repository{
		Runs:    postgres.NewRunsRepo(db, config.QueryTimeout),
		Regimes: postgres.NewRegimeRepo(db, config.QueryTimeout),
	}, config.Breaker, logger)

	return &Manager{
		db:     db,
		config: config,
		repos:  repos,
		health: &healthChecker{enabled: true, db: db, timeout: config.QueryTimeout},
		logger: logger,
	}
}

// Migrate creates missing tables
func (m *Manager) Migrate(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.config.QueryTimeout)
	defer cancel()
	if _, err := m.db.ExecContext(ctx, postgres.Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	m.logger.Info().Msg("Database schema applied")
	return nil
}

// Repository returns the repository collection, or nil if database is disabled
func (m *Manager) Repository() *persistence.Repository {
	return m.repos
}

// Health returns the health checker interface
func (m *Manager) Health() persistence.RepositoryHealth {
	return m.health
}

// DB returns the underlying database connection
func (m *Manager) DB() *sqlx.DB {
	return m.db
}

// IsEnabled returns whether database persistence is enabled
func (m *Manager) IsEnabled() bool {
	return m.config.Enabled && m.db != nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// healthChecker implements persistence.RepositoryHealth
type healthChecker struct {
	enabled bool
	db      *sqlx.DB
	timeout time.Duration
}

// Health returns current repository health status
func (h *healthChecker) Health(ctx context.Context) persistence.HealthCheck {
	if !h.enabled {
		return persistence.HealthCheck{
			Healthy:        true,
			Errors:         []string{"Database persistence disabled"},
			ConnectionPool: map[string]int{"status": 0},
			LastCheck:      time.Now(),
		}
	}

	start := time.Now()
	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var errs []string
	healthy := true
	if err := h.db.PingContext(pingCtx); err != nil {
		errs = append(errs, fmt.Sprintf("ping failed: %v", err))
		healthy = false
	}

	stats := h.db.Stats()
	return persistence.HealthCheck{
		Healthy: healthy,
		Errors:  errs,
		ConnectionPool: map[string]int{
			"max_open":      stats.MaxOpenConnections,
			"open":          stats.OpenConnections,
			"in_use":        stats.InUse,
			"idle":          stats.Idle,
			"wait_count":    int(stats.WaitCount),
			"wait_duration": int(stats.WaitDuration.Milliseconds()),
		},
		LastCheck:      time.Now(),
		ResponseTimeMS: time.Since(start).Milliseconds(),
	}
}

// Ping tests basic connectivity to database
func (h *healthChecker) Ping(ctx context.Context) error {
	if !h.enabled {
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.db.PingContext(pingCtx)
}

// Stats returns connection pool statistics
func (h *healthChecker) Stats(ctx context.Context) map[string]interface{} {
	if !h.enabled {
		return map[string]interface{}{
			"enabled": false,
			"status":  "disabled",
		}
	}

	stats := h.db.Stats()
	return map[string]interface{}{
		"enabled":              true,
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}
}
