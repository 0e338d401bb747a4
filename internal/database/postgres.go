package database

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/MarcoPoloResearchLab/celebrations/backend/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	probeQuery          = "/* keep-alive */ SELECT 1"
	defaultProbeTimeout = 8 * time.Second
)

var (
	// ErrMissingPassword indicates the connection URL has no password segment.
	ErrMissingPassword = errors.New("database: no password detected in DATABASE_URL")
	// ErrUnparsableURL indicates the connection URL could not be parsed for inspection.
	ErrUnparsableURL = errors.New("database: could not parse DATABASE_URL to verify password segment")
)

// CheckCredentials inspects the connection URL for a password segment. The result is
// advisory: callers log it and continue.
func CheckCredentials(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnparsableURL, err)
	}
	if parsed.User == nil {
		return ErrMissingPassword
	}
	if password, ok := parsed.User.Password(); !ok || password == "" {
		return ErrMissingPassword
	}
	return nil
}

// Pool is the bounded connection pool shared by request handling and the keep-alive probe.
type Pool struct {
	db           *gorm.DB
	sqlDB        *sql.DB
	probeTimeout time.Duration
}

// NewPool wraps an opened GORM handle. Probes are bounded by probeTimeout.
func NewPool(db *gorm.DB, probeTimeout time.Duration) (*Pool, error) {
	if db == nil {
		return nil, fmt.Errorf("database: gorm handle is required")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	return &Pool{db: db, sqlDB: sqlDB, probeTimeout: probeTimeout}, nil
}

// OpenPostgres builds the pool without contacting the server; an unreachable database
// surfaces later through Warmup and request errors instead of blocking startup.
func OpenPostgres(cfg config.DatabaseConfig, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	connConfig, err := buildConnConfig(cfg)
	if err != nil {
		return nil, err
	}

	sqlDB := stdlib.OpenDB(*connConfig)
	sqlDB.SetMaxOpenConns(cfg.MaxConns)
	sqlDB.SetMaxIdleConns(cfg.MaxConns)
	sqlDB.SetConnMaxIdleTime(cfg.IdleTimeout)

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:               gormlogger.Default.LogMode(gormlogger.Silent),
		DisableAutomaticPing: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("database: failed to initialize gorm: %w", err)
	}

	if cfg.TLSInsecureSkipVerify {
		logger.Warn("database TLS certificate verification is relaxed; enable verification for production deployments")
	}
	logger.Info("database pool configured",
		zap.String("host", connConfig.Host),
		zap.String("database", connConfig.Database),
		zap.Int("max_conns", cfg.MaxConns),
		zap.Duration("idle_timeout", cfg.IdleTimeout),
		zap.Duration("connect_timeout", cfg.ConnectTimeout),
	)

	return &Pool{db: db, sqlDB: sqlDB, probeTimeout: cfg.ConnectTimeout}, nil
}

// buildConnConfig parses the URL and enforces TLS on every connection attempt.
func buildConnConfig(cfg config.DatabaseConfig) (*pgx.ConnConfig, error) {
	connConfig, err := pgx.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("database: invalid connection string: %w", err)
	}
	connConfig.ConnectTimeout = cfg.ConnectTimeout

	if connConfig.TLSConfig == nil {
		connConfig.TLSConfig = &tls.Config{ServerName: connConfig.Host}
	}
	if cfg.TLSInsecureSkipVerify {
		connConfig.TLSConfig.InsecureSkipVerify = true
	}

	fallbacks := make([]*pgconn.FallbackConfig, 0, len(connConfig.Fallbacks))
	for _, fallback := range connConfig.Fallbacks {
		if fallback.TLSConfig == nil {
			continue
		}
		if cfg.TLSInsecureSkipVerify {
			fallback.TLSConfig.InsecureSkipVerify = true
		}
		fallbacks = append(fallbacks, fallback)
	}
	connConfig.Fallbacks = fallbacks

	return connConfig, nil
}

// Gorm returns the GORM handle backed by the pool.
func (p *Pool) Gorm() *gorm.DB {
	return p.db
}

// Probe issues a trivial query and reports how long it took.
func (p *Pool) Probe(ctx context.Context) (time.Duration, error) {
	probeCtx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()

	started := time.Now()
	err := p.db.WithContext(probeCtx).Exec(probeQuery).Error
	return time.Since(started), err
}

// Stats reports pool usage.
func (p *Pool) Stats() sql.DBStats {
	return p.sqlDB.Stats()
}

// Close releases every pooled connection.
func (p *Pool) Close() error {
	return p.sqlDB.Close()
}
