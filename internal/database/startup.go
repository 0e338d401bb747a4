package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/celebrations/backend/internal/contacts"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	probeKindWarmup    = "warmup"
	probeKindKeepAlive = "keep_alive"

	guestCountMigrationHint = "ALTER TABLE contact_submissions ALTER COLUMN guest_count TYPE TEXT USING guest_count::text;"
)

var (
	// ErrSubmissionsTableMissing indicates the contact_submissions table does not exist.
	ErrSubmissionsTableMissing = errors.New("database: contact_submissions table not found")
	// ErrGuestCountColumnMissing indicates the guest_count column does not exist.
	ErrGuestCountColumnMissing = errors.New("database: guest_count column not found")
)

// GuestCountTypeError reports a guest_count column whose declared type is not text.
type GuestCountTypeError struct {
	DeclaredType string
}

func (e *GuestCountTypeError) Error() string {
	return fmt.Sprintf("database: guest_count column is %s, expected text", e.DeclaredType)
}

// Hint returns the statement that converts the column to text.
func (e *GuestCountTypeError) Hint() string {
	return guestCountMigrationHint
}

// Prober issues a trivial query and reports its latency.
type Prober interface {
	Probe(ctx context.Context) (time.Duration, error)
}

// ProbeObserver receives probe outcomes.
type ProbeObserver interface {
	ObserveProbe(kind string, duration time.Duration, err error)
}

// Warmup measures the initial connection latency (absorbing provider cold starts) and then
// verifies the guest_count column. Every failure is logged and reported, none is fatal.
func Warmup(ctx context.Context, pool *Pool, observer ProbeObserver, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	latency, err := pool.Probe(ctx)
	if observer != nil {
		observer.ObserveProbe(probeKindWarmup, latency, err)
	}
	if err != nil {
		logger.Warn("database warmup skipped or failed", zap.Error(err))
		return err
	}
	logger.Info("database warmup probe completed", zap.Float64("latency_ms", milliseconds(latency)))

	if err := CheckGuestCountColumn(ctx, pool.Gorm()); err != nil {
		var typeErr *GuestCountTypeError
		if errors.As(err, &typeErr) {
			logger.Warn("schema warning: guest_count is not text",
				zap.String("declared_type", typeErr.DeclaredType),
				zap.String("hint", typeErr.Hint()),
			)
		} else {
			logger.Warn("schema check failed", zap.Error(err))
		}
		return err
	}
	return nil
}

// CheckGuestCountColumn reads the declared type of contact_submissions.guest_count
// through the migrator. It never alters the schema.
func CheckGuestCountColumn(ctx context.Context, db *gorm.DB) error {
	migrator := db.WithContext(ctx).Migrator()
	if !migrator.HasTable(contacts.SubmissionsTable) {
		return ErrSubmissionsTableMissing
	}

	columnTypes, err := migrator.ColumnTypes(contacts.SubmissionsTable)
	if err != nil {
		return fmt.Errorf("database: failed to inspect %s: %w", contacts.SubmissionsTable, err)
	}

	for _, columnType := range columnTypes {
		if !strings.EqualFold(columnType.Name(), contacts.GuestCountColumn) {
			continue
		}
		declared := strings.TrimSpace(columnType.DatabaseTypeName())
		if !strings.EqualFold(declared, "text") {
			return &GuestCountTypeError{DeclaredType: strings.ToLower(declared)}
		}
		return nil
	}
	return ErrGuestCountColumnMissing
}

func milliseconds(duration time.Duration) float64 {
	return float64(duration.Microseconds()) / 1000
}
