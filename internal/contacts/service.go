package contacts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries a dotted error code (operation.reason) alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "contacts.service.new"
	opSubmit     = "contacts.submit"

	defaultInsertTimeout = 8 * time.Second
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// InsertObserver receives insert latency observations.
type InsertObserver interface {
	ObserveInsert(duration time.Duration, err error)
}

type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Stats    *InsertStats
	Observer InsertObserver
	Logger   *zap.Logger
	// InsertTimeout bounds how long a submission may wait for a pooled connection and the insert.
	InsertTimeout time.Duration
}

// Service stores contact submissions. Each Submit performs exactly one insert attempt.
type Service struct {
	db            *gorm.DB
	statements    *gorm.DB
	clock         func() time.Time
	stats         *InsertStats
	observer      InsertObserver
	logger        *zap.Logger
	insertTimeout time.Duration
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	stats := cfg.Stats
	if stats == nil {
		stats = NewInsertStats()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	insertTimeout := cfg.InsertTimeout
	if insertTimeout <= 0 {
		insertTimeout = defaultInsertTimeout
	}

	return &Service{
		db:            cfg.Database,
		statements:    cfg.Database.Session(&gorm.Session{PrepareStmt: true}),
		clock:         clock,
		stats:         stats,
		observer:      cfg.Observer,
		logger:        logger,
		insertTimeout: insertTimeout,
	}, nil
}

// Stats exposes the insert stats holder the service writes to.
func (s *Service) Stats() *InsertStats {
	return s.stats
}

// Submit inserts the submission and returns the generated id and creation time.
func (s *Service) Submit(ctx context.Context, submission Submission) (Receipt, error) {
	if s.db == nil {
		s.logError(opSubmit, "missing_database", errMissingDatabase)
		return Receipt{}, newServiceError(opSubmit, "missing_database", errMissingDatabase)
	}

	record := ContactSubmission{
		FullName:   submission.FullName,
		Email:      submission.Email,
		Phone:      submission.Phone,
		EventType:  submission.EventType,
		EventDate:  submission.EventDate,
		GuestCount: submission.GuestCount,
		Message:    submission.Message,
		CreatedAt:  s.clock().UTC(),
	}

	insertCtx, cancel := context.WithTimeout(ctx, s.insertTimeout)
	defer cancel()

	started := time.Now()
	err := s.statements.WithContext(insertCtx).Create(&record).Error
	elapsed := time.Since(started)
	if s.observer != nil {
		s.observer.ObserveInsert(elapsed, err)
	}
	if err != nil {
		s.stats.RecordFailure(err)
		s.logError(opSubmit, "insert_failed", err)
		return Receipt{}, newServiceError(opSubmit, "insert_failed", err)
	}

	s.stats.RecordSuccess(elapsed, s.clock())
	s.logger.Debug("contact submission stored",
		zap.Int64("id", record.ID),
		zap.Float64("latency_ms", float64(elapsed.Microseconds())/1000),
	)

	return Receipt{ID: record.ID, CreatedAt: record.CreatedAt}, nil
}

func (s *Service) logError(operation, reason string, err error) {
	s.logger.Error("contacts service error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	)
}
