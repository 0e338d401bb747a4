package database

import (
	"fmt"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenSQLite opens a single-connection SQLite pool for local runs and tests. It never
// creates the submissions table; callers own the schema.
func OpenSQLite(path string, probeTimeout time.Duration, logger *zap.Logger) (*Pool, error) {
	if path == "" {
		return nil, fmt.Errorf("database: sqlite path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if logger != nil {
		logger.Info("sqlite database opened", zap.String("path", path))
	}

	return NewPool(db, probeTimeout)
}
