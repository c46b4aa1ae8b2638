// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package store keeps a log of modem traffic in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/Thermoquad/acomms/pkg/acomms"
)

// Config holds database configuration
type Config struct {
	Path string // Path to SQLite database file
}

// DB is the traffic log.
type DB struct {
	db  *gorm.DB
	log *slog.Logger
}

// Open creates or opens the database with the pure Go SQLite driver.
func Open(config Config, log *slog.Logger) (*DB, error) {
	if log == nil {
		log = slog.Default()
	}
	gormLog := logger.New(
		slog.NewLogLogger(log.Handler(), slog.LevelWarn),
		logger.Config{
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	dialector := sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        config.Path,
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", config.Path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := configureSQLite(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.AutoMigrate(&Line{}, &Transmission{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate %s: %w", config.Path, err)
	}

	log.Info("traffic log opened", "path", config.Path)
	return &DB{db: db, log: log}, nil
}

func configureSQLite(sqlDB *sql.DB) error {
	pragmaSettings := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=memory",
	}
	for _, pragma := range pragmaSettings {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks if the database connection is healthy
func (db *DB) Health() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// AddLine stores one raw line. Delimiters are trimmed.
func (db *DB) AddLine(vendor string, modemID int, dir, text string, at time.Time) error {
	return db.db.Create(&Line{
		Time:      at,
		Driver:    vendor,
		ModemID:   modemID,
		Direction: dir,
		Text:      strings.TrimRight(text, "\r\n"),
	}).Error
}

// AddTransmission stores m under event.
func (db *DB) AddTransmission(vendor, event string, m *acomms.ModemTransmission) error {
	t, err := NewTransmission(vendor, event, m)
	if err != nil {
		return err
	}
	return db.db.Create(t).Error
}

// Transmissions returns up to limit records for event (all events when
// empty), newest first.
func (db *DB) Transmissions(event string, limit int) ([]Transmission, error) {
	q := db.db.Order("id DESC").Limit(limit)
	if event != "" {
		q = q.Where("event = ?", event)
	}
	var out []Transmission
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Lines returns up to limit raw lines, newest first.
func (db *DB) Lines(limit int) ([]Line, error) {
	var out []Line
	if err := db.db.Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Prune deletes records older than before.
func (db *DB) Prune(before time.Time) (int64, error) {
	var total int64
	for _, model := range []any{&Line{}, &Transmission{}} {
		res := db.db.Where("time < ?", before).Delete(model)
		if res.Error != nil {
			return total, res.Error
		}
		total += res.RowsAffected
	}
	return total, nil
}

// Attach logs every raw line and received transmission reported through
// sig. Storage failures are logged and do not reach the driver.
func (db *DB) Attach(vendor string, modemID int, sig *acomms.Signals) {
	sig.OnRawIncoming(func(line string) {
		if err := db.AddLine(vendor, modemID, DirIn, line, time.Now().UTC()); err != nil {
			db.log.Warn("failed to store line", "error", err)
		}
	})
	sig.OnRawOutgoing(func(line string) {
		if err := db.AddLine(vendor, modemID, DirOut, line, time.Now().UTC()); err != nil {
			db.log.Warn("failed to store line", "error", err)
		}
	})
	sig.OnReceive(func(m *acomms.ModemTransmission) {
		if err := db.AddTransmission(vendor, EventReceive, m); err != nil {
			db.log.Warn("failed to store transmission", "error", err)
		}
	})
}
