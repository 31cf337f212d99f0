package models

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	_ "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"PromptToMovie-server/config"
)

// Open connects to the configured database and migrates the pipeline tables.
func Open(cfg *config.Config) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	switch cfg.Database.Driver {
	case "sqlite":
		db, err = OpenSQLite(cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
	default:
		sqlDB, err := sql.Open("mysql", cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
		if err := sqlDB.Ping(); err != nil {
			return nil, fmt.Errorf("ping mysql: %w", err)
		}
		db, err = gorm.Open(mysql.New(mysql.Config{Conn: sqlDB}), gcfg)
		if err != nil {
			return nil, fmt.Errorf("init gorm: %w", err)
		}
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenSQLite opens a SQLite database. SQLite allows a single writer, so the pool is
// pinned to one connection to keep concurrent scene updates from hitting SQLITE_BUSY.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&Movie{},
		&Scene{},
		&Character{},
		&Location{},
		&ProviderBinding{},
		&ProviderCredential{},
		&ProgressLedger{},
	); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
