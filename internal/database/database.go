package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	DB   *gorm.DB
	once sync.Once
)

// Config holds the database configuration
type Config struct {
	Driver string // "sqlite", "mysql" or "postgres"; empty disables the database
	DSN    string // Data Source Name (connection string)
	Dir    string // Directory for the SQLite file when DSN is empty
}

// Enabled reports whether a driver is configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Driver) != ""
}

// Init opens the database connection and migrates the usage_logs table.
func Init(cfg Config) error {
	var err error
	once.Do(func() {
		var dialector gorm.Dialector
		dialector, err = openDialector(cfg)
		if err != nil {
			return
		}

		db, openErr := gorm.Open(dialector, &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if openErr != nil {
			err = openErr
			return
		}

		if migrateErr := db.AutoMigrate(&UsageLog{}); migrateErr != nil {
			err = fmt.Errorf("migrate usage_logs: %w", migrateErr)
			return
		}
		DB = db
	})

	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	return nil
}

func openDialector(cfg Config) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "mysql":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("mysql driver requires a dsn")
		}
		return mysql.Open(cfg.DSN), nil
	case "postgres", "postgresql", "pgx":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres driver requires a dsn")
		}
		connConfig, err := pgx.ParseConfig(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse postgres dsn: %w", err)
		}
		return postgres.New(postgres.Config{Conn: stdlib.OpenDB(*connConfig)}), nil
	case "sqlite", "sqlite3":
		dbPath := cfg.DSN
		if dbPath == "" {
			dbPath = "lmgate.db"
			if cfg.Dir != "" {
				if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
					log.Warnf("failed to create database directory: %v", err)
				}
				dbPath = filepath.Join(cfg.Dir, "lmgate.db")
			}
		}
		return sqlite.Open(dbPath), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Close releases the connection pool.
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
