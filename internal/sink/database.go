package sink

import (
	"context"

	"github.com/lmgate/lmgate/internal/database"
	"github.com/lmgate/lmgate/internal/usage"
	"gorm.io/gorm"
)

// Database stores usage records as rows of the usage_logs table.
type Database struct {
	db *gorm.DB
}

// NewDatabase returns a writer for db.
func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// WriteRecord implements RecordWriter.
func (d *Database) WriteRecord(ctx context.Context, record usage.Record) error {
	row := database.FromRecord(record)
	return d.db.WithContext(ctx).Create(&row).Error
}
