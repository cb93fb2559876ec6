package database

import (
	"time"

	"github.com/lmgate/lmgate/internal/usage"
)

// UsageLog is one usage record stored in the database.
type UsageLog struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	LMGateID      string    `gorm:"index;size:64" json:"lmgate_id"`
	Timestamp     time.Time `gorm:"index" json:"timestamp"`
	Provider      string    `gorm:"size:32;index" json:"provider"`
	Endpoint      string    `gorm:"size:255" json:"endpoint"`
	Model         *string   `gorm:"size:100;index" json:"model"`
	Status        int       `gorm:"index" json:"status"`
	InputTokens   *int64    `json:"input_tokens"`
	OutputTokens  *int64    `json:"output_tokens"`
	MaskedKey     string    `gorm:"size:32" json:"masked_key"`
	BodyTruncated bool      `json:"body_truncated"`
	ErrorType     *string   `gorm:"size:64" json:"error_type"`
}

// FromRecord converts a usage record into a row.
func FromRecord(r usage.Record) UsageLog {
	return UsageLog{
		LMGateID:      r.LMGateID,
		Timestamp:     r.Timestamp,
		Provider:      string(r.Provider),
		Endpoint:      r.Endpoint,
		Model:         r.Model,
		Status:        r.Status,
		InputTokens:   r.InputTokens,
		OutputTokens:  r.OutputTokens,
		MaskedKey:     r.MaskedKey,
		BodyTruncated: r.BodyTruncated,
		ErrorType:     r.ErrorType,
	}
}
