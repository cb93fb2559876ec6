package sink

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/lmgate/lmgate/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestDatabaseWriterStoresRecords(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:sinkdb?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&database.UsageLog{}))

	NewAccounting(NewDatabase(db)).Deliver(context.Background(), openAICapture())

	var rows []database.UsageLog
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "42", rows[0].LMGateID)
	assert.Equal(t, "openai", rows[0].Provider)
	assert.Equal(t, "123456", rows[0].MaskedKey)
	require.NotNil(t, rows[0].Model)
	assert.Equal(t, "gpt-4", *rows[0].Model)
	require.NotNil(t, rows[0].OutputTokens)
	assert.Equal(t, int64(5), *rows[0].OutputTokens)
}
