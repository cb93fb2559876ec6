package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/lmgate/lmgate/internal/usage"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultStatsMaxSizeMB is the size at which the stats file is rotated.
const DefaultStatsMaxSizeMB = 100

// JSONL appends one JSON object per usage record to an append-only log.
// Each record is written with a single Write call under the writer's lock,
// so concurrent responses never interleave partial lines.
type JSONL struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONLFile opens the stats log at path, rotating it once it grows past
// maxSizeMB megabytes.
func NewJSONLFile(path string, maxSizeMB int) *JSONL {
	if maxSizeMB <= 0 {
		maxSizeMB = DefaultStatsMaxSizeMB
	}
	return NewJSONL(&lumberjack.Logger{
		Filename:  path,
		MaxSize:   maxSizeMB,
		LocalTime: true,
	})
}

// NewJSONL writes records to w.
func NewJSONL(w io.Writer) *JSONL {
	return &JSONL{w: w}
}

// WriteRecord implements RecordWriter.
func (j *JSONL) WriteRecord(_ context.Context, record usage.Record) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode usage record: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.w.Write(line); err != nil {
		return fmt.Errorf("append usage record: %w", err)
	}
	return nil
}

// Close closes the underlying file when it has one.
func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if c, ok := j.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
