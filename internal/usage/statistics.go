package usage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Statistics maintains aggregated usage metrics in memory.
type Statistics struct {
	mu sync.RWMutex

	totalRequests int64
	successCount  int64
	failureCount  int64
	truncated     int64
	inputTokens   int64
	outputTokens  int64

	providers map[Provider]*providerStats

	requestsByDay  map[string]int64
	requestsByHour map[int]int64
	tokensByDay    map[string]int64
}

// providerStats holds aggregated metrics for a single provider.
type providerStats struct {
	TotalRequests int64
	TotalTokens   int64
	Models        map[string]*modelStats
}

type modelStats struct {
	TotalRequests int64
	InputTokens   int64
	OutputTokens  int64
}

// StatisticsSnapshot is an immutable view of the aggregated metrics.
type StatisticsSnapshot struct {
	TotalRequests int64 `json:"total_requests"`
	SuccessCount  int64 `json:"success_count"`
	FailureCount  int64 `json:"failure_count"`
	Truncated     int64 `json:"truncated"`
	InputTokens   int64 `json:"input_tokens"`
	OutputTokens  int64 `json:"output_tokens"`

	Providers map[Provider]ProviderSnapshot `json:"providers"`

	RequestsByDay  map[string]int64 `json:"requests_by_day"`
	RequestsByHour map[string]int64 `json:"requests_by_hour"`
	TokensByDay    map[string]int64 `json:"tokens_by_day"`
}

// ProviderSnapshot summarises metrics for a single provider.
type ProviderSnapshot struct {
	TotalRequests int64                    `json:"total_requests"`
	TotalTokens   int64                    `json:"total_tokens"`
	Models        map[string]ModelSnapshot `json:"models"`
}

// ModelSnapshot summarises metrics for a specific model.
type ModelSnapshot struct {
	TotalRequests int64 `json:"total_requests"`
	InputTokens   int64 `json:"input_tokens"`
	OutputTokens  int64 `json:"output_tokens"`
}

// NewStatistics constructs an empty statistics store.
func NewStatistics() *Statistics {
	return &Statistics{
		providers:      make(map[Provider]*providerStats),
		requestsByDay:  make(map[string]int64),
		requestsByHour: make(map[int]int64),
		tokensByDay:    make(map[string]int64),
	}
}

// WriteRecord ingests a usage record and updates the aggregates.
func (s *Statistics) WriteRecord(_ context.Context, record Record) error {
	if s == nil {
		return nil
	}
	timestamp := record.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	modelName := "unknown"
	if record.Model != nil && *record.Model != "" {
		modelName = *record.Model
	}
	var input, output int64
	if record.InputTokens != nil {
		input = *record.InputTokens
	}
	if record.OutputTokens != nil {
		output = *record.OutputTokens
	}
	dayKey := timestamp.Format("2006-01-02")

	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalRequests++
	if record.Status >= 400 {
		s.failureCount++
	} else {
		s.successCount++
	}
	if record.BodyTruncated {
		s.truncated++
	}
	s.inputTokens += input
	s.outputTokens += output

	stats, ok := s.providers[record.Provider]
	if !ok {
		stats = &providerStats{Models: make(map[string]*modelStats)}
		s.providers[record.Provider] = stats
	}
	stats.TotalRequests++
	stats.TotalTokens += input + output
	model, ok := stats.Models[modelName]
	if !ok {
		model = &modelStats{}
		stats.Models[modelName] = model
	}
	model.TotalRequests++
	model.InputTokens += input
	model.OutputTokens += output

	s.requestsByDay[dayKey]++
	s.requestsByHour[timestamp.Hour()]++
	s.tokensByDay[dayKey] += input + output
	return nil
}

// Snapshot returns a copy of the aggregated metrics.
func (s *Statistics) Snapshot() StatisticsSnapshot {
	result := StatisticsSnapshot{}
	if s == nil {
		return result
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result.TotalRequests = s.totalRequests
	result.SuccessCount = s.successCount
	result.FailureCount = s.failureCount
	result.Truncated = s.truncated
	result.InputTokens = s.inputTokens
	result.OutputTokens = s.outputTokens

	result.Providers = make(map[Provider]ProviderSnapshot, len(s.providers))
	for provider, stats := range s.providers {
		snapshot := ProviderSnapshot{
			TotalRequests: stats.TotalRequests,
			TotalTokens:   stats.TotalTokens,
			Models:        make(map[string]ModelSnapshot, len(stats.Models)),
		}
		for name, model := range stats.Models {
			snapshot.Models[name] = ModelSnapshot{
				TotalRequests: model.TotalRequests,
				InputTokens:   model.InputTokens,
				OutputTokens:  model.OutputTokens,
			}
		}
		result.Providers[provider] = snapshot
	}

	result.RequestsByDay = copyMap(s.requestsByDay)
	result.TokensByDay = copyMap(s.tokensByDay)
	result.RequestsByHour = make(map[string]int64, len(s.requestsByHour))
	for hour, count := range s.requestsByHour {
		result.RequestsByHour[formatHour(hour)] = count
	}
	return result
}

func copyMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func formatHour(hour int) string {
	if hour < 0 {
		hour = 0
	}
	return fmt.Sprintf("%02d", hour%24)
}
