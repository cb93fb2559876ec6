// Package usage turns observed LLM API responses into usage records.
// It classifies the upstream provider, parses the response body and extracts
// token counts, and keeps in-memory statistics over the produced records.
package usage

import (
	"time"

	"github.com/lmgate/lmgate/internal/auth"
)

// Capture is the raw view of one observed response, as the proxy saw it.
// It is what the network strategy ships to a collector.
type Capture struct {
	Timestamp     time.Time `json:"timestamp"`
	ClientIP      string    `json:"client_ip"`
	Method        string    `json:"method"`
	URI           string    `json:"uri"`
	Host          string    `json:"host"`
	Status        int       `json:"status"`
	Authorization string    `json:"auth_key_header"`
	APIKey        string    `json:"auth_x_api_key"`
	LMGateID      string    `json:"lmgate_internal_id"`
	ResponseBody  string    `json:"response_body"`
	BodyTruncated bool      `json:"body_truncated"`
}

// Record is the usage-accounting entry written for each observed response.
// Optional fields are nil when unknown; they never default to zero.
type Record struct {
	Timestamp     time.Time `json:"timestamp"`
	LMGateID      string    `json:"lmgate_id"`
	Provider      Provider  `json:"provider"`
	Endpoint      string    `json:"endpoint"`
	Model         *string   `json:"model"`
	Status        int       `json:"status"`
	InputTokens   *int64    `json:"input_tokens"`
	OutputTokens  *int64    `json:"output_tokens"`
	MaskedKey     string    `json:"masked_key"`
	BodyTruncated bool      `json:"body_truncated"`
	ErrorType     *string   `json:"error_type"`
}

// BuildRecord derives a usage record from a capture. It never fails: anything
// that can't be parsed or extracted is left nil.
func BuildRecord(c *Capture) Record {
	if c == nil {
		return Record{Timestamp: time.Now().UTC(), Provider: ProviderUnknown}
	}
	timestamp := c.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	provider := IdentifyProvider(c.Host)
	payload := Parse([]byte(c.ResponseBody))
	input, output := ExtractTokens(provider, payload)

	return Record{
		Timestamp:     timestamp,
		LMGateID:      c.LMGateID,
		Provider:      provider,
		Endpoint:      c.URI,
		Model:         payload.Model(),
		Status:        c.Status,
		InputTokens:   input,
		OutputTokens:  output,
		MaskedKey:     auth.MaskCredential(c.Authorization, c.APIKey),
		BodyTruncated: c.BodyTruncated,
	}
}

// TotalTokens sums the known token counts.
func (r Record) TotalTokens() int64 {
	var total int64
	if r.InputTokens != nil {
		total += *r.InputTokens
	}
	if r.OutputTokens != nil {
		total += *r.OutputTokens
	}
	return total
}
