package usage

import (
	"bytes"

	"github.com/tidwall/gjson"
)

var (
	sseDataPrefix = []byte("data:")
	sseDone       = []byte("[DONE]")
)

// Payload is the structured document a usage record is extracted from.
// A nil *Payload means nothing in the body could be parsed.
type Payload struct {
	root gjson.Result
}

// Get returns the value at a gjson path inside the payload.
func (p *Payload) Get(path string) gjson.Result {
	if p == nil {
		return gjson.Result{}
	}
	return p.root.Get(path)
}

// Raw returns the raw JSON text of the payload.
func (p *Payload) Raw() string {
	if p == nil {
		return ""
	}
	return p.root.Raw
}

// Model returns the model name reported by the upstream, or nil when the
// payload carries none. Gemini reports it as modelVersion.
func (p *Payload) Model() *string {
	for _, path := range []string{"model", "modelVersion"} {
		node := p.Get(path)
		if node.Type == gjson.String && node.Str != "" {
			model := node.Str
			return &model
		}
	}
	return nil
}

// Parse turns an accumulated response body into a payload.
//
// The whole body is tried as JSON first. Otherwise the body is read as an
// event stream and the last data line that holds valid JSON wins, since the
// final events of a stream carry the most complete usage summary.
func Parse(body []byte) *Payload {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	if gjson.ValidBytes(trimmed) {
		return &Payload{root: gjson.ParseBytes(trimmed)}
	}

	var last *Payload
	for _, line := range bytes.Split(trimmed, []byte("\n")) {
		data, ok := eventData(line)
		if !ok {
			continue
		}
		if gjson.ValidBytes(data) {
			last = &Payload{root: gjson.ParseBytes(data)}
		}
	}
	return last
}

// eventData returns the data of an SSE data line, skipping the stream
// termination sentinel.
func eventData(line []byte) ([]byte, bool) {
	line = bytes.TrimSpace(line)
	if !bytes.HasPrefix(line, sseDataPrefix) {
		return nil, false
	}
	data := bytes.TrimSpace(line[len(sseDataPrefix):])
	if len(data) == 0 || bytes.Equal(data, sseDone) {
		return nil, false
	}
	return data, true
}
