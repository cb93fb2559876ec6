package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmptyBody(t *testing.T) {
	assert.Nil(t, Parse(nil))
	assert.Nil(t, Parse([]byte("")))
	assert.Nil(t, Parse([]byte("  \n ")))
}

func TestParseDirectJSON(t *testing.T) {
	payload := Parse([]byte(`{"model":"gpt-4","usage":{"prompt_tokens":10}}`))
	require.NotNil(t, payload)
	assert.Equal(t, int64(10), payload.Get("usage.prompt_tokens").Int())
	require.NotNil(t, payload.Model())
	assert.Equal(t, "gpt-4", *payload.Model())
}

func TestParseEventStreamKeepsLastEvent(t *testing.T) {
	body := "event: message_start\n" +
		"data: {\"type\":\"message_start\",\"usage\":{\"input_tokens\":1}}\n\n" +
		"data: not-json\n" +
		"data: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":7}}\n" +
		"data: [DONE]\n"
	payload := Parse([]byte(body))
	require.NotNil(t, payload)
	assert.Equal(t, "message_delta", payload.Get("type").String())
}

func TestParseEventStreamWithoutSpaceAfterPrefix(t *testing.T) {
	payload := Parse([]byte("data:{\"a\":1}\r\ndata:[DONE]\r\n"))
	require.NotNil(t, payload)
	assert.Equal(t, int64(1), payload.Get("a").Int())
}

func TestParseGarbage(t *testing.T) {
	assert.Nil(t, Parse([]byte("not json at all")))
	assert.Nil(t, Parse([]byte("data: [DONE]\n")))
	assert.Nil(t, Parse([]byte(`{"truncated":`)))
}

func TestPayloadModelFallsBackToModelVersion(t *testing.T) {
	payload := Parse([]byte(`{"modelVersion":"gemini-1.5-pro"}`))
	require.NotNil(t, payload.Model())
	assert.Equal(t, "gemini-1.5-pro", *payload.Model())

	assert.Nil(t, Parse([]byte(`{"model":42}`)).Model())
	var missing *Payload
	assert.Nil(t, missing.Model())
}
