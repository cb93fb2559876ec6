package usage

import (
	"math"
	"strconv"

	"github.com/tidwall/gjson"
)

type tokenLayout struct {
	container string
	input     string
	output    string
}

var tokenLayouts = map[Provider]tokenLayout{
	ProviderOpenAI:    {container: "usage", input: "prompt_tokens", output: "completion_tokens"},
	ProviderAnthropic: {container: "usage", input: "input_tokens", output: "output_tokens"},
	ProviderGoogle:    {container: "usageMetadata", input: "promptTokenCount", output: "candidatesTokenCount"},
}

// ExtractTokens reads the input and output token counts from a payload using
// the provider's field layout. A nil count means the value was absent or
// unreadable; a genuine zero is reported as zero.
func ExtractTokens(provider Provider, payload *Payload) (input, output *int64) {
	if payload == nil {
		return nil, nil
	}
	layout, ok := tokenLayouts[provider]
	if !ok {
		return nil, nil
	}
	node := payload.Get(layout.container)
	if !node.IsObject() {
		return nil, nil
	}
	return tokenCount(node.Get(layout.input)), tokenCount(node.Get(layout.output))
}

// tokenCount accepts only non-negative integral JSON numbers that fit in an
// int64.
func tokenCount(node gjson.Result) *int64 {
	if node.Type != gjson.Number {
		return nil
	}
	if n, err := strconv.ParseInt(node.Raw, 10, 64); err == nil {
		if n < 0 {
			return nil
		}
		return &n
	}
	// Integral values written as floats or exponents, e.g. 4.0 or 1e3.
	f := node.Float()
	if f < 0 || f != math.Trunc(f) || f >= 1<<63 {
		return nil
	}
	n := int64(f)
	return &n
}
