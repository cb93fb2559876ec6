package usage

import "strings"

// Provider identifies the vendor behind an upstream host.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
	ProviderUnknown   Provider = "unknown"
)

var hostToProvider = map[string]Provider{
	"api.openai.com":                    ProviderOpenAI,
	"api.anthropic.com":                 ProviderAnthropic,
	"aiplatform.googleapis.com":         ProviderGoogle,
	"generativelanguage.googleapis.com": ProviderGoogle,
}

// IdentifyProvider maps the selected upstream host to a provider tag.
// Hosts missing from the table, including the empty host, map to ProviderUnknown.
func IdentifyProvider(host string) Provider {
	host = strings.TrimSpace(host)
	if host == "" {
		return ProviderUnknown
	}
	if p, ok := hostToProvider[host]; ok {
		return p
	}
	return ProviderUnknown
}
