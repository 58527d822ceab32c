// Package constant defines provider name constants used throughout the proxy.
package constant

const (
	// Claude represents the Anthropic Claude wire format this proxy accepts from clients.
	Claude = "claude"

	// Antigravity represents the Google Cloud Code upstream this proxy forwards to.
	Antigravity = "antigravity"
)
