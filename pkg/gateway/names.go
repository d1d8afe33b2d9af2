package gateway

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	gatewayNameSuffix = "-proxy"
	// maxGatewayName is the control plane's limit for resource names.
	maxGatewayName = 63
)

var nonNameChars = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeBaseURL ensures baseURL carries a scheme (https by default) and
// has no trailing slash.
func NormalizeBaseURL(baseURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if strings.Contains(trimmed, "://") {
		return trimmed
	}
	return "https://" + trimmed
}

// ParseBaseURL normalizes baseURL and returns it with its host.
func ParseBaseURL(baseURL string) (normalized, host string, err error) {
	normalized = NormalizeBaseURL(baseURL)
	u, err := url.Parse(normalized)
	if err != nil {
		return "", "", fmt.Errorf("parse base url %q: %w", baseURL, err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("base url %q has no host", baseURL)
	}
	return normalized, u.Host, nil
}

// GatewayName derives the gateway name for host: lower-cased, every run of
// characters outside [a-z0-9] replaced by "-", suffixed with "-proxy".
// E.g. "api.example.com" → "api-example-com-proxy".
//
// Names must start with a letter, so hosts starting with a digit (bare IPs)
// get a "gw-" prefix: "10.0.0.5" → "gw-10-0-0-5-proxy".
func GatewayName(host string) string {
	s := strings.ToLower(host)
	s = nonNameChars.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		s = "gw-" + s
		s = strings.TrimRight(s, "-")
	}
	if limit := maxGatewayName - len(gatewayNameSuffix); len(s) > limit {
		s = strings.TrimRight(s[:limit], "-")
	}
	return s + gatewayNameSuffix
}

// DeriveGatewayName maps a base URL to its gateway name. URLs that differ
// only by scheme or trailing slash map to the same name.
func DeriveGatewayName(baseURL string) (string, error) {
	_, host, err := ParseBaseURL(baseURL)
	if err != nil {
		return "", err
	}
	return GatewayName(host), nil
}
