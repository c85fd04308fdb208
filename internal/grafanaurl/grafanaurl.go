// Package grafanaurl extracts and normalizes embedded Grafana panel URLs.
package grafanaurl

import (
	"net"
	"net/url"
	"regexp"
	"strings"
)

const (
	// TimeRangeFrom is the relative start applied when a time range is requested.
	TimeRangeFrom = "now-24h"
	// TimeRangeTo is the relative end applied when a time range is requested.
	TimeRangeTo = "now"

	protocolRelativePrefix = "//"
	defaultScheme          = "https:"
)

var srcAttributePattern = regexp.MustCompile(`(?i)src\s*=\s*['"]([^'"]+)['"]`)

// Options tunes Normalize.
type Options struct {
	AddTimeRange bool
}

// Extract returns the src attribute of an iframe snippet, or the trimmed input when
// no src attribute is present.
func Extract(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	match := srcAttributePattern.FindStringSubmatch(trimmed)
	if len(match) == 2 {
		return strings.TrimSpace(match[1])
	}
	return trimmed
}

// Normalize extracts a panel URL and validates it as an absolute URL. The boolean
// result is false when the input cannot be turned into one.
func Normalize(raw string, opts Options) (string, bool) {
	candidate := Extract(raw)
	if candidate == "" {
		return "", false
	}
	if strings.HasPrefix(candidate, protocolRelativePrefix) {
		candidate = defaultScheme + candidate
	}

	parsed, err := url.Parse(escapeStrayPercents(candidate))
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" {
		return "", false
	}
	if _, hierarchical := defaultPorts[parsed.Scheme]; hierarchical {
		if parsed.Host == "" {
			// "http:/host/path" and "http:host/path" name a host like "http://host/path".
			rest := strings.TrimLeft(candidate[len(parsed.Scheme)+1:], `/\`)
			parsed, err = url.Parse(parsed.Scheme + "://" + escapeStrayPercents(rest))
			if err != nil || parsed.Host == "" {
				return "", false
			}
		}
		parsed.Host = canonicalHost(parsed.Scheme, parsed.Host)
		if parsed.Path == "" {
			parsed.Path = "/"
		}
	}

	if opts.AddTimeRange {
		query := parsed.Query()
		query.Set("from", TimeRangeFrom)
		query.Set("to", TimeRangeTo)
		parsed.RawQuery = query.Encode()
	}

	return parsed.String(), true
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
	"ftp":   "21",
}

// canonicalHost lowercases the host and drops the scheme's default port.
func canonicalHost(scheme, host string) string {
	host = strings.ToLower(host)
	name, port, err := net.SplitHostPort(host)
	if err != nil || port != defaultPorts[scheme] {
		return host
	}
	if strings.Contains(name, ":") {
		return "[" + name + "]"
	}
	return name
}

// escapeStrayPercents encodes a '%' that does not start a valid escape so the URL
// still parses; it serializes as "%25".
func escapeStrayPercents(raw string) string {
	if !strings.Contains(raw, "%") {
		return raw
	}
	var builder strings.Builder
	builder.Grow(len(raw))
	for index := 0; index < len(raw); index++ {
		if raw[index] == '%' && (index+2 >= len(raw) || !isHex(raw[index+1]) || !isHex(raw[index+2])) {
			builder.WriteString("%25")
			continue
		}
		builder.WriteByte(raw[index])
	}
	return builder.String()
}

func isHex(char byte) bool {
	return ('0' <= char && char <= '9') || ('a' <= char && char <= 'f') || ('A' <= char && char <= 'F')
}
