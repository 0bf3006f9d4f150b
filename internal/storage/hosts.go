package storage

import (
	"net/url"
	"strings"
)

// HostClass is where a media URL currently lives.
type HostClass int

const (
	HostUnknown HostClass = iota
	HostEphemeral
	HostDurable
)

func (c HostClass) String() string {
	switch c {
	case HostEphemeral:
		return "ephemeral"
	case HostDurable:
		return "durable"
	default:
		return "unknown"
	}
}

// HostClassifier matches URL hosts against known provider and storage domains.
// A listed domain also matches its subdomains.
type HostClassifier struct {
	ephemeral []string
	durable   []string
}

// NewHostClassifier builds a classifier. Durable entries may be bare hosts or
// base URLs (the host is extracted).
func NewHostClassifier(ephemeral, durable []string) *HostClassifier {
	return &HostClassifier{ephemeral: normalizeHosts(ephemeral), durable: normalizeHosts(durable)}
}

// Classify reports the class of rawURL. Durable wins when a host is listed twice.
func (c *HostClassifier) Classify(rawURL string) HostClass {
	host := hostOf(rawURL)
	if host == "" {
		return HostUnknown
	}
	if matchHost(host, c.durable) {
		return HostDurable
	}
	if matchHost(host, c.ephemeral) {
		return HostEphemeral
	}
	return HostUnknown
}

func normalizeHosts(in []string) []string {
	out := make([]string, 0, len(in))
	for _, h := range in {
		h = strings.TrimSpace(h)
		if strings.Contains(h, "://") {
			h = hostOf(h)
		}
		h = strings.TrimPrefix(strings.ToLower(h), ".")
		if h != "" {
			out = append(out, h)
		}
	}
	return out
}

func hostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func matchHost(host string, domains []string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
