package domain

import (
	"fmt"
	"net/netip"
	"net/url"
	"regexp"
	"strings"
)

type IOCType string

const (
	IPAddress IOCType = "ip"
	Domain    IOCType = "domain"
	FileHash  IOCType = "hash"
	URL       IOCType = "url"
)

// IOC is a normalized indicator of compromise. Immutable once created;
// equality and cache keys depend only on (Type, CanonicalValue).
type IOC struct {
	Type           IOCType `json:"type"`
	CanonicalValue string  `json:"canonical_value"`
	RawValue       string  `json:"raw_value"`
}

// CacheKey returns the stable cache key for this indicator.
// Two raw strings that normalize identically share the same key.
func (i IOC) CacheKey() string {
	return string(i.Type) + ":" + i.CanonicalValue
}

// ParseIOCType converts a wire-level type string into an IOCType.
// An empty string means "auto-detect" and returns the zero value.
func ParseIOCType(s string) (IOCType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "ip", "ipv4", "ipv6":
		return IPAddress, nil
	case "domain", "hostname":
		return Domain, nil
	case "hash", "file_hash", "md5", "sha1", "sha256":
		return FileHash, nil
	case "url":
		return URL, nil
	default:
		return "", fmt.Errorf("%w: unknown ioc type %q", ErrInvalidIOC, s)
	}
}

var (
	hashRe   = regexp.MustCompile(`^[A-Fa-f0-9]+$`)
	domainRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`)
	tldRe    = regexp.MustCompile(`\.[a-z]{2,}$`)
)

// Normalize canonicalizes a raw indicator string into a typed IOC.
// With a non-empty hint only that type's grammar is attempted; otherwise
// detection runs in a fixed order (ip, hash, url, domain) so the result is
// deterministic for ambiguous inputs.
func Normalize(raw string, hint IOCType) (IOC, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IOC{}, fmt.Errorf("%w: empty value", ErrInvalidIOC)
	}

	order := []IOCType{IPAddress, FileHash, URL, Domain}
	if hint != "" {
		order = []IOCType{hint}
	}

	for _, t := range order {
		if canonical, ok := canonicalize(trimmed, t); ok {
			return IOC{Type: t, CanonicalValue: canonical, RawValue: raw}, nil
		}
	}

	return IOC{}, fmt.Errorf("%w: %q matches no supported indicator grammar", ErrInvalidIOC, raw)
}

func canonicalize(value string, t IOCType) (string, bool) {
	switch t {
	case IPAddress:
		return canonicalIP(value)
	case FileHash:
		return canonicalHash(value)
	case URL:
		return canonicalURL(value)
	case Domain:
		return canonicalDomain(value)
	default:
		return "", false
	}
}

// canonicalIP renders IPv4 dotted-quad and IPv6 in compressed lowercase form.
func canonicalIP(value string) (string, bool) {
	addr, err := netip.ParseAddr(value)
	if err != nil {
		return "", false
	}
	return addr.String(), true
}

// canonicalHash accepts hex digests of MD5 (32), SHA-1 (40) and SHA-256 (64) length.
func canonicalHash(value string) (string, bool) {
	switch len(value) {
	case 32, 40, 64:
	default:
		return "", false
	}
	if !hashRe.MatchString(value) {
		return "", false
	}
	return strings.ToLower(value), true
}

func canonicalDomain(value string) (string, bool) {
	name := strings.ToLower(strings.TrimSuffix(value, "."))
	if len(name) > 253 || !domainRe.MatchString(name) {
		return "", false
	}
	// The final label must look like a TLD, which also rejects bare IPv4.
	if !tldRe.MatchString(name) {
		return "", false
	}
	return name, true
}

// canonicalURL lowers the scheme and host, removes default ports and
// percent-decodes unreserved characters in path and query. The fragment is
// dropped: it never reaches the origin and must not split cache keys.
func canonicalURL(value string) (string, bool) {
	if !strings.Contains(value, "://") {
		return "", false
	}
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Hostname() == "" {
		return "", false
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}

	var sb strings.Builder
	sb.WriteString(scheme)
	sb.WriteString("://")
	sb.WriteString(host)
	if port != "" {
		sb.WriteString(":")
		sb.WriteString(port)
	}
	sb.WriteString(decodeUnreserved(u.EscapedPath()))
	if u.RawQuery != "" {
		sb.WriteString("?")
		sb.WriteString(decodeUnreserved(u.RawQuery))
	}
	return sb.String(), true
}

// decodeUnreserved rewrites %XX escapes of RFC 3986 unreserved characters to
// their literal form and upper-cases the hex of every escape that must stay
// encoded, so equivalent encodings collapse to one representation.
func decodeUnreserved(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			hi, okHi := unhex(s[i+1])
			lo, okLo := unhex(s[i+2])
			if okHi && okLo {
				b := hi<<4 | lo
				if isUnreserved(b) {
					sb.WriteByte(b)
				} else {
					sb.WriteByte('%')
					sb.WriteByte(upperHex(s[i+1]))
					sb.WriteByte(upperHex(s[i+2]))
				}
				i += 2
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func isUnreserved(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == '-' || b == '.' || b == '_' || b == '~':
		return true
	}
	return false
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func upperHex(c byte) byte {
	if c >= 'a' && c <= 'f' {
		return c - 'a' + 'A'
	}
	return c
}
