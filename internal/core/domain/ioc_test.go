package domain

import (
	"errors"
	"testing"
	"time"
)

func TestNormalizeDetection(t *testing.T) {
	tests := []struct {
		name          string
		raw           string
		wantType      IOCType
		wantCanonical string
	}{
		{"IPv4", "192.168.1.100", IPAddress, "192.168.1.100"},
		{"IPv4 untrimmed", "  192.168.1.100  ", IPAddress, "192.168.1.100"},
		{"IPv6 compressed", "2001:0db8:0000:0000:0000:0000:0000:0001", IPAddress, "2001:db8::1"},
		{"MD5 lowered", "D41D8CD98F00B204E9800998ECF8427E", FileHash, "d41d8cd98f00b204e9800998ecf8427e"},
		{"SHA-256", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", FileHash, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"domain lowered", "EVIL.Example.COM", Domain, "evil.example.com"},
		{"domain trailing dot", "evil.example.com.", Domain, "evil.example.com"},
		{"url default port dropped", "http://evil.example.com:80/path", URL, "http://evil.example.com/path"},
		{"url https default port dropped", "HTTPS://Evil.Example.com:443/a", URL, "https://evil.example.com/a"},
		{"url non-default port kept", "http://evil.example.com:8080/a", URL, "http://evil.example.com:8080/a"},
		{"url fragment dropped", "http://evil.example.com/a#frag", URL, "http://evil.example.com/a"},
		{"url unreserved percent decoded", "http://evil.example.com/%61%62c", URL, "http://evil.example.com/abc"},
		{"url reserved escape kept uppercase", "http://evil.example.com/a%2fb", URL, "http://evil.example.com/a%2Fb"},
		{"url query kept", "http://evil.example.com/a?x=1", URL, "http://evil.example.com/a?x=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ioc, err := Normalize(tt.raw, "")
			if err != nil {
				t.Fatalf("Normalize(%q) error: %v", tt.raw, err)
			}
			if ioc.Type != tt.wantType {
				t.Errorf("type = %q, want %q", ioc.Type, tt.wantType)
			}
			if ioc.CanonicalValue != tt.wantCanonical {
				t.Errorf("canonical = %q, want %q", ioc.CanonicalValue, tt.wantCanonical)
			}
		})
	}
}

func TestNormalizeInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		hint IOCType
	}{
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
		{"garbage", "not an indicator!!", ""},
		{"hash wrong length", "abcdef0123456789", ""},
		{"bare label no tld", "localhost", ""},
		{"hint mismatch ip", "evil.example.com", IPAddress},
		{"hint mismatch hash", "192.168.1.100", FileHash},
		{"url without scheme", "evil.example.com/path", URL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.raw, tt.hint)
			if err == nil {
				t.Fatalf("Normalize(%q, %q) expected error", tt.raw, tt.hint)
			}
			if !errors.Is(err, ErrInvalidIOC) {
				t.Errorf("error = %v, want ErrInvalidIOC", err)
			}
		})
	}
}

func TestNormalizeEquivalentRawsShareCacheKey(t *testing.T) {
	a, err := Normalize("EVIL.example.COM", "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Normalize("evil.example.com.", "")
	if err != nil {
		t.Fatal(err)
	}
	if a.CacheKey() != b.CacheKey() {
		t.Errorf("cache keys differ: %q vs %q", a.CacheKey(), b.CacheKey())
	}
	if a.CacheKey() != "domain:evil.example.com" {
		t.Errorf("cache key = %q", a.CacheKey())
	}
}

func TestParseIOCType(t *testing.T) {
	if _, err := ParseIOCType("sha256"); err != nil {
		t.Errorf("sha256 should parse: %v", err)
	}
	if _, err := ParseIOCType("banana"); !errors.Is(err, ErrInvalidIOC) {
		t.Errorf("unknown type should be ErrInvalidIOC, got %v", err)
	}
	got, err := ParseIOCType("")
	if err != nil || got != "" {
		t.Errorf("empty hint = (%q, %v), want zero value", got, err)
	}
}

func TestSeverityForScore(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{100, "CRITICAL"}, {80, "CRITICAL"}, {79, "HIGH"}, {60, "HIGH"},
		{59, "MEDIUM"}, {40, "MEDIUM"}, {39, "LOW"}, {20, "LOW"}, {19, "INFO"}, {0, "INFO"},
	}
	for _, tt := range tests {
		if got := SeverityForScore(tt.score); got != tt.want {
			t.Errorf("SeverityForScore(%d) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestReportExpired(t *testing.T) {
	now := time.Now().UTC()
	r := &ThreatReport{TTLExpiresAt: now.Add(time.Minute)}
	if r.Expired(now) {
		t.Error("report should be fresh")
	}
	if !r.Expired(now.Add(time.Minute)) {
		t.Error("report should expire exactly at TTLExpiresAt")
	}
}
