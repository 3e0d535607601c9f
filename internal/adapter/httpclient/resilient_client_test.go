package httpclient

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testConfig(maxRetries int) Config {
	return Config{
		EnableCircuitBreaker: false,
		MaxRetries:           maxRetries,
		InitialInterval:      time.Millisecond,
		MaxInterval:          5 * time.Millisecond,
	}
}

func TestDoPassesThroughNotFound(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "no data for this indicator", http.StatusNotFound)
	}))
	defer srv.Close()

	for _, retries := range []int{0, 2} {
		attempts.Store(0)
		c := New("test-upstream", 5*time.Second, testConfig(retries), nil)

		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := c.Do(req)
		if err != nil {
			t.Fatalf("retries=%d: 404 must pass through, got error: %v", retries, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("retries=%d: status = %d, want 404", retries, resp.StatusCode)
		}
		if got := attempts.Load(); got != 1 {
			t.Errorf("retries=%d: 404 was attempted %d times, want 1", retries, got)
		}
	}
}

func TestDoClientErrorIsPermanent(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "bad key", http.StatusForbidden)
	}))
	defer srv.Close()

	c := New("test-upstream", 5*time.Second, testConfig(3), nil)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	if _, err := c.Do(req); err == nil {
		t.Fatal("expected error for 403")
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("403 was retried: %d attempts, want 1", got)
	}
}

func TestDoRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			http.Error(w, "flaky", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	c := New("test-upstream", 5*time.Second, testConfig(3), nil)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d after retries", resp.StatusCode)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}
