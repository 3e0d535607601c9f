// Package httpclient provides the shared resilient HTTP client used by the
// intelligence connectors and the reasoning backend: circuit breaker per
// upstream plus exponential-backoff retry on transient failures.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// ResilientClient wraps an HTTP client with a named circuit breaker and
// retry logic. One instance guards one upstream; breakers are never shared
// across sources so an OTX outage cannot trip the URLhaus path.
type ResilientClient struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	config  Config
	log     *logrus.Logger
}

// Config holds resilience settings for one upstream.
type Config struct {
	EnableCircuitBreaker bool
	MaxFailures          uint32
	CircuitTimeout       time.Duration

	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultConfig reads resilience settings from SOURCE_* environment
// variables, falling back to conservative defaults.
func DefaultConfig() Config {
	return Config{
		EnableCircuitBreaker: getEnvBool("SOURCE_CIRCUIT_BREAKER_ENABLED", true),
		MaxFailures:          uint32(getEnvInt("SOURCE_CIRCUIT_BREAKER_MAX_FAILURES", 5)),
		CircuitTimeout:       time.Duration(getEnvInt("SOURCE_CIRCUIT_BREAKER_TIMEOUT_SECONDS", 30)) * time.Second,
		MaxRetries:           getEnvInt("SOURCE_RETRY_MAX_ATTEMPTS", 2),
		InitialInterval:      time.Duration(getEnvInt("SOURCE_RETRY_INITIAL_INTERVAL_MS", 250)) * time.Millisecond,
		MaxInterval:          time.Duration(getEnvInt("SOURCE_RETRY_MAX_INTERVAL_MS", 2000)) * time.Millisecond,
	}
}

// New creates a resilient client for the named upstream.
func New(name string, timeout time.Duration, config Config, log *logrus.Logger) *ResilientClient {
	if log == nil {
		log = logrus.StandardLogger()
	}

	var breaker *gobreaker.CircuitBreaker
	if config.EnableCircuitBreaker {
		settings := gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    0, // never reset counts automatically
			Timeout:     config.CircuitTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= config.MaxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.WithFields(logrus.Fields{"upstream": name, "from": from.String(), "to": to.String()}).Warn("⚡ circuit breaker state change")
			},
		}
		breaker = gobreaker.NewCircuitBreaker(settings)
	}

	return &ResilientClient{
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		config:  config,
		log:     log,
	}
}

// Do executes the request through the breaker and retry policy. A response
// with an error status is returned as an error, except 404 which passes
// through so connectors can treat it as "no data" rather than a fault.
func (c *ResilientClient) Do(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.doWithRetry(req)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doWithRetry(req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return nil, fmt.Errorf("circuit breaker is open: %w", err)
		}
		return nil, err
	}
	return result.(*http.Response), nil
}

func (c *ResilientClient) doWithRetry(req *http.Request) (*http.Response, error) {
	if c.config.MaxRetries == 0 {
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		if errorStatus(resp.StatusCode) {
			resp.Body.Close()
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
		}
		return resp, nil
	}

	// The body must be rewindable across attempts.
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.config.InitialInterval
	expBackoff.MaxInterval = c.config.MaxInterval
	expBackoff.Multiplier = 2.0
	expBackoff.MaxElapsedTime = 0 // bounded by max retries, not wall time

	retryBackoff := backoff.WithContext(
		backoff.WithMaxRetries(expBackoff, uint64(c.config.MaxRetries)),
		req.Context(),
	)

	var resp *http.Response
	var lastErr error
	operation := func() error {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		var err error
		resp, err = c.client.Do(req)
		if err != nil {
			lastErr = err
			if retryableError(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		if retryableStatus(resp.StatusCode) {
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
			resp.Body.Close()
			return lastErr
		}
		if errorStatus(resp.StatusCode) {
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
			resp.Body.Close()
			return backoff.Permanent(lastErr)
		}
		return nil
	}

	if err := backoff.Retry(operation, retryBackoff); err != nil {
		return nil, fmt.Errorf("request failed after retries: %w", lastErr)
	}
	return resp, nil
}

func retryableError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "EOF")
}

// errorStatus reports whether a status is a genuine upstream fault. 404 is
// excluded: several feeds answer it for indicators they simply have no data
// on, and connectors must be able to see it and report unavailable.
func errorStatus(code int) bool {
	return code >= 400 && code != http.StatusNotFound
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
