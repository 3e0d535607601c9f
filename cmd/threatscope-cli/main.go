// threatscope-cli correlates indicators against a running ThreatScope API,
// one per line from a file or the arguments, and exits non-zero when any
// indicator scores at or above the block threshold.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

type correlateRequest struct {
	Value string `json:"value"`
	Type  string `json:"type,omitempty"`
}

type correlateResponse struct {
	Report struct {
		Score           int      `json:"score"`
		Severity        string   `json:"severity"`
		Description     string   `json:"description"`
		Recommendations []string `json:"recommendations"`
		Techniques      []struct {
			TechniqueID string `json:"technique_id"`
		} `json:"techniques"`
	} `json:"report"`
	CacheHit bool `json:"cache_hit"`
}

func main() {
	serverAddr := flag.String("server", "http://localhost:8080", "ThreatScope API address")
	targetFile := flag.String("file", "", "File with one indicator per line")
	typeHint := flag.String("type", "", "Indicator type hint (ip, domain, hash, url)")
	blockScore := flag.Int("block-score", 60, "Exit non-zero when any indicator scores at or above this")
	authToken := flag.String("token", os.Getenv("REST_API_AUTH_TOKEN"), "API bearer token")
	flag.Parse()

	indicators := flag.Args()
	if *targetFile != "" {
		fromFile, err := readIndicators(*targetFile)
		if err != nil {
			log.Fatalf("❌ error reading file: %v", err)
		}
		indicators = append(indicators, fromFile...)
	}
	if len(indicators) == 0 {
		fmt.Fprintln(os.Stderr, "usage: threatscope-cli [-file indicators.txt] [indicator ...]")
		os.Exit(2)
	}

	client := &http.Client{Timeout: 60 * time.Second}
	fmt.Printf("🔍 correlating %d indicator(s) against %s...\n\n", len(indicators), *serverAddr)

	blocked := 0
	for _, value := range indicators {
		resp, err := correlate(client, *serverAddr, *authToken, value, *typeHint)
		if err != nil {
			log.Printf("⚠️ error correlating %s: %v", value, err)
			continue
		}

		var ids []string
		for _, t := range resp.Report.Techniques {
			ids = append(ids, t.TechniqueID)
		}
		marker := "✅"
		if resp.Report.Score >= *blockScore {
			marker = "🚨"
			blocked++
		}
		fmt.Printf("%s [%s] %s (Score: %d)", marker, resp.Report.Severity, value, resp.Report.Score)
		if len(ids) > 0 {
			fmt.Printf(" -> %s", strings.Join(ids, ", "))
		}
		fmt.Println()
		for _, rec := range resp.Report.Recommendations {
			fmt.Printf("   • %s\n", rec)
		}
	}

	fmt.Println("------------------------------------------------")
	if blocked > 0 {
		fmt.Printf("❌ FAIL: %d indicator(s) at or above block score %d.\n", blocked, *blockScore)
		os.Exit(1)
	}
	fmt.Printf("✅ SUCCESS: %d indicator(s) checked. Nothing above block score.\n", len(indicators))
}

func correlate(client *http.Client, server, token, value, typeHint string) (*correlateResponse, error) {
	body, err := json.Marshal(correlateRequest{Value: value, Type: typeHint})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, server+"/api/v1/correlate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out correlateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func readIndicators(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var out []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, scanner.Err()
}
