package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hive-corporation/threatscope/internal/core/domain"
)

const defaultAbuseIPDBBaseURL = "https://api.abuseipdb.com"

// AbuseIPDBConnector queries the AbuseIPDB reputation API. It only covers IP
// addresses; any other indicator type reports unavailable without a network
// call. The abuse confidence score maps directly onto severity.
type AbuseIPDBConnector struct {
	client  Doer
	baseURL string
	apiKey  string
}

func NewAbuseIPDBConnector(client Doer, baseURL, apiKey string) *AbuseIPDBConnector {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = defaultAbuseIPDBBaseURL
	}
	return &AbuseIPDBConnector{client: client, baseURL: baseURL, apiKey: apiKey}
}

func (c *AbuseIPDBConnector) Name() string {
	return "abuseipdb"
}

type abuseIPDBResponse struct {
	Data struct {
		AbuseConfidenceScore float64 `json:"abuseConfidenceScore"`
		TotalReports         int     `json:"totalReports"`
		UsageType            string  `json:"usageType"`
		Reports              []struct {
			Categories []int `json:"categories"`
		} `json:"reports"`
	} `json:"data"`
}

// abuseCategoryLabels names the AbuseIPDB report categories that carry
// technique-mappable signal.
var abuseCategoryLabels = map[int]string{
	4:  "ddos",
	5:  "brute-force",
	7:  "phishing",
	14: "port scan",
	15: "exploit",
	18: "brute-force",
	20: "botnet",
	21: "web app attack",
	22: "ssh brute-force",
}

func (c *AbuseIPDBConnector) Fetch(ctx context.Context, ioc domain.IOC) (domain.SourceFinding, error) {
	if ioc.Type != domain.IPAddress {
		return domain.SourceFinding{Status: domain.StatusUnavailable}, nil
	}
	if c.apiKey == "" {
		return domain.SourceFinding{}, fmt.Errorf("AbuseIPDB API key is missing")
	}

	q := url.Values{}
	q.Set("ipAddress", ioc.CanonicalValue)
	q.Set("maxAgeInDays", "90")
	q.Set("verbose", "")
	endpoint := c.baseURL + "/api/v2/check?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.SourceFinding{}, err
	}
	req.Header.Set("Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.SourceFinding{}, fmt.Errorf("abuseipdb query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.SourceFinding{Status: domain.StatusUnavailable}, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.SourceFinding{}, fmt.Errorf("abuseipdb read body: %w", err)
	}
	var data abuseIPDBResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return domain.SourceFinding{}, fmt.Errorf("failed to decode abuseipdb json: %w", err)
	}

	if data.Data.TotalReports == 0 && data.Data.AbuseConfidenceScore == 0 {
		return domain.SourceFinding{Status: domain.StatusUnavailable, RawPayload: body}, nil
	}

	var labels []string
	seen := make(map[string]bool)
	for _, report := range data.Data.Reports {
		for _, cat := range report.Categories {
			if label, ok := abuseCategoryLabels[cat]; ok && !seen[label] {
				seen[label] = true
				labels = append(labels, label)
			}
		}
	}

	severity := data.Data.AbuseConfidenceScore
	if severity > 100 {
		severity = 100
	}

	return domain.SourceFinding{
		Status:      domain.StatusOK,
		SeverityRaw: float64Ptr(severity),
		Labels:      labels,
		RawPayload:  body,
	}, nil
}
