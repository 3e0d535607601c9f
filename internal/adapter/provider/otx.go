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

const defaultOTXBaseURL = "https://otx.alienvault.com"

// OTXConnector queries AlienVault OTX for pulse activity on an indicator.
// Severity scales with how many community pulses reference the indicator;
// pulse names and tags become labels for technique mapping.
type OTXConnector struct {
	client  Doer
	baseURL string
	apiKey  string
}

func NewOTXConnector(client Doer, baseURL, apiKey string) *OTXConnector {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = defaultOTXBaseURL
	}
	return &OTXConnector{client: client, baseURL: baseURL, apiKey: apiKey}
}

func (c *OTXConnector) Name() string {
	return "alienvault-otx"
}

type otxGeneralResponse struct {
	PulseInfo struct {
		Count  int `json:"count"`
		Pulses []struct {
			Name string   `json:"name"`
			Tags []string `json:"tags"`
		} `json:"pulses"`
	} `json:"pulse_info"`
}

func (c *OTXConnector) Fetch(ctx context.Context, ioc domain.IOC) (domain.SourceFinding, error) {
	if c.apiKey == "" {
		return domain.SourceFinding{}, fmt.Errorf("OTX API key is missing")
	}

	endpoint := fmt.Sprintf("%s/api/v1/indicators/%s/%s/general",
		c.baseURL, otxSection(ioc.Type), url.PathEscape(ioc.CanonicalValue))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.SourceFinding{}, err
	}
	req.Header.Set("X-OTX-API-KEY", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.SourceFinding{}, fmt.Errorf("otx query: %w", err)
	}
	defer resp.Body.Close()

	// OTX answers 404 for indicator sections it has never seen.
	if resp.StatusCode == http.StatusNotFound {
		return domain.SourceFinding{Status: domain.StatusUnavailable}, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.SourceFinding{}, fmt.Errorf("otx read body: %w", err)
	}
	var data otxGeneralResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return domain.SourceFinding{}, fmt.Errorf("failed to decode OTX json: %w", err)
	}

	// No pulses means the community has no intelligence on this indicator.
	if data.PulseInfo.Count == 0 {
		return domain.SourceFinding{Status: domain.StatusUnavailable, RawPayload: body}, nil
	}

	var labels []string
	seen := make(map[string]bool)
	for _, pulse := range data.PulseInfo.Pulses {
		for _, label := range append([]string{pulse.Name}, pulse.Tags...) {
			if label != "" && !seen[label] {
				seen[label] = true
				labels = append(labels, label)
			}
		}
	}

	severity := 30 + 10*float64(data.PulseInfo.Count)
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

func otxSection(t domain.IOCType) string {
	switch t {
	case domain.IPAddress:
		return "IPv4"
	case domain.Domain:
		return "domain"
	case domain.URL:
		return "url"
	case domain.FileHash:
		return "file"
	default:
		return "general"
	}
}
