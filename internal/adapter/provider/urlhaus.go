package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hive-corporation/threatscope/internal/core/domain"
)

const defaultURLHausBaseURL = "https://urlhaus-api.abuse.ch"

// URLHausConnector queries the abuse.ch URLhaus lookup API. URLs are looked
// up directly; IPs and domains through the host endpoint. Hashes are outside
// URLhaus's scope and report unavailable without a network call.
type URLHausConnector struct {
	client  Doer
	baseURL string
}

func NewURLHausConnector(client Doer, baseURL string) *URLHausConnector {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = defaultURLHausBaseURL
	}
	return &URLHausConnector{client: client, baseURL: baseURL}
}

func (c *URLHausConnector) Name() string {
	return "abusech-urlhaus"
}

type urlHausResponse struct {
	QueryStatus string   `json:"query_status"`
	URLStatus   string   `json:"url_status"`
	Threat      string   `json:"threat"`
	Tags        []string `json:"tags"`
	URLs        []struct {
		URLStatus string   `json:"url_status"`
		Threat    string   `json:"threat"`
		Tags      []string `json:"tags"`
	} `json:"urls"`
}

func (c *URLHausConnector) Fetch(ctx context.Context, ioc domain.IOC) (domain.SourceFinding, error) {
	var endpoint string
	form := url.Values{}
	switch ioc.Type {
	case domain.URL:
		endpoint = c.baseURL + "/v1/url/"
		form.Set("url", ioc.CanonicalValue)
	case domain.IPAddress, domain.Domain:
		endpoint = c.baseURL + "/v1/host/"
		form.Set("host", ioc.CanonicalValue)
	default:
		return domain.SourceFinding{Status: domain.StatusUnavailable}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return domain.SourceFinding{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.SourceFinding{}, fmt.Errorf("urlhaus query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.SourceFinding{Status: domain.StatusUnavailable}, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.SourceFinding{}, fmt.Errorf("urlhaus read body: %w", err)
	}
	var data urlHausResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return domain.SourceFinding{}, fmt.Errorf("failed to decode urlhaus json: %w", err)
	}

	switch data.QueryStatus {
	case "ok":
	case "no_results":
		return domain.SourceFinding{Status: domain.StatusUnavailable, RawPayload: body}, nil
	default:
		return domain.SourceFinding{}, fmt.Errorf("urlhaus query_status %q", data.QueryStatus)
	}

	var labels []string
	seen := make(map[string]bool)
	addLabel := func(l string) {
		if l != "" && !seen[l] {
			seen[l] = true
			labels = append(labels, l)
		}
	}
	online := data.URLStatus == "online"
	addLabel(data.Threat)
	for _, tag := range data.Tags {
		addLabel(tag)
	}
	for _, u := range data.URLs {
		if u.URLStatus == "online" {
			online = true
		}
		addLabel(u.Threat)
		for _, tag := range u.Tags {
			addLabel(tag)
		}
	}

	// A listed indicator is malicious distribution infrastructure; whether
	// it is still online only moderates the urgency.
	severity := 70.0
	if online {
		severity = 90
	}

	return domain.SourceFinding{
		Status:      domain.StatusOK,
		SeverityRaw: float64Ptr(severity),
		Labels:      labels,
		RawPayload:  body,
	}, nil
}
