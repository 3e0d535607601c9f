// Package llm implements the reasoning backend connector against any
// OpenAI-compatible chat completions API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hive-corporation/threatscope/internal/adapter/httpclient"
	"github.com/hive-corporation/threatscope/internal/core/domain"
)

// Reasoner asks a language model to assess an indicator and emit threat
// labels that feed the same mapping pipeline as the connector labels. Its
// prompt is grounded on the labels the connectors already surfaced, so the
// model corroborates or extends observed evidence instead of free-wheeling.
type Reasoner struct {
	apiURL  string
	apiKey  string
	model   string
	client  *httpclient.ResilientClient
	enabled bool
}

// NewReasoner builds the reasoning backend from REASONER_* environment
// variables. With no API key the backend stays constructed but disabled;
// every Reason call then reports unavailable without a network call.
func NewReasoner(log *logrus.Logger) *Reasoner {
	apiKey := os.Getenv("REASONER_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	apiURL := os.Getenv("REASONER_API_URL")
	if apiURL == "" {
		apiURL = "https://api.openai.com/v1/chat/completions"
	}

	model := os.Getenv("REASONER_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}

	enabled := os.Getenv("REASONER_ENABLED")

	client := httpclient.New("reasoner", 30*time.Second, httpclient.DefaultConfig(), log)

	return &Reasoner{
		apiURL:  apiURL,
		apiKey:  apiKey,
		model:   model,
		client:  client,
		enabled: enabled != "false" && apiKey != "",
	}
}

func (r *Reasoner) Name() string {
	return "llm-reasoner"
}

// IsEnabled reports whether the backend has credentials and is switched on.
func (r *Reasoner) IsEnabled() bool {
	return r.enabled
}

// Reason issues one chat completion for the indicator and parses the
// structured assessment out of the reply.
func (r *Reasoner) Reason(ctx context.Context, ioc domain.IOC, knownLabels []string) (domain.ReasoningResult, error) {
	if !r.enabled {
		return domain.ReasoningResult{}, domain.ErrReasonerDisabled
	}

	response, err := r.callModel(ctx, r.buildPrompt(ioc, knownLabels))
	if err != nil {
		return domain.ReasoningResult{}, fmt.Errorf("failed to call reasoning backend: %w", err)
	}

	result, err := parseResponse(response)
	if err != nil {
		return domain.ReasoningResult{}, fmt.Errorf("failed to parse reasoning response: %w", err)
	}
	return sanitizeResult(result), nil
}

func (r *Reasoner) buildPrompt(ioc domain.IOC, knownLabels []string) string {
	var sb strings.Builder

	sb.WriteString("You are a cybersecurity analyst assessing an indicator of compromise. Provide a structured threat assessment.\n\n")
	sb.WriteString(fmt.Sprintf("**Indicator:** %s\n", ioc.CanonicalValue))
	sb.WriteString(fmt.Sprintf("**Type:** %s\n\n", ioc.Type))

	if len(knownLabels) > 0 {
		sb.WriteString("**Threat labels already reported by intelligence feeds:**\n")
		for _, label := range knownLabels {
			sb.WriteString(fmt.Sprintf("- %s\n", label))
		}
		sb.WriteString("\nGround your assessment on these observations. Corroborate or refine them; do not invent unrelated activity.\n\n")
	} else {
		sb.WriteString("No intelligence feed reported activity for this indicator. Assess it on its intrinsic characteristics only, and keep confidence low.\n\n")
	}

	sb.WriteString("**Task:**\n")
	sb.WriteString("Respond with your assessment in the following JSON format:\n")
	sb.WriteString("```json\n")
	sb.WriteString("{\n")
	sb.WriteString("  \"free_text\": \"One-paragraph analyst summary of the threat\",\n")
	sb.WriteString("  \"confidence\": 0.0-1.0,\n")
	sb.WriteString("  \"labels\": [\"threat technique or behavior\", ...]\n")
	sb.WriteString("}\n")
	sb.WriteString("```\n\n")

	sb.WriteString("**Guidelines:**\n")
	sb.WriteString("1. Labels should name attacker techniques or behaviors (e.g. \"command and control\", \"credential dumping\", \"phishing\"), or MITRE ATT&CK technique IDs like T1566 when you are certain\n")
	sb.WriteString("2. Emit at most 16 labels\n")
	sb.WriteString("3. Confidence reflects how well the evidence supports the assessment, not how severe the threat is\n")
	sb.WriteString("4. With no feed evidence, confidence must not exceed 0.4\n")

	return sb.String()
}

func (r *Reasoner) callModel(ctx context.Context, prompt string) (string, error) {
	requestBody := map[string]interface{}{
		"model": r.model,
		"messages": []map[string]string{
			{
				"role":    "system",
				"content": "You are an expert cybersecurity analyst. Assess indicators of compromise and respond with structured JSON.",
			},
			{
				"role":    "user",
				"content": prompt,
			},
		},
		"temperature": 0.2,
		"max_tokens":  800,
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.apiURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("reasoning API error (status %d): %s", resp.StatusCode, string(body))
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no choices in reasoning response")
	}
	return response.Choices[0].Message.Content, nil
}

// parseResponse extracts the JSON assessment, tolerating markdown fences
// around it.
func parseResponse(response string) (domain.ReasoningResult, error) {
	jsonStr := response
	if idx := strings.Index(response, "```json"); idx != -1 {
		jsonStr = response[idx+7:]
		if endIdx := strings.Index(jsonStr, "```"); endIdx != -1 {
			jsonStr = jsonStr[:endIdx]
		}
	} else if idx := strings.Index(response, "```"); idx != -1 {
		jsonStr = response[idx+3:]
		if endIdx := strings.Index(jsonStr, "```"); endIdx != -1 {
			jsonStr = jsonStr[:endIdx]
		}
	}
	jsonStr = strings.TrimSpace(jsonStr)

	var result domain.ReasoningResult
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return domain.ReasoningResult{}, fmt.Errorf("failed to parse JSON: %w (response: %s)", err, jsonStr)
	}
	return result, nil
}

const maxReasonerLabels = 16

// sanitizeResult clamps model output into the ranges the pipeline trusts.
// The model is an untrusted input like any other upstream.
func sanitizeResult(result domain.ReasoningResult) domain.ReasoningResult {
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}

	var labels []string
	seen := make(map[string]bool)
	for _, label := range result.Labels {
		trimmed := strings.TrimSpace(label)
		if trimmed == "" || seen[strings.ToLower(trimmed)] {
			continue
		}
		seen[strings.ToLower(trimmed)] = true
		labels = append(labels, trimmed)
		if len(labels) == maxReasonerLabels {
			break
		}
	}
	result.Labels = labels
	return result
}
