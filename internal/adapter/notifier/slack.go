// Package notifier pushes high-severity threat reports to Slack.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hive-corporation/threatscope/internal/core/domain"
)

const slackPostMessageURL = "https://slack.com/api/chat.postMessage"

// SlackNotifier posts a formatted report summary when a freshly computed
// report crosses the severity threshold. Notification failures are the
// caller's to log; they never affect the correlation result.
type SlackNotifier struct {
	botToken    string
	channel     string
	mentionTeam string
	minScore    int
	httpClient  *http.Client
}

func NewSlackNotifier(botToken, channel, mentionTeam string, minScore int) *SlackNotifier {
	if minScore <= 0 {
		minScore = 80
	}
	return &SlackNotifier{
		botToken:    botToken,
		channel:     channel,
		mentionTeam: mentionTeam,
		minScore:    minScore,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NotifyThreatReport posts the report to Slack if it meets the score
// threshold. Reports below threshold are silently skipped.
func (s *SlackNotifier) NotifyThreatReport(ctx context.Context, report *domain.ThreatReport) error {
	if report.Score < s.minScore {
		return nil
	}

	payload := SlackMessage{
		Channel: s.channel,
		Blocks:  s.buildReportBlocks(report),
		Text:    fmt.Sprintf("🚨 %s threat: %s", report.Severity, report.IOC.CanonicalValue),
	}
	return s.sendMessage(ctx, payload)
}

func (s *SlackNotifier) buildReportBlocks(report *domain.ThreatReport) []SlackBlock {
	severityEmoji := map[string]string{
		"CRITICAL": "🔴",
		"HIGH":     "🟠",
		"MEDIUM":   "🟡",
		"LOW":      "🟢",
		"INFO":     "🔵",
	}
	emoji := severityEmoji[report.Severity]
	if emoji == "" {
		emoji = "⚠️"
	}

	blocks := []SlackBlock{
		{
			Type: "header",
			Text: &SlackText{
				Type: "plain_text",
				Text: fmt.Sprintf("%s %s Threat Detected", emoji, report.Severity),
			},
		},
		{
			Type: "section",
			Fields: []SlackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Indicator*\n`%s`", report.IOC.CanonicalValue)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Type*\n%s", report.IOC.Type)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Score*\n%d/100", report.Score)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Sources*\n%s", strings.Join(report.SourcesConsulted, ", "))},
			},
		},
	}

	if report.Description != "" {
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*🤖 Analyst Summary*\n%s", report.Description),
			},
		})
	}

	if len(report.Techniques) > 0 {
		var ids []string
		for i, t := range report.Techniques {
			if i >= 8 {
				ids = append(ids, fmt.Sprintf("and %d more", len(report.Techniques)-8))
				break
			}
			ids = append(ids, t.TechniqueID)
		}
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*ATT&CK Techniques*: %s", strings.Join(ids, ", ")),
			},
		})
	}

	if len(report.Recommendations) > 0 {
		recommendedText := "*✅ Recommended Actions*\n"
		for _, action := range report.Recommendations {
			recommendedText += fmt.Sprintf("• %s\n", action)
		}
		blocks = append(blocks, SlackBlock{Type: "divider"}, SlackBlock{
			Type: "section",
			Text: &SlackText{
				Type: "mrkdwn",
				Text: recommendedText,
			},
		})
	}

	blocks = append(blocks, SlackBlock{
		Type: "context",
		Elements: []SlackText{
			{
				Type: "mrkdwn",
				Text: fmt.Sprintf("Confidence: *%.0f%%* | Coverage: *%.0f%%* | Taxonomy: *%s*",
					report.Confidence*100, report.CoverageRatio*100, report.TaxonomyVersion),
			},
		},
	})

	if s.mentionTeam != "" {
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("🔔 %s", s.mentionTeam),
			},
		})
	}

	return blocks
}

func (s *SlackNotifier) sendMessage(ctx context.Context, msg SlackMessage) error {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal Slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, slackPostMessageURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.botToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API returned status %d", resp.StatusCode)
	}
	return nil
}

// Slack API structures

type SlackMessage struct {
	Channel string       `json:"channel"`
	Blocks  []SlackBlock `json:"blocks"`
	Text    string       `json:"text"` // fallback text
}

type SlackBlock struct {
	Type     string      `json:"type"`
	Text     *SlackText  `json:"text,omitempty"`
	Fields   []SlackText `json:"fields,omitempty"`
	Elements []SlackText `json:"elements,omitempty"`
}

type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
