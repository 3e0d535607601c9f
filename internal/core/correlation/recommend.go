package correlation

import (
	"errors"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hive-corporation/threatscope/internal/core/domain"
)

// RuleEngine derives analyst recommendations from a static rule table keyed
// by score band and mapped techniques/tactics. Rules can be replaced from a
// YAML pack; with no pack the built-in defaults apply.
type RuleEngine struct {
	rules []Rule
}

// Rule is one recommendation rule.
type Rule struct {
	ID              string    `yaml:"id"`
	Match           RuleMatch `yaml:"match"`
	Recommendations []string  `yaml:"recommendations"`
}

// RuleMatch defines the conditions of a rule. Zero MaxScore means 100.
// Tactics and Techniques match when any listed ID appears in the report.
type RuleMatch struct {
	MinScore   int      `yaml:"min_score"`
	MaxScore   int      `yaml:"max_score"`
	Tactics    []string `yaml:"tactics"`
	Techniques []string `yaml:"techniques"`
}

type ruleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

var defaultRules = []Rule{
	{
		ID:    "critical-block",
		Match: RuleMatch{MinScore: 80},
		Recommendations: []string{
			"Block the indicator at perimeter defenses immediately",
			"Open an incident and begin scoping affected hosts",
		},
	},
	{
		ID:    "critical-exfiltration",
		Match: RuleMatch{MinScore: 80, Tactics: []string{"TA0010"}},
		Recommendations: []string{
			"Review outbound egress flows for data exfiltration from internal hosts",
		},
	},
	{
		ID:    "high-block-hunt",
		Match: RuleMatch{MinScore: 60, MaxScore: 79},
		Recommendations: []string{
			"Block the indicator at perimeter defenses",
			"Hunt for related indicators in historical logs",
		},
	},
	{
		ID:    "c2-inspect",
		Match: RuleMatch{MinScore: 40, Tactics: []string{"TA0011"}},
		Recommendations: []string{
			"Inspect proxy and DNS logs for command-and-control callbacks",
		},
	},
	{
		ID:    "credential-rotation",
		Match: RuleMatch{MinScore: 40, Tactics: []string{"TA0006"}},
		Recommendations: []string{
			"Force credential rotation for accounts that may have been exposed",
		},
	},
	{
		ID:    "ransomware-backups",
		Match: RuleMatch{Techniques: []string{"T1486"}},
		Recommendations: []string{
			"Verify integrity and isolation of backups before any remediation",
		},
	},
	{
		ID:    "medium-monitor",
		Match: RuleMatch{MinScore: 40, MaxScore: 59},
		Recommendations: []string{
			"Monitor network traffic for activity involving this indicator",
			"Add the indicator to detection watchlists",
		},
	},
	{
		ID:    "low-track",
		Match: RuleMatch{MinScore: 20, MaxScore: 39},
		Recommendations: []string{
			"Track the indicator and re-evaluate if additional sources corroborate",
		},
	},
	{
		ID:    "info-none",
		Match: RuleMatch{MaxScore: 19},
		Recommendations: []string{
			"No immediate action required; current evidence indicates low risk",
		},
	},
}

// NewRuleEngine loads a YAML rule pack from path, or falls back to the
// built-in defaults when path is empty or the file does not exist.
func NewRuleEngine(path string) (*RuleEngine, error) {
	if path == "" {
		return &RuleEngine{rules: defaultRules}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &RuleEngine{rules: defaultRules}, nil
		}
		return nil, err
	}
	var cfg ruleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Rules) == 0 {
		return &RuleEngine{rules: defaultRules}, nil
	}
	return &RuleEngine{rules: cfg.Rules}, nil
}

// Recommend evaluates every rule against the score and mapped techniques and
// returns the matching recommendations in rule order, deduplicated.
func (e *RuleEngine) Recommend(score int, techniques []domain.Technique) []string {
	tacticSet := make(map[string]bool)
	techniqueSet := make(map[string]bool)
	for _, t := range techniques {
		techniqueSet[strings.ToUpper(t.TechniqueID)] = true
		for _, tactic := range t.TacticIDs {
			tacticSet[strings.ToUpper(tactic)] = true
		}
	}

	var out []string
	seen := make(map[string]bool)
	for _, rule := range e.rules {
		if !rule.matches(score, tacticSet, techniqueSet) {
			continue
		}
		for _, rec := range rule.Recommendations {
			if !seen[rec] {
				seen[rec] = true
				out = append(out, rec)
			}
		}
	}
	return out
}

func (r Rule) matches(score int, tactics, techniques map[string]bool) bool {
	maxScore := r.Match.MaxScore
	if maxScore == 0 {
		maxScore = 100
	}
	if score < r.Match.MinScore || score > maxScore {
		return false
	}
	if len(r.Match.Tactics) > 0 && !anyIn(r.Match.Tactics, tactics) {
		return false
	}
	if len(r.Match.Techniques) > 0 && !anyIn(r.Match.Techniques, techniques) {
		return false
	}
	return true
}

func anyIn(ids []string, set map[string]bool) bool {
	for _, id := range ids {
		if set[strings.ToUpper(id)] {
			return true
		}
	}
	return false
}
