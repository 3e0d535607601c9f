package correlation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hive-corporation/threatscope/internal/core/domain"
)

func defaultRuleEngine(t *testing.T) *RuleEngine {
	t.Helper()
	e, err := NewRuleEngine("")
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestRecommendScoreBands(t *testing.T) {
	e := defaultRuleEngine(t)

	tests := []struct {
		name    string
		score   int
		contain string
	}{
		{"critical", 85, "Block the indicator at perimeter defenses immediately"},
		{"high", 65, "Hunt for related indicators in historical logs"},
		{"medium", 45, "Add the indicator to detection watchlists"},
		{"low", 25, "Track the indicator and re-evaluate if additional sources corroborate"},
		{"info", 5, "No immediate action required; current evidence indicates low risk"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs := e.Recommend(tt.score, nil)
			if !contains(recs, tt.contain) {
				t.Errorf("Recommend(%d) = %v, missing %q", tt.score, recs, tt.contain)
			}
		})
	}
}

func TestRecommendTacticRules(t *testing.T) {
	e := defaultRuleEngine(t)

	techniques := []domain.Technique{
		{TechniqueID: "T1071", TacticIDs: []string{"TA0011"}},
	}
	recs := e.Recommend(50, techniques)
	if !contains(recs, "Inspect proxy and DNS logs for command-and-control callbacks") {
		t.Errorf("C2 rule did not fire: %v", recs)
	}

	// The same tactic below the rule's score floor fires nothing extra.
	recs = e.Recommend(30, techniques)
	if contains(recs, "Inspect proxy and DNS logs for command-and-control callbacks") {
		t.Errorf("C2 rule fired below its score floor: %v", recs)
	}
}

func TestRecommendTechniqueRuleIgnoresScore(t *testing.T) {
	e := defaultRuleEngine(t)

	techniques := []domain.Technique{
		{TechniqueID: "T1486", TacticIDs: []string{"TA0040"}},
	}
	recs := e.Recommend(10, techniques)
	if !contains(recs, "Verify integrity and isolation of backups before any remediation") {
		t.Errorf("ransomware rule did not fire at low score: %v", recs)
	}
}

func TestNewRuleEngineLoadsYAMLPack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	pack := `
rules:
  - id: custom
    match:
      min_score: 10
    recommendations:
      - "Custom action"
`
	if err := os.WriteFile(path, []byte(pack), 0o644); err != nil {
		t.Fatal(err)
	}

	e, err := NewRuleEngine(path)
	if err != nil {
		t.Fatal(err)
	}
	recs := e.Recommend(50, nil)
	if len(recs) != 1 || recs[0] != "Custom action" {
		t.Errorf("recs = %v, want only the custom action", recs)
	}
}

func TestNewRuleEngineMissingFileFallsBack(t *testing.T) {
	e, err := NewRuleEngine(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if recs := e.Recommend(90, nil); len(recs) == 0 {
		t.Error("defaults not applied for missing rule pack")
	}
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
