// Package taxonomy holds the in-process MITRE ATT&CK knowledge base used to
// resolve source labels onto canonical technique identifiers.
package taxonomy

import (
	"regexp"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/hive-corporation/threatscope/internal/core/ports"
)

// Version identifies the bundled dataset; mapping results are only
// reproducible for a fixed version.
const Version = "enterprise-attack-15.1"

// keywordSimilarity is the fixed similarity assigned to keyword containment
// hits so they land above the default fuzzy threshold but below near-exact
// string matches.
const keywordSimilarity = 0.85

type technique struct {
	ID       string
	Name     string
	Tactics  []string
	Aliases  []string
	Keywords []string
}

var enterpriseTechniques = []technique{
	{"T1003", "OS Credential Dumping", []string{"TA0006"}, []string{"credential dumping"}, []string{"credential dump", "lsass", "mimikatz"}},
	{"T1021", "Remote Services", []string{"TA0008"}, nil, []string{"rdp", "remote desktop", "smb", "ssh lateral"}},
	{"T1041", "Exfiltration Over C2 Channel", []string{"TA0010"}, nil, []string{"exfiltration over c2", "data theft c2"}},
	{"T1046", "Network Service Discovery", []string{"TA0007"}, []string{"network service scanning"}, []string{"port scan", "service discovery", "scanner"}},
	{"T1055", "Process Injection", []string{"TA0004", "TA0005"}, nil, []string{"injection", "code injection"}},
	{"T1059", "Command and Scripting Interpreter", []string{"TA0002"}, []string{"scripting interpreter"}, []string{"powershell", "cmd", "bash", "shell command", "script"}},
	{"T1071", "Application Layer Protocol", []string{"TA0011"}, nil, []string{"http", "https", "web protocol", "application layer", "c2 channel", "c2_server"}},
	{"T1071.004", "DNS", []string{"TA0011"}, []string{"dns tunneling"}, []string{"dns c2", "dns tunnel"}},
	{"T1078", "Valid Accounts", []string{"TA0001", "TA0003", "TA0004", "TA0005"}, nil, []string{"valid account", "stolen credentials", "compromised account"}},
	{"T1090", "Proxy", []string{"TA0011"}, nil, []string{"proxy", "vpn", "tunnel", "tor"}},
	{"T1105", "Ingress Tool Transfer", []string{"TA0011"}, []string{"remote file copy"}, []string{"malware_download", "download", "file transfer", "payload delivery", "dropper"}},
	{"T1110", "Brute Force", []string{"TA0006"}, nil, []string{"brute force", "password spray", "credential stuffing"}},
	{"T1133", "External Remote Services", []string{"TA0001", "TA0003"}, nil, []string{"external remote services", "remote access"}},
	{"T1189", "Drive-by Compromise", []string{"TA0001"}, nil, []string{"drive-by", "watering hole", "compromised website"}},
	{"T1190", "Exploit Public-Facing Application", []string{"TA0001"}, nil, []string{"exploit", "vulnerability", "cve", "web shell upload"}},
	{"T1204", "User Execution", []string{"TA0002"}, nil, []string{"malicious link", "malicious attachment", "user execution"}},
	{"T1486", "Data Encrypted for Impact", []string{"TA0040"}, nil, []string{"ransomware", "encryption for impact", "data encrypted"}},
	{"T1485", "Data Destruction", []string{"TA0040"}, nil, []string{"data destruction", "wiper", "wipe"}},
	{"T1496", "Resource Hijacking", []string{"TA0040"}, nil, []string{"cryptomining", "coinminer", "resource hijacking"}},
	{"T1498", "Network Denial of Service", []string{"TA0040"}, nil, []string{"ddos", "denial of service", "botnet"}},
	{"T1553", "Subvert Trust Controls", []string{"TA0005"}, nil, []string{"signed malware", "certificate abuse"}},
	{"T1566", "Phishing", []string{"TA0001"}, []string{"spearphishing"}, []string{"phishing", "spearphishing", "email attack", "credential harvesting page"}},
	{"T1567", "Exfiltration Over Web Service", []string{"TA0010"}, nil, []string{"exfiltration", "data theft", "upload to cloud"}},
	{"T1568", "Dynamic Resolution", []string{"TA0011"}, []string{"domain generation algorithm"}, []string{"dga", "fast flux", "dynamic dns"}},
}

var tacticNames = map[string]string{
	"TA0001": "Initial Access",
	"TA0002": "Execution",
	"TA0003": "Persistence",
	"TA0004": "Privilege Escalation",
	"TA0005": "Defense Evasion",
	"TA0006": "Credential Access",
	"TA0007": "Discovery",
	"TA0008": "Lateral Movement",
	"TA0009": "Collection",
	"TA0010": "Exfiltration",
	"TA0011": "Command and Control",
	"TA0040": "Impact",
}

var techniqueIDRe = regexp.MustCompile(`^t\d{4}(\.\d{3})?$`)

// AttackKB is the read-only knowledge base handed to the TTP mapper and the
// taxonomy HTTP endpoints. Safe for concurrent use after construction.
type AttackKB struct {
	byID map[string]technique
	ids  []string
}

func NewAttackKB() *AttackKB {
	kb := &AttackKB{byID: make(map[string]technique, len(enterpriseTechniques))}
	for _, t := range enterpriseTechniques {
		kb.byID[t.ID] = t
		kb.ids = append(kb.ids, t.ID)
	}
	sort.Strings(kb.ids)
	return kb
}

func (kb *AttackKB) Version() string { return Version }

// TacticsFor returns the tactic IDs of a technique, or nil for unknown IDs.
func (kb *AttackKB) TacticsFor(techniqueID string) []string {
	t, ok := kb.byID[strings.ToUpper(techniqueID)]
	if !ok {
		return nil
	}
	return append([]string(nil), t.Tactics...)
}

// ResolveLabel returns resolution candidates ordered by descending
// similarity, ties broken by ascending technique ID. Given the same label
// and dataset version the result is identical on every run.
func (kb *AttackKB) ResolveLabel(label string) []ports.TechniqueCandidate {
	norm := strings.ToLower(strings.TrimSpace(label))
	if norm == "" {
		return nil
	}

	// Technique IDs resolve without any string matching. An unknown
	// sub-technique falls back to its parent as an alias match.
	if techniqueIDRe.MatchString(norm) {
		id := strings.ToUpper(norm)
		if _, ok := kb.byID[id]; ok {
			return []ports.TechniqueCandidate{{TechniqueID: id, Similarity: 1, Exact: true}}
		}
		if parent, _, found := strings.Cut(id, "."); found {
			if _, ok := kb.byID[parent]; ok {
				return []ports.TechniqueCandidate{{TechniqueID: parent, Similarity: 1, Alias: true}}
			}
		}
		return nil
	}

	var out []ports.TechniqueCandidate
	for _, id := range kb.ids {
		t := kb.byID[id]
		if c, ok := candidateFor(t, norm); ok {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].TechniqueID < out[j].TechniqueID
	})
	return out
}

func candidateFor(t technique, norm string) (ports.TechniqueCandidate, bool) {
	name := strings.ToLower(t.Name)
	if norm == name {
		return ports.TechniqueCandidate{TechniqueID: t.ID, Similarity: 1, Exact: true}, true
	}
	for _, alias := range t.Aliases {
		if norm == strings.ToLower(alias) {
			return ports.TechniqueCandidate{TechniqueID: t.ID, Similarity: 1, Alias: true}, true
		}
	}

	best := similarity(norm, name)
	for _, alias := range t.Aliases {
		if s := similarity(norm, strings.ToLower(alias)); s > best {
			best = s
		}
	}
	for _, kw := range t.Keywords {
		if keywordHit(norm, kw) && keywordSimilarity > best {
			best = keywordSimilarity
		}
	}
	if best <= 0.5 {
		return ports.TechniqueCandidate{}, false
	}
	return ports.TechniqueCandidate{TechniqueID: t.ID, Similarity: best}, true
}

// similarity is a normalized Levenshtein score in [0,1].
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

func keywordHit(label, keyword string) bool {
	kw := strings.ToLower(keyword)
	if len(kw) < 3 {
		return false
	}
	return strings.Contains(label, kw) || (len(label) >= 3 && strings.Contains(kw, label))
}

// TacticInfo and TechniqueInfo back the read-only taxonomy HTTP endpoints.

type TacticInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type TechniqueInfo struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Tactics []string `json:"tactics"`
	URL     string   `json:"url"`
}

// Tactics lists every tactic of the bundled dataset, ordered by ID.
func (kb *AttackKB) Tactics() []TacticInfo {
	ids := make([]string, 0, len(tacticNames))
	for id := range tacticNames {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]TacticInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, TacticInfo{ID: id, Name: tacticNames[id]})
	}
	return out
}

// Techniques lists techniques, optionally filtered by tactic ID or name.
func (kb *AttackKB) Techniques(tactic string) []TechniqueInfo {
	filter := strings.ToLower(strings.TrimSpace(tactic))
	var out []TechniqueInfo
	for _, id := range kb.ids {
		t := kb.byID[id]
		if filter != "" && !tacticMatches(t.Tactics, filter) {
			continue
		}
		out = append(out, techniqueInfo(t))
	}
	return out
}

// Search returns techniques whose name, aliases or keywords contain the query.
func (kb *AttackKB) Search(query string) []TechniqueInfo {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var out []TechniqueInfo
	for _, id := range kb.ids {
		t := kb.byID[id]
		if matchesQuery(t, q) {
			out = append(out, techniqueInfo(t))
		}
	}
	return out
}

func matchesQuery(t technique, q string) bool {
	if strings.Contains(strings.ToLower(t.ID), q) || strings.Contains(strings.ToLower(t.Name), q) {
		return true
	}
	for _, alias := range t.Aliases {
		if strings.Contains(strings.ToLower(alias), q) {
			return true
		}
	}
	for _, kw := range t.Keywords {
		if strings.Contains(kw, q) || strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

func tacticMatches(tactics []string, filter string) bool {
	for _, id := range tactics {
		if strings.ToLower(id) == filter || strings.ToLower(tacticNames[id]) == filter {
			return true
		}
	}
	return false
}

func techniqueInfo(t technique) TechniqueInfo {
	return TechniqueInfo{
		ID:      t.ID,
		Name:    t.Name,
		Tactics: append([]string(nil), t.Tactics...),
		URL:     "https://attack.mitre.org/techniques/" + strings.ReplaceAll(t.ID, ".", "/") + "/",
	}
}
