package report

import (
	"fmt"
	"maps"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/DevJayantaGhosh/sherlock/internal/model"
	jsoniter "github.com/json-iterator/go"
)

// SASTReport is the name of the opengrep JSON report in the working directory.
const SASTReport = "opengrep-report.json"

// OtherBucket collects root level files and files of tooling directories.
const OtherBucket = "(other)"

// Severity ranks.
const (
	RankCritical = "critical"
	RankHigh     = "high"
	RankMedium   = "medium"
	RankLow      = "low"
)

var Ranks = []string{RankCritical, RankHigh, RankMedium, RankLow}

// excluded are first path segments of version control, dependency and
// build output directories. Their files never count toward a project.
var excluded = map[string]struct{}{
	".git":             {},
	".hg":              {},
	".svn":             {},
	"node_modules":     {},
	"vendor":           {},
	"bower_components": {},
	"dist":             {},
	"build":            {},
	"out":              {},
	"target":           {},
	"bin":              {},
	"obj":              {},
	".next":            {},
	".nuxt":            {},
	"coverage":         {},
	"__pycache__":      {},
	".venv":            {},
	"venv":             {},
	".tox":             {},
	".idea":            {},
	".vscode":          {},
	".gradle":          {},
	".terraform":       {},
}

// categories are well known rule id segments.
var categories = []string{
	"security",
	"correctness",
	"performance",
	"best-practice",
	"maintainability",
	"portability",
	"compatibility",
	"audit",
}

// OpengrepReport is the subset of the opengrep/semgrep JSON report the
// engine reads.
type OpengrepReport struct {
	Results []OpengrepResult      `json:"results"`
	Errors  []jsoniter.RawMessage `json:"errors"`
	Paths   struct {
		Scanned []string      `json:"scanned"`
		Skipped []SkippedPath `json:"skipped"`
	} `json:"paths"`
}

type OpengrepResult struct {
	CheckID string `json:"check_id"`
	Path    string `json:"path"`
	Start   struct {
		Line int `json:"line"`
	} `json:"start"`
	Extra struct {
		Message  string `json:"message"`
		Severity string `json:"severity"`
	} `json:"extra"`
}

// SkippedPath is either a plain path or a {path, reason} object.
type SkippedPath struct {
	Path   string
	Reason string
}

func (s *SkippedPath) UnmarshalJSON(b []byte) error {
	var path string
	if err := json.Unmarshal(b, &path); err == nil {
		s.Path = path
		return nil
	}
	var obj struct {
		Path   string `json:"path"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	s.Path, s.Reason = obj.Path, obj.Reason
	return nil
}

// Bucket aggregates the files and issues of a top level directory.
type Bucket struct {
	Name       string
	Files      int
	Issues     int
	BySeverity map[string]int
}

// SAST is a parsed static analysis report.
type SAST struct {
	Summary     model.SASTSummary
	Buckets     map[string]*Bucket
	Categories  map[string]int
	Diagnostics map[string]int // rules seen in the tool output, by category
	Findings    []SASTFinding
}

type SASTFinding struct {
	Path    string
	Line    int
	CheckID string
	Rank    string
	Message string
}

// ParseSAST reads an opengrep JSON report. Paths are normalized relative to
// workdir. diagnostics are the lines of the tool output, scanned for rule
// identifiers.
func ParseSAST(path, workdir string, diagnostics []string) (SAST, error) {
	var r OpengrepReport
	if err := decodeFile(path, &r); err != nil {
		return SAST{}, err
	}
	return AnalyzeSAST(r, workdir, diagnostics), nil
}

// AnalyzeSAST attributes files and findings of r to buckets and categories.
func AnalyzeSAST(r OpengrepReport, workdir string, diagnostics []string) SAST {
	ret := SAST{
		Buckets:     make(map[string]*Bucket),
		Categories:  make(map[string]int),
		Diagnostics: make(map[string]int),
		Summary: model.SASTSummary{
			FilesScanned: len(r.Paths.Scanned),
			FilesSkipped: len(r.Paths.Skipped),
			BySeverity:   make(map[string]int),
		},
	}
	bucket := func(name string) *Bucket {
		b, ok := ret.Buckets[name]
		if !ok {
			b = &Bucket{Name: name, BySeverity: make(map[string]int)}
			ret.Buckets[name] = b
		}
		return b
	}

	withIssues := make(map[string]struct{})
	for _, res := range r.Results {
		rel := normalize(workdir, res.Path)
		rank := Rank(res.Extra.Severity)
		withIssues[rel] = struct{}{}

		b := bucket(BucketOf(rel))
		b.Issues++
		b.BySeverity[rank]++

		ret.Summary.TotalIssues++
		ret.Summary.BySeverity[rank]++
		ret.Categories[Category(res.CheckID)]++
		ret.Findings = append(ret.Findings, SASTFinding{
			Path:    rel,
			Line:    res.Start.Line,
			CheckID: res.CheckID,
			Rank:    rank,
			Message: res.Extra.Message,
		})
	}

	passed := 0
	for _, p := range r.Paths.Scanned {
		rel := normalize(workdir, p)
		bucket(BucketOf(rel)).Files++
		if _, ok := withIssues[rel]; !ok {
			passed++
		}
	}
	ret.Summary.FailedChecks = ret.Summary.TotalIssues
	ret.Summary.PassedChecks = passed

	for _, id := range RuleIDs(diagnostics) {
		ret.Diagnostics[Category(id)]++
	}
	return ret
}

func normalize(workdir, p string) string {
	p = filepath.FromSlash(p)
	if filepath.IsAbs(p) && workdir != "" {
		if rel, err := filepath.Rel(workdir, p); err == nil {
			p = rel
		}
	}
	p = filepath.ToSlash(filepath.Clean(p))
	return strings.TrimPrefix(p, "./")
}

// BucketOf returns the top level directory of a normalized relative path,
// or OtherBucket for root files, paths outside of the working directory and
// excluded directories.
func BucketOf(rel string) string {
	first, rest, ok := strings.Cut(rel, "/")
	if !ok || rest == "" || first == ".." || first == "." || first == "" {
		return OtherBucket
	}
	if _, skip := excluded[first]; skip {
		return OtherBucket
	}
	return first
}

// Rank maps a tool severity onto critical, high, medium or low.
func Rank(severity string) string {
	switch strings.ToUpper(strings.TrimSpace(severity)) {
	case "CRITICAL":
		return RankCritical
	case "ERROR", "HIGH":
		return RankHigh
	case "WARNING", "MEDIUM":
		return RankMedium
	default:
		return RankLow
	}
}

// Category derives a rule category from the dotted segments of a rule id.
func Category(checkID string) string {
	segs := strings.Split(strings.ToLower(checkID), ".")
	for _, s := range segs {
		if slices.Contains(categories, s) {
			return s
		}
	}
	if len(segs) >= 3 {
		return segs[1]
	}
	return "general"
}

var ruleID = regexp.MustCompile(`\b([a-z0-9][a-z0-9_-]*(?:\.[a-z0-9][a-z0-9_-]*){2,})\b`)

// RuleIDs extracts dotted rule identifiers from the diagnostic lines which
// mention a rule. Each id is returned once.
func RuleIDs(lines []string) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, line := range lines {
		if !strings.Contains(strings.ToLower(line), "rule") {
			continue
		}
		for _, m := range ruleID.FindAllStringSubmatch(line, -1) {
			id := m[1]
			if looksLikeFile(id) {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

func looksLikeFile(id string) bool {
	switch filepath.Ext(id) {
	case ".json", ".yaml", ".yml", ".go", ".py", ".js", ".ts", ".java", ".rb", ".php", ".c", ".h", ".cs", ".rs", ".kt":
		return true
	}
	return false
}

// RenderSAST returns findings, project and category breakdowns as log lines.
func RenderSAST(s SAST) []string {
	var lines []string
	for _, f := range s.Findings {
		lines = append(lines, fmt.Sprintf("[%s] %s:%d %s: %s", f.Rank, f.Path, f.Line, f.CheckID, f.Message))
	}
	for _, name := range slices.Sorted(maps.Keys(s.Buckets)) {
		b := s.Buckets[name]
		lines = append(lines, fmt.Sprintf("project %s: %d files, %d issues%s", name, b.Files, b.Issues, ranks(b.BySeverity)))
	}
	for _, c := range slices.Sorted(maps.Keys(s.Categories)) {
		lines = append(lines, fmt.Sprintf("category %s: %d issues", c, s.Categories[c]))
	}
	for _, c := range slices.Sorted(maps.Keys(s.Diagnostics)) {
		lines = append(lines, fmt.Sprintf("rules run in category %s: %d", c, s.Diagnostics[c]))
	}
	sum := s.Summary
	lines = append(lines, fmt.Sprintf("files scanned: %d, skipped: %d, passed checks: %d, failed checks: %d%s",
		sum.FilesScanned, sum.FilesSkipped, sum.PassedChecks, sum.FailedChecks, ranks(sum.BySeverity)))
	return lines
}

func ranks(m map[string]int) string {
	var parts []string
	for _, r := range Ranks {
		if n := m[r]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", r, n))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}
