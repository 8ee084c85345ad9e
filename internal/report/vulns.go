package report

import (
	"fmt"
	"slices"
	"strings"

	"github.com/DevJayantaGhosh/sherlock/internal/model"
)

// VulnsReport is the name of the trivy JSON report in the working directory.
const VulnsReport = "trivy-report.json"

// Severities in descending order, as reported by trivy.
var Severities = []string{"CRITICAL", "HIGH", "MEDIUM", "LOW", "UNKNOWN"}

// TrivyReport is the subset of the trivy JSON report the engine reads.
type TrivyReport struct {
	SchemaVersion int           `json:"SchemaVersion"`
	ArtifactName  string        `json:"ArtifactName"`
	ArtifactType  string        `json:"ArtifactType"`
	Results       []TrivyResult `json:"Results"`
}

type TrivyResult struct {
	Target          string               `json:"Target"`
	Class           string               `json:"Class"`
	Type            string               `json:"Type"`
	Vulnerabilities []TrivyVulnerability `json:"Vulnerabilities"`
}

type TrivyVulnerability struct {
	VulnerabilityID  string `json:"VulnerabilityID"`
	PkgName          string `json:"PkgName"`
	PkgPath          string `json:"PkgPath"`
	InstalledVersion string `json:"InstalledVersion"`
	FixedVersion     string `json:"FixedVersion"`
	Severity         string `json:"Severity"`
	Title            string `json:"Title"`
	Description      string `json:"Description"`
	PrimaryURL       string `json:"PrimaryURL"`
}

// ParseVulns reads a trivy JSON report and counts the vulnerabilities of all
// targets.
func ParseVulns(path string) (TrivyReport, model.VulnSummary, error) {
	var r TrivyReport
	if err := decodeFile(path, &r); err != nil {
		return TrivyReport{}, model.VulnSummary{}, err
	}
	summary := model.VulnSummary{
		Targets:    len(r.Results),
		BySeverity: make(map[string]int),
	}
	for _, res := range r.Results {
		for _, v := range res.Vulnerabilities {
			summary.Vulnerabilities++
			summary.BySeverity[severity(v.Severity)]++
		}
	}
	return r, summary, nil
}

func severity(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if slices.Contains(Severities, s) {
		return s
	}
	return "UNKNOWN"
}

// RenderVulns returns per target and per severity log lines.
func RenderVulns(r TrivyReport, s model.VulnSummary) []string {
	var lines []string
	for _, res := range r.Results {
		lines = append(lines, fmt.Sprintf("%s (%s): %d vulnerabilities", res.Target, res.Type, len(res.Vulnerabilities)))
		for _, v := range res.Vulnerabilities {
			line := fmt.Sprintf("  [%s] %s %s@%s", severity(v.Severity), v.VulnerabilityID, v.PkgName, v.InstalledVersion)
			if v.FixedVersion != "" {
				line += " fixed in " + v.FixedVersion
			}
			if v.Title != "" {
				line += ": " + v.Title
			}
			lines = append(lines, line)
		}
	}
	for _, sev := range Severities {
		if n := s.BySeverity[sev]; n > 0 {
			lines = append(lines, fmt.Sprintf("%s: %d", sev, n))
		}
	}
	lines = append(lines, fmt.Sprintf("total vulnerabilities: %d in %d targets", s.Vulnerabilities, s.Targets))
	return lines
}
