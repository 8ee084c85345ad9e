package report_test

import (
	"testing"

	"github.com/DevJayantaGhosh/sherlock/internal/model"
	"github.com/DevJayantaGhosh/sherlock/internal/report"
	"github.com/stretchr/testify/require"
)

const trivyJSON = `{
  "SchemaVersion": 2,
  "ArtifactName": "/work/repo",
  "ArtifactType": "filesystem",
  "Results": [
    {
      "Target": "go.mod",
      "Class": "lang-pkgs",
      "Type": "gomod",
      "Vulnerabilities": [
        {"VulnerabilityID": "CVE-2024-0001", "PkgName": "golang.org/x/net", "InstalledVersion": "0.1.0", "FixedVersion": "0.23.0", "Severity": "HIGH", "Title": "HTTP/2 rapid reset"},
        {"VulnerabilityID": "CVE-2024-0002", "PkgName": "golang.org/x/crypto", "InstalledVersion": "0.1.0", "Severity": "CRITICAL"}
      ]
    },
    {"Target": "package-lock.json", "Class": "lang-pkgs", "Type": "npm"},
    {
      "Target": "requirements.txt",
      "Type": "pip",
      "Vulnerabilities": [
        {"VulnerabilityID": "CVE-2023-1111", "PkgName": "django", "InstalledVersion": "3.2", "Severity": "weird"}
      ]
    }
  ]
}`

func TestParseVulns(t *testing.T) {
	t.Parallel()
	r, summary, err := report.ParseVulns(writeFile(t, report.VulnsReport, trivyJSON))
	require.NoError(t, err)
	require.Len(t, r.Results, 3)
	require.Equal(t, 3, summary.Vulnerabilities)
	require.Equal(t, 3, summary.Targets)
	require.Equal(t, map[string]int{"HIGH": 1, "CRITICAL": 1, "UNKNOWN": 1}, summary.BySeverity)

	lines := report.RenderVulns(r, summary)
	require.Contains(t, lines, "go.mod (gomod): 2 vulnerabilities")
	require.Contains(t, lines, "  [HIGH] CVE-2024-0001 golang.org/x/net@0.1.0 fixed in 0.23.0: HTTP/2 rapid reset")
	require.Contains(t, lines, "package-lock.json (npm): 0 vulnerabilities")
	require.Contains(t, lines, "CRITICAL: 1")
	require.Equal(t, "total vulnerabilities: 3 in 3 targets", lines[len(lines)-1])
}

func TestParseVulns_NoResults(t *testing.T) {
	t.Parallel()
	_, summary, err := report.ParseVulns(writeFile(t, report.VulnsReport, `{"SchemaVersion":2}`))
	require.NoError(t, err)
	require.Zero(t, summary.Vulnerabilities)

	_, _, err = report.ParseVulns(writeFile(t, report.VulnsReport, ``))
	require.ErrorIs(t, err, model.ErrReportParse)
}
