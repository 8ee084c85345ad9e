package report

import (
	"fmt"
	"strings"

	"github.com/DevJayantaGhosh/sherlock/internal/model"

	"github.com/zricethezav/gitleaks/v8/report"
)

// SecretsReport is the name of the gitleaks JSON report in the working directory.
const SecretsReport = "gitleaks-report.json"

// ParseSecrets reads a gitleaks JSON report, an array of findings.
func ParseSecrets(path string) ([]report.Finding, model.SecretSummary, error) {
	var findings []report.Finding
	if err := decodeFile(path, &findings); err != nil {
		return nil, model.SecretSummary{}, err
	}
	return findings, model.SecretSummary{Findings: len(findings)}, nil
}

// RenderSecrets returns one log line per finding with the secret masked.
func RenderSecrets(findings []report.Finding) []string {
	lines := make([]string, 0, len(findings))
	for _, f := range findings {
		line := fmt.Sprintf("[%s] %s:%d", f.RuleID, f.File, f.StartLine)
		if f.Commit != "" {
			line += " commit " + short(f.Commit)
		}
		if f.Secret != "" {
			line += " secret " + Mask(f.Secret)
		}
		lines = append(lines, line)
	}
	return lines
}

// Mask keeps at most the first and the last two characters of a secret.
func Mask(secret string) string {
	r := []rune(secret)
	if len(r) <= 6 {
		return strings.Repeat("*", len(r))
	}
	return string(r[:2]) + strings.Repeat("*", len(r)-4) + string(r[len(r)-2:])
}
