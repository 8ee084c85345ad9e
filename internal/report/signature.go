package report

import (
	"fmt"
	"strings"

	"github.com/DevJayantaGhosh/sherlock/internal/model"
)

// SignatureFormat is the git log pretty format the parser expects.
const SignatureFormat = "%H|%an|%ad|%s"

// DefaultMarkers are the phrases of a valid gpg or ssh signature.
var DefaultMarkers = []string{
	"good signature",
	`good "git" signature`,
}

// Commit is one commit record of the signature log.
type Commit struct {
	Hash    string
	Author  string
	Date    string
	Subject string
	Good    bool
	Signed  bool
}

// SignatureParser parses git log --show-signature output. Verification
// lines precede the commit record they belong to; for every record the
// preceding Window lines, up to the previous record, are searched for a
// marker.
type SignatureParser struct {
	Window  int
	Markers []string
}

func NewSignatureParser(window int) SignatureParser {
	if window <= 0 {
		window = model.DefaultSignatureWindow
	}
	return SignatureParser{Window: window, Markers: DefaultMarkers}
}

// Parse makes a single forward pass over lines.
func (p SignatureParser) Parse(lines []string) ([]Commit, model.SignatureSummary) {
	var commits []Commit
	var summary model.SignatureSummary
	prev := -1
	for i, line := range lines {
		c, ok := parseRecord(line)
		if !ok {
			continue
		}
		from := max(i-p.Window, prev+1, 0)
		for _, w := range lines[from:i] {
			lw := strings.ToLower(w)
			if strings.Contains(lw, "signature") {
				c.Signed = true
			}
			if p.isGood(lw) {
				c.Good = true
			}
		}
		prev = i

		summary.TotalCommits++
		if c.Good {
			summary.GoodSignatures++
		}
		if !c.Signed {
			summary.Unsigned++
		}
		commits = append(commits, c)
	}
	if summary.TotalCommits > 0 {
		summary.SuccessRate = float64(summary.GoodSignatures) / float64(summary.TotalCommits)
	}
	return commits, summary
}

func (p SignatureParser) isGood(lower string) bool {
	for _, m := range p.Markers {
		if strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// parseRecord recognizes a hash|author|date|subject commit record.
func parseRecord(line string) (Commit, bool) {
	parts := strings.SplitN(strings.TrimSpace(line), "|", 4)
	if len(parts) != 4 || !isHash(parts[0]) {
		return Commit{}, false
	}
	return Commit{Hash: parts[0], Author: parts[1], Date: parts[2], Subject: parts[3]}, true
}

func isHash(s string) bool {
	if len(s) != 40 && len(s) != 64 {
		return false
	}
	for _, r := range s {
		if !('0' <= r && r <= '9' || 'a' <= r && r <= 'f') {
			return false
		}
	}
	return true
}

// RenderSignatures returns the log lines of a parsed signature log.
func RenderSignatures(commits []Commit, s model.SignatureSummary) []string {
	lines := make([]string, 0, len(commits)+2)
	for _, c := range commits {
		status := "UNSIGNED"
		switch {
		case c.Good:
			status = "GOOD"
		case c.Signed:
			status = "BAD"
		}
		lines = append(lines, fmt.Sprintf("%-8s %s %s (%s) %s", status, short(c.Hash), c.Author, c.Date, c.Subject))
	}
	lines = append(lines,
		fmt.Sprintf("commits: %d, good signatures: %d, unsigned: %d", s.TotalCommits, s.GoodSignatures, s.Unsigned),
		fmt.Sprintf("success rate: %.1f%%", s.SuccessRate*100),
	)
	return lines
}

func short(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
