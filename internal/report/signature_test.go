package report_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/DevJayantaGhosh/sherlock/internal/report"
	"github.com/stretchr/testify/require"
)

const (
	hashA = "0123456789abcdef0123456789abcdef01234567"
	hashB = "89abcdef0123456789abcdef0123456789abcdef"
	hashC = "fedcba9876543210fedcba9876543210fedcba98"
)

func TestSignatureParser(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    string
		total    int
		good     int
		unsigned int
	}{
		{
			scenario: "empty log",
			given:    "",
		},
		{
			scenario: "gpg good signature",
			given: `gpg: Signature made Mon 01 Jan 2024 10:00:00 AM UTC
gpg:                using RSA key ABCDEF
gpg: Good signature from "Dev <dev@example.com>" [ultimate]
` + hashA + `|Dev|Mon Jan 1 10:00:00 2024 +0000|feat: first`,
			total: 1,
			good:  1,
		},
		{
			scenario: "ssh good signature and unsigned commit",
			given: `Good "git" signature for dev@example.com with ED25519 key SHA256:abc
` + hashA + `|Dev|Mon Jan 1 10:00:00 2024 +0000|signed
` + hashB + `|Dev|Tue Jan 2 10:00:00 2024 +0000|unsigned`,
			total:    2,
			good:     1,
			unsigned: 1,
		},
		{
			scenario: "marker does not leak into the next commit",
			given: `gpg: Good signature from "Dev"
` + hashA + `|Dev|date|one
gpg: BAD signature from "Mallory"
` + hashB + `|Mallory|date|two
` + hashC + `|Nobody|date|three | with | pipes`,
			total:    3,
			good:     1,
			unsigned: 1,
		},
		{
			scenario: "non record lines are ignored",
			given: `not|a|hash|line
deadbeef|short|hash|line
` + hashA + `|only|three`,
		},
	}

	p := report.NewSignatureParser(10)
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			commits, summary := p.Parse(strings.Split(tc.given, "\n"))
			require.Len(t, commits, tc.total)
			require.Equal(t, tc.total, summary.TotalCommits)
			require.Equal(t, tc.good, summary.GoodSignatures)
			require.Equal(t, tc.unsigned, summary.Unsigned)
			if tc.total == 0 {
				require.Zero(t, summary.SuccessRate)
			} else {
				require.InDelta(t, float64(tc.good)/float64(tc.total), summary.SuccessRate, 1e-9)
			}
			lines := report.RenderSignatures(commits, summary)
			require.Len(t, lines, tc.total+2)
		})
	}
}

func TestSignatureParser_Window(t *testing.T) {
	t.Parallel()
	var b strings.Builder
	b.WriteString("gpg: Good signature from \"Dev\"\n")
	for i := range 5 {
		fmt.Fprintf(&b, "gpg: noise %d\n", i)
	}
	b.WriteString(hashA + "|Dev|date|subject\n")
	lines := strings.Split(b.String(), "\n")

	_, summary := report.NewSignatureParser(3).Parse(lines)
	require.Equal(t, 1, summary.TotalCommits)
	require.Zero(t, summary.GoodSignatures, "marker outside of the window")

	_, summary = report.NewSignatureParser(10).Parse(lines)
	require.Equal(t, 1, summary.GoodSignatures)
}

func TestSignatureParser_Bounds(t *testing.T) {
	t.Parallel()
	// every line is either a marker or a record, in any order
	var lines []string
	for i := range 200 {
		if i%3 == 0 {
			lines = append(lines, "gpg: Good signature from \"x\"")
		} else {
			lines = append(lines, fmt.Sprintf("%040x|a|d|s", i))
		}
	}
	commits, summary := report.NewSignatureParser(2).Parse(lines)
	require.Equal(t, len(commits), summary.TotalCommits)
	require.GreaterOrEqual(t, summary.GoodSignatures, 0)
	require.LessOrEqual(t, summary.GoodSignatures, summary.TotalCommits)
	require.GreaterOrEqual(t, summary.SuccessRate, 0.0)
	require.LessOrEqual(t, summary.SuccessRate, 1.0)
}
