package model

type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
	StreamEngine Stream = "engine"
)

// LogEvent is a single line of session output together with the current progress.
type LogEvent struct {
	SessionID string `json:"sessionId"`
	Log       string `json:"log"`
	Progress  int    `json:"progress"`
	Stream    Stream `json:"stream,omitempty"`
}

// Completion is the terminal event of a session. Exactly one is published
// per session.
type Completion struct {
	SessionID  string   `json:"sessionId"`
	Kind       Kind     `json:"kind"`
	Success    bool     `json:"success"`
	Cancelled  bool     `json:"cancelled,omitempty"`
	Error      string   `json:"error,omitempty"`
	Progress   int      `json:"progress"`
	Path       string   `json:"path,omitempty"`
	Cached     bool     `json:"cached,omitempty"`
	Head       string   `json:"head,omitempty"`
	ReportPath string   `json:"reportPath,omitempty"`
	Artifacts  []string `json:"artifacts,omitempty"`

	Signatures *SignatureSummary `json:"signatures,omitempty"`
	Secrets    *SecretSummary    `json:"secrets,omitempty"`
	Vulns      *VulnSummary      `json:"vulnerabilities,omitempty"`
	SAST       *SASTSummary      `json:"sast,omitempty"`
}

type SignatureSummary struct {
	TotalCommits   int     `json:"totalCommits"`
	GoodSignatures int     `json:"goodSignatures"`
	Unsigned       int     `json:"unsigned"`
	SuccessRate    float64 `json:"successRate"`
}

type SecretSummary struct {
	Findings int `json:"findings"`
}

type VulnSummary struct {
	Vulnerabilities int            `json:"vulnerabilities"`
	Targets         int            `json:"targets"`
	BySeverity      map[string]int `json:"bySeverity,omitempty"`
}

type SASTSummary struct {
	TotalIssues  int            `json:"totalIssues"`
	PassedChecks int            `json:"passedChecks"`
	FailedChecks int            `json:"failedChecks"`
	FilesScanned int            `json:"filesScanned"`
	FilesSkipped int            `json:"filesSkipped"`
	BySeverity   map[string]int `json:"bySeverity,omitempty"`
}

// CancelResult is the answer to a cancellation request.
type CancelResult struct {
	Cancelled bool `json:"cancelled"`
}
