package model

import (
	"path"
	"strings"
	"time"
)

// Kind identifies the tool a session runs.
type Kind string

const (
	KindClone      Kind = "clone"
	KindGPGVerify  Kind = "gpg-verify"
	KindSecretScan Kind = "secret-scan"
	KindVulnScan   Kind = "vuln-scan"
	KindSAST       Kind = "sast"
	KindKeygen     Kind = "keygen"
	KindSign       Kind = "sign"
)

// Kinds lists every supported session kind.
func Kinds() []Kind {
	return []Kind{KindClone, KindGPGVerify, KindSecretScan, KindVulnScan, KindSAST, KindKeygen, KindSign}
}

func (k Kind) Valid() bool {
	for _, x := range Kinds() {
		if k == x {
			return true
		}
	}
	return false
}

type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Repository describes a source repository, either remote (URL + Branch) or
// an already materialized working copy (LocalPath).
type Repository struct {
	URL       string `json:"url,omitempty"`
	Branch    string `json:"branch,omitempty"`
	LocalPath string `json:"localPath,omitempty"`
}

// CacheKey returns the repository cache key, url:branch.
func (r Repository) CacheKey() string {
	return r.URL + ":" + r.Branch
}

// Name returns the last path element of the URL without the .git suffix.
func (r Repository) Name() string {
	src := r.URL
	if src == "" {
		src = r.LocalPath
	}
	src = strings.TrimRight(strings.ReplaceAll(src, "\\", "/"), "/")
	// scp-like git@host:org/repo.git
	if i := strings.LastIndex(src, ":"); i > strings.LastIndex(src, "/") {
		src = src[i+1:]
	}
	name := strings.TrimSuffix(path.Base(src), ".git")
	if name == "" || name == "." || name == "/" {
		return "repo"
	}
	return name
}

func (r Repository) IsZero() bool {
	return r.URL == "" && r.LocalPath == ""
}

// Session is a snapshot of an in-flight session.
type Session struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	Repository Repository `json:"repository"`
	State      State      `json:"state"`
	Progress   int        `json:"progress"`
	Started    time.Time  `json:"started"`
}

// ProcessKey returns the registry key of the session primary process.
func ProcessKey(sessionID string) string {
	return sessionID
}

// CloneProcessKey returns the registry key of the clone associated with a session.
func CloneProcessKey(sessionID string) string {
	return sessionID + "-clone"
}
