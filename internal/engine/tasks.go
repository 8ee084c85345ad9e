package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/DevJayantaGhosh/sherlock/internal/model"
	"github.com/DevJayantaGhosh/sherlock/internal/proc"
	"github.com/DevJayantaGhosh/sherlock/internal/report"
	"github.com/DevJayantaGhosh/sherlock/internal/toolpath"
)

// Environment variable the key tools read their password from.
const PasswordEnv = "SHERLOCK_KEY_PASSWORD"

// SignatureFile is the name of the signature written by a sign session.
const SignatureFile = "signature.sig"

// invocation is a prepared tool run.
type invocation struct {
	cmd    proc.Command
	report string
	outDir string
}

// parsed is the input of a report parser.
type parsed struct {
	inv     invocation
	workdir string
	output  []string
	window  int
}

// task describes the pipeline of one session kind.
type task struct {
	// tool is the bundled binary, git when empty
	tool string
	// repo reports whether the kind needs a working copy
	repo bool
	// accept reports whether an exit code is a success
	accept func(code int) bool
	// prepare builds the command line
	prepare func(tool, workdir string, req Request) (invocation, error)
	// parse fills the summary of c and returns the rendered lines. On error
	// c carries a zero summary.
	parse func(in parsed, c *model.Completion) ([]string, error)
}

func zeroOnly(code int) bool { return code == 0 }

var tasks = map[model.Kind]task{
	model.KindClone: {
		repo: true,
	},
	model.KindGPGVerify: {
		repo:   true,
		accept: zeroOnly,
		prepare: func(tool, workdir string, _ Request) (invocation, error) {
			return invocation{cmd: proc.Command{
				Path: tool,
				Args: []string{"log", "--show-signature", "--pretty=format:" + report.SignatureFormat},
				Dir:  workdir,
			}}, nil
		},
		parse: func(in parsed, c *model.Completion) ([]string, error) {
			commits, summary := report.NewSignatureParser(in.window).Parse(in.output)
			c.Signatures = &summary
			return report.RenderSignatures(commits, summary), nil
		},
	},
	model.KindSecretScan: {
		tool: toolpath.Gitleaks,
		repo: true,
		// gitleaks exits with 1 when it found leaks
		accept: func(code int) bool { return code == 0 || code == 1 },
		prepare: func(tool, workdir string, _ Request) (invocation, error) {
			out := filepath.Join(workdir, report.SecretsReport)
			return invocation{report: out, cmd: proc.Command{
				Path: tool,
				Args: []string{
					"detect",
					"--source", workdir,
					"--report-format", "json",
					"--report-path", out,
					"--verbose",
					"--no-banner",
				},
				Dir: workdir,
			}}, nil
		},
		parse: func(in parsed, c *model.Completion) ([]string, error) {
			c.Secrets = &model.SecretSummary{}
			findings, summary, err := report.ParseSecrets(in.inv.report)
			if err != nil {
				return nil, err
			}
			c.Secrets = &summary
			return append(report.RenderSecrets(findings), fmt.Sprintf("secrets found: %d", summary.Findings)), nil
		},
	},
	model.KindVulnScan: {
		tool:   toolpath.Trivy,
		repo:   true,
		accept: zeroOnly,
		prepare: func(tool, workdir string, _ Request) (invocation, error) {
			out := filepath.Join(workdir, report.VulnsReport)
			return invocation{report: out, cmd: proc.Command{
				Path: tool,
				Args: []string{"fs", "--format", "json", "--output", out, "--scanners", "vuln", workdir},
				Dir:  workdir,
			}}, nil
		},
		parse: func(in parsed, c *model.Completion) ([]string, error) {
			c.Vulns = &model.VulnSummary{}
			r, summary, err := report.ParseVulns(in.inv.report)
			if err != nil {
				return nil, err
			}
			c.Vulns = &summary
			return report.RenderVulns(r, summary), nil
		},
	},
	model.KindSAST: {
		tool:   toolpath.Opengrep,
		repo:   true,
		accept: zeroOnly,
		prepare: func(tool, workdir string, _ Request) (invocation, error) {
			out := filepath.Join(workdir, report.SASTReport)
			return invocation{report: out, cmd: proc.Command{
				Path: tool,
				Args: []string{"scan", "--config", "auto", "--json", "--output", out, "--verbose", workdir},
				Dir:  workdir,
			}}, nil
		},
		parse: func(in parsed, c *model.Completion) ([]string, error) {
			c.SAST = &model.SASTSummary{}
			s, err := report.ParseSAST(in.inv.report, in.workdir, in.output)
			if err != nil {
				return nil, err
			}
			c.SAST = &s.Summary
			return report.RenderSAST(s), nil
		},
	},
	model.KindKeygen: {
		tool:   toolpath.Keygen,
		accept: zeroOnly,
		prepare: func(tool, _ string, req Request) (invocation, error) {
			p := req.Keygen
			if err := os.MkdirAll(p.OutputDir, 0o700); err != nil {
				return invocation{}, fmt.Errorf("output directory: %w", err)
			}
			args := []string{"--algorithm", p.Algorithm}
			if p.Algorithm == model.AlgorithmRSA {
				args = append(args, "--bits", strconv.Itoa(p.Bits))
			} else {
				args = append(args, "--curve", p.Curve)
			}
			args = append(args, "--out", p.OutputDir)
			return invocation{outDir: p.OutputDir, cmd: proc.Command{
				Path: tool,
				Args: args,
				Env:  passwordEnv(p.Password),
				Dir:  p.OutputDir,
			}}, nil
		},
		parse: artifacts,
	},
	model.KindSign: {
		tool:   toolpath.Sign,
		repo:   true,
		accept: zeroOnly,
		prepare: func(tool, workdir string, req Request) (invocation, error) {
			p := req.Sign
			if err := os.MkdirAll(p.OutputDir, 0o700); err != nil {
				return invocation{}, fmt.Errorf("output directory: %w", err)
			}
			return invocation{outDir: p.OutputDir, cmd: proc.Command{
				Path: tool,
				Args: []string{"--key", p.KeyPath, "--input", workdir, "--out", filepath.Join(p.OutputDir, SignatureFile)},
				Env:  passwordEnv(p.Password),
				Dir:  workdir,
			}}, nil
		},
		parse: artifacts,
	},
}

func passwordEnv(password string) []string {
	if password == "" {
		return nil
	}
	return []string{PasswordEnv + "=" + password}
}

// artifacts lists the regular files of the output directory.
func artifacts(in parsed, c *model.Completion) ([]string, error) {
	entries, err := os.ReadDir(in.inv.outDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrReportParse, err)
	}
	var lines []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(in.inv.outDir, e.Name())
		c.Artifacts = append(c.Artifacts, path)
		lines = append(lines, "wrote "+path)
	}
	slices.Sort(c.Artifacts)
	slices.Sort(lines)
	return lines, nil
}
