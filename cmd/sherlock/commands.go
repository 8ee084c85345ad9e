package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/DevJayantaGhosh/sherlock/internal/bom"
	"github.com/DevJayantaGhosh/sherlock/internal/clone"
	"github.com/DevJayantaGhosh/sherlock/internal/engine"
	"github.com/DevJayantaGhosh/sherlock/internal/model"
	"github.com/DevJayantaGhosh/sherlock/internal/report"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// repoFlags are shared by every command working on a repository.
type repoFlags struct {
	session string
	url     string
	branch  string
	path    string
}

func (f *repoFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.session, "session", "", "session id, generated when empty")
	cmd.Flags().StringVar(&f.url, "url", "", "repository URL to clone")
	cmd.Flags().StringVar(&f.branch, "branch", "", "branch to clone, the remote default when empty")
	cmd.Flags().StringVar(&f.path, "path", "", "local working copy, skips cloning")
	cmd.MarkFlagsMutuallyExclusive("url", "path")
	cmd.MarkFlagsOneRequired("url", "path")
}

func (f *repoFlags) repository() model.Repository {
	return model.Repository{URL: f.url, Branch: f.branch, LocalPath: f.path}
}

func sessionID(flag string) string {
	if flag != "" {
		return flag
	}
	return uuid.NewString()
}

// scanCmd builds a command running one session of kind on a repository.
func scanCmd(use, short string, kind model.Kind) *cobra.Command {
	var f repoFlags
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				_, err := runSession(ctx, cmd, e, engine.Request{
					SessionID:  sessionID(f.session),
					Kind:       kind,
					Repository: f.repository(),
				})
				return err
			})
		},
	}
	f.register(cmd)
	return cmd
}

func cloneCmd() *cobra.Command {
	return scanCmd("clone", "materialize a working copy of a repository", model.KindClone)
}

func verifyCmd() *cobra.Command {
	return scanCmd("verify", "verify gpg signatures of the repository commits", model.KindGPGVerify)
}

func sastCmd() *cobra.Command {
	return scanCmd("sast", "run a static analysis of a repository", model.KindSAST)
}

// bomCmd is a scan command which optionally exports its report as a BOM.
func bomCmd(use, short string, kind model.Kind, export func(*bom.Builder, string) error) *cobra.Command {
	var f repoFlags
	var bomPath string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				repo := f.repository()
				c, err := runSession(ctx, cmd, e, engine.Request{
					SessionID:  sessionID(f.session),
					Kind:       kind,
					Repository: repo,
				})
				if err != nil || bomPath == "" {
					return err
				}
				b := bom.NewBuilder().WithSubject(repo.Name(), c.Head, clone.Redact(repo.URL, config.Git.Token))
				if err := export(b, c.ReportPath); err != nil {
					return err
				}
				return writeBOM(b, bomPath)
			})
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&bomPath, "bom", "", "write a CycloneDX BOM of the findings into a file")
	return cmd
}

func secretsCmd() *cobra.Command {
	return bomCmd("secrets", "detect secrets in a repository", model.KindSecretScan,
		func(b *bom.Builder, path string) error {
			findings, _, err := report.ParseSecrets(path)
			if err != nil {
				return err
			}
			b.AppendComponents(bom.SecretComponents(findings)...)
			return nil
		})
}

func vulnsCmd() *cobra.Command {
	return bomCmd("vulns", "scan repository dependencies for vulnerabilities", model.KindVulnScan,
		func(b *bom.Builder, path string) error {
			r, _, err := report.ParseVulns(path)
			if err != nil {
				return err
			}
			compos, vulns := bom.VulnComponents(r)
			b.AppendComponents(compos...).AppendVulnerabilities(vulns...)
			return nil
		})
}

func writeBOM(b *bom.Builder, path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating bom file: %w", err)
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	if err := b.AsJSON(f); err != nil {
		return fmt.Errorf("encoding bom: %w", err)
	}
	return nil
}

func keygenCmd() *cobra.Command {
	var session string
	var p model.KeygenParams
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "generate a signing key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p.Password = os.Getenv(engine.PasswordEnv)
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				_, err := runSession(ctx, cmd, e, engine.Request{
					SessionID: sessionID(session),
					Kind:      model.KindKeygen,
					Keygen:    &p,
				})
				return err
			})
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "session id, generated when empty")
	cmd.Flags().StringVar(&p.Algorithm, "algorithm", model.AlgorithmRSA, "rsa or ecc")
	cmd.Flags().IntVar(&p.Bits, "bits", 4096, "rsa key size")
	cmd.Flags().StringVar(&p.Curve, "curve", "P-256", "ecc curve")
	cmd.Flags().StringVar(&p.OutputDir, "out", "", "output directory of the key files")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func signCmd() *cobra.Command {
	var f repoFlags
	var p model.SignParams
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "sign the working copy of a repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p.Password = os.Getenv(engine.PasswordEnv)
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				_, err := runSession(ctx, cmd, e, engine.Request{
					SessionID:  sessionID(f.session),
					Kind:       model.KindSign,
					Repository: f.repository(),
					Sign:       &p,
				})
				return err
			})
		},
	}
	f.register(cmd)
	signFlags(cmd, &p)
	return cmd
}

func signFlags(cmd *cobra.Command, p *model.SignParams) {
	cmd.Flags().StringVar(&p.KeyPath, "key", "", "private key file")
	cmd.Flags().StringVar(&p.OutputDir, "out", "", "output directory of the signature")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("out")
}

// batchSignCmd signs several repositories one session after another.
func batchSignCmd() *cobra.Command {
	var urls []string
	var branch string
	var p model.SignParams
	cmd := &cobra.Command{
		Use:   "batch-sign",
		Short: "sign several repositories sequentially",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p.Password = os.Getenv(engine.PasswordEnv)
			return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				var errs []error
				for i, url := range urls {
					if i > 0 {
						select {
						case <-ctx.Done():
							return errors.Join(append(errs, ctx.Err())...)
						case <-time.After(config.Batch.Delay):
						}
					}
					repo := model.Repository{URL: url, Branch: branch}
					params := p
					params.OutputDir = filepath.Join(p.OutputDir, repo.Name())
					_, err := runSession(ctx, cmd, e, engine.Request{
						SessionID:  uuid.NewString(),
						Kind:       model.KindSign,
						Repository: repo,
						Sign:       &params,
					})
					if err != nil {
						errs = append(errs, fmt.Errorf("%s: %w", clone.Redact(url, config.Git.Token), err))
					}
				}
				return errors.Join(errs...)
			})
		},
	}
	cmd.Flags().StringSliceVar(&urls, "url", nil, "repository URLs to sign")
	cmd.Flags().StringVar(&branch, "branch", "", "branch of every repository")
	_ = cmd.MarkFlagRequired("url")
	signFlags(cmd, &p)
	return cmd
}
