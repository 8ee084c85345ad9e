package engine

import (
	"context"

	"github.com/DevJayantaGhosh/sherlock/internal/model"
)

// Clone materializes a working copy of repo. The completion carries the
// path, whether it came from the cache and the HEAD commit.
func (e *Engine) Clone(ctx context.Context, sessionID string, repo model.Repository) error {
	return e.Start(ctx, Request{SessionID: sessionID, Kind: model.KindClone, Repository: repo})
}

// VerifySignatures counts the commits of repo carrying a good signature.
func (e *Engine) VerifySignatures(ctx context.Context, sessionID string, repo model.Repository) error {
	return e.Start(ctx, Request{SessionID: sessionID, Kind: model.KindGPGVerify, Repository: repo})
}

func (e *Engine) ScanSecrets(ctx context.Context, sessionID string, repo model.Repository) error {
	return e.Start(ctx, Request{SessionID: sessionID, Kind: model.KindSecretScan, Repository: repo})
}

func (e *Engine) ScanVulnerabilities(ctx context.Context, sessionID string, repo model.Repository) error {
	return e.Start(ctx, Request{SessionID: sessionID, Kind: model.KindVulnScan, Repository: repo})
}

func (e *Engine) RunSAST(ctx context.Context, sessionID string, repo model.Repository) error {
	return e.Start(ctx, Request{SessionID: sessionID, Kind: model.KindSAST, Repository: repo})
}

// GenerateKeys writes a key pair into p.OutputDir. It needs no repository.
func (e *Engine) GenerateKeys(ctx context.Context, sessionID string, p model.KeygenParams) error {
	return e.Start(ctx, Request{SessionID: sessionID, Kind: model.KindKeygen, Keygen: &p})
}

// Sign writes a signature of the working copy of repo into p.OutputDir.
func (e *Engine) Sign(ctx context.Context, sessionID string, repo model.Repository, p model.SignParams) error {
	return e.Start(ctx, Request{SessionID: sessionID, Kind: model.KindSign, Repository: repo, Sign: &p})
}
