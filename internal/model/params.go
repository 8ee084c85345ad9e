package model

import (
	"fmt"
	"slices"
)

const (
	AlgorithmRSA = "rsa"
	AlgorithmECC = "ecc"
)

var (
	rsaBits   = []int{2048, 3072, 4096}
	eccCurves = []string{"P-256", "P-384", "P-521", "secp256k1"}
)

// KeygenParams are the parameters of a key generation session.
type KeygenParams struct {
	Algorithm string `json:"algorithm"`
	Bits      int    `json:"bits,omitempty"`
	Curve     string `json:"curve,omitempty"`
	Password  string `json:"-"`
	OutputDir string `json:"outputDir"`
}

func (p KeygenParams) Validate() error {
	if p.OutputDir == "" {
		return fmt.Errorf("%w: keygen output directory is empty", ErrInvalidRequest)
	}
	switch p.Algorithm {
	case AlgorithmRSA:
		if !slices.Contains(rsaBits, p.Bits) {
			return fmt.Errorf("%w: unsupported rsa key size %d", ErrInvalidRequest, p.Bits)
		}
	case AlgorithmECC:
		if !slices.Contains(eccCurves, p.Curve) {
			return fmt.Errorf("%w: unsupported curve %q", ErrInvalidRequest, p.Curve)
		}
	default:
		return fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidRequest, p.Algorithm)
	}
	return nil
}

// SignParams are the parameters of a signing session.
type SignParams struct {
	KeyPath   string `json:"keyPath"`
	Password  string `json:"-"`
	OutputDir string `json:"outputDir"`
}

func (p SignParams) Validate() error {
	if p.KeyPath == "" {
		return fmt.Errorf("%w: signing key path is empty", ErrInvalidRequest)
	}
	if p.OutputDir == "" {
		return fmt.Errorf("%w: signature output directory is empty", ErrInvalidRequest)
	}
	return nil
}
