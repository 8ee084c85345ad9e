package model

import (
	"errors"
)

var (
	ErrToolNotFound   = errors.New("tool not found")
	ErrCloneFailed    = errors.New("clone failed")
	ErrSpawn          = errors.New("process spawn failed")
	ErrReportParse    = errors.New("report parse failed")
	ErrCancelled      = errors.New("cancelled")
	ErrTimeout        = errors.New("timeout")
	ErrProcessExists  = errors.New("process key already registered")
	ErrInvalidRequest = errors.New("invalid request")
)
