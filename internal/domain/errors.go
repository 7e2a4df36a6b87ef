package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyTerminal = errors.New("generation already terminal")
	ErrClaimHeld       = errors.New("materialization already claimed")
	ErrDuplicateJob    = errors.New("duplicate prediction id")
)
