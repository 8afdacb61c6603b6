package core

import "errors"

var (
	ErrInvalidItem     = errors.New("invalid item")
	ErrUnknownStrategy = errors.New("unknown strategy")
	ErrEmptyProfile    = errors.New("profile presets are empty")
)
