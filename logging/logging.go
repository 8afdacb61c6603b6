// Package logging builds the zap loggers shared by every participant.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field names used across participants.
const (
	FieldConversation = "conversation"
	FieldParticipant  = "participant"
	FieldRole         = "role"
	FieldRound        = "round"
	FieldItem         = "item"
	FieldAskingPrice  = "asking_price"
	FieldDelegate     = "delegate"
)

// New builds a logger. format is "json" for production output or "console" for development.
func New(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	var cfg zap.Config
	switch format {
	case "json", "":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// OrNop returns logger, or a no-op logger when it is nil.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// Participant scopes a logger to one participant.
func Participant(logger *zap.Logger, role, address string) *zap.Logger {
	return OrNop(logger).With(zap.String(FieldRole, role), zap.String(FieldParticipant, address))
}
