package api

import (
	"context"
	"log/slog"
)

// Auditor logs every HTTP access decision through the router's structured
// logger. Adapted from a desktop app's file-backed AuditLogger: this
// repo has no GUI to emit events to and no local-only audience for a
// separate log file, so logging folds into the ordinary slog stream.
type Auditor struct {
	logger *slog.Logger
}

// NewAuditor builds an Auditor writing through logger.
func NewAuditor(logger *slog.Logger) *Auditor {
	return &Auditor{logger: logger}
}

// Log records one access decision.
func (a *Auditor) Log(sourceIP, userAgent, action string, status int, details string) {
	level := slog.LevelInfo
	if status >= 400 {
		level = slog.LevelWarn
	}
	a.logger.Log(context.Background(), level, "access",
		"action", action, "status", status, "ip", sourceIP, "user_agent", userAgent, "details", details)
}
