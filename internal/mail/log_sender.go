// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

package mail

import (
	"context"
	"log/slog"
)

// LogSender writes messages to a logger instead of delivering them. Bodies
// carry live tokens and are only logged at debug level.
type LogSender struct {
	Logger *slog.Logger
}

// Send logs msg.
func (s LogSender) Send(ctx context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "email sent", "kind", string(msg.Kind), "to", msg.To, "subject", msg.Subject)
	logger.DebugContext(ctx, "email body", "kind", string(msg.Kind), "body", msg.Body)
	return nil
}
