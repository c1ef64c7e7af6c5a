// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

package postgres

import (
	"context"
	"encoding/json"

	"github.com/samber/oops"

	"github.com/synthstack/authcore/internal/auth"
)

// AppendEvent implements auth.EventSink.
func (s *Store) AppendEvent(ctx context.Context, event *auth.AuthEvent) error {
	meta := event.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return oops.Code("EVENT_APPEND_FAILED").With("operation", "marshal metadata").Wrap(err)
	}

	var userID *string
	if event.UserID != nil {
		id := event.UserID.String()
		userID = &id
	}

	_, err = s.q(ctx).Exec(ctx, `
		INSERT INTO auth_events (id, type, user_id, email, provider, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		event.ID.String(),
		string(event.Type),
		userID,
		event.Email,
		event.Provider,
		metaJSON,
		event.CreatedAt,
	)
	if err != nil {
		return oops.Code("EVENT_APPEND_FAILED").
			With("operation", "insert auth event").
			With("event_type", string(event.Type)).
			Wrap(err)
	}
	return nil
}
