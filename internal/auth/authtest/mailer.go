// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

package authtest

import (
	"context"
	"sync"

	"github.com/synthstack/authcore/internal/auth"
)

// Mail kinds recorded by Mailer.
const (
	KindVerification = "verification"
	KindReset        = "password_reset"
	KindWelcome      = "welcome"
)

// Message is one recorded email request.
type Message struct {
	Kind string
	To   string
	// Body is the token for verification and reset mail, the display name for welcome mail.
	Body string
}

// Mailer records every request instead of sending.
type Mailer struct {
	mu   sync.Mutex
	sent []Message

	// Err, when set, is returned by every send.
	Err error
}

var _ auth.Mailer = (*Mailer)(nil)

func (m *Mailer) record(kind, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, Message{Kind: kind, To: to, Body: body})
	return nil
}

// SendVerificationEmail implements auth.Mailer.
func (m *Mailer) SendVerificationEmail(_ context.Context, to, token string) error {
	return m.record(KindVerification, to, token)
}

// SendPasswordResetEmail implements auth.Mailer.
func (m *Mailer) SendPasswordResetEmail(_ context.Context, to, token string) error {
	return m.record(KindReset, to, token)
}

// SendWelcomeEmail implements auth.Mailer.
func (m *Mailer) SendWelcomeEmail(_ context.Context, to, displayName string) error {
	return m.record(KindWelcome, to, displayName)
}

// Sent returns the recorded messages of the given kind.
func (m *Mailer) Sent(kind string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.sent {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}

// Last returns the most recent message of kind sent to to.
func (m *Mailer) Last(kind, to string) (Message, bool) {
	msgs := m.Sent(kind)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].To == to {
			return msgs[i], true
		}
	}
	return Message{}, false
}
