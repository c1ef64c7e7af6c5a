// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

// Package mail queues the account emails requested by the local provider and
// hands them to a Sender off the request path.
package mail

import (
	"bytes"
	"context"
	netmail "net/mail"
	"text/template"

	"github.com/samber/oops"
)

// Kind identifies an email template.
type Kind string

// Email kinds.
const (
	KindVerification  Kind = "verification"
	KindPasswordReset Kind = "password_reset"
	KindWelcome       Kind = "welcome"
)

// Message is a rendered email.
type Message struct {
	Kind    Kind
	To      string
	Subject string
	Body    string
}

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

var templates = map[Kind]struct {
	subject string
	body    *template.Template
}{
	KindVerification: {
		subject: "Verify your email address",
		body: template.Must(template.New("verification").Parse(
			"Confirm your email address by opening:\n\n{{.LinkBase}}/verify-email?token={{.Value}}\n\nThe link expires in 24 hours.\n")),
	},
	KindPasswordReset: {
		subject: "Reset your password",
		body: template.Must(template.New("password_reset").Parse(
			"A password reset was requested for this address. To choose a new password open:\n\n{{.LinkBase}}/reset-password?token={{.Value}}\n\nThe link expires in 1 hour. If you did not ask for this, ignore this email.\n")),
	},
	KindWelcome: {
		subject: "Welcome",
		body: template.Must(template.New("welcome").Parse(
			"Hi {{if .Value}}{{.Value}}{{else}}there{{end}}, your email address is confirmed.\n")),
	},
}

// render builds the message for kind. value is the token for verification
// and reset mail, and the display name for welcome mail.
func render(kind Kind, to, value, linkBase string) (Message, error) {
	addr, err := netmail.ParseAddress(to)
	if err != nil {
		return Message{}, oops.Code("MAIL_ADDRESS_INVALID").With("kind", string(kind)).Wrap(err)
	}
	tmpl, ok := templates[kind]
	if !ok {
		return Message{}, oops.Code("MAIL_KIND_UNKNOWN").With("kind", string(kind)).Errorf("unknown mail kind")
	}
	var buf bytes.Buffer
	data := struct{ Value, LinkBase string }{Value: value, LinkBase: linkBase}
	if err := tmpl.body.Execute(&buf, data); err != nil {
		return Message{}, oops.Code("MAIL_RENDER_FAILED").With("kind", string(kind)).Wrap(err)
	}
	return Message{Kind: kind, To: addr.Address, Subject: tmpl.subject, Body: buf.String()}, nil
}
