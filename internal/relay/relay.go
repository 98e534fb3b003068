// Package relay defines the outbound delivery backends used for forwarded
// mail.
package relay

import (
	"context"

	"github.com/mailfold/mailfold/internal/email"
)

// OutboundEmail is a message built for relay submission. Attachments may
// include inline parts (Inline=true with a ContentID) and the original
// message attached as message/rfc822.
type OutboundEmail struct {
	From        string
	To          []string
	Subject     string
	TextBody    string
	HtmlBody    string
	ReplyTo     string
	Attachments []email.Attachment
}

// Relay is the interface outbound delivery backends implement.
//
// Send returns the transport status code alongside any error; any non-2xx
// status is a delivery failure for that submission. Backends perform no
// retries of their own.
type Relay interface {
	Send(ctx context.Context, msg *OutboundEmail) (status int, err error)

	// Name returns the human-readable name of this backend.
	Name() string
}
