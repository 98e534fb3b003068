// Package email defines the core email data model used throughout the gateway.
package email

import "time"

// Email represents a parsed email message with all its components.
// It is treated as immutable once produced by the parser; delivery code
// that needs to amend headers works on a copy of Raw.
type Email struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	TextBody    string
	HtmlBody    string
	Attachments []Attachment
	RawHeaders  map[string][]string
	MessageID   string

	// Raw is the message exactly as received on the wire.
	Raw []byte
}

// Attachment represents a file attached to an email message.
// Inline parts (referenced from the HTML body via Content-ID) carry
// Inline=true and a non-empty ContentID.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
	ContentID   string
	Inline      bool
}

// InlineParts returns the attachments that are inline-referenced parts.
func (e *Email) InlineParts() []Attachment {
	var parts []Attachment
	for _, att := range e.Attachments {
		if att.Inline {
			parts = append(parts, att)
		}
	}
	return parts
}

// RegularAttachments returns the attachments that are not inline parts.
func (e *Email) RegularAttachments() []Attachment {
	var parts []Attachment
	for _, att := range e.Attachments {
		if !att.Inline {
			parts = append(parts, att)
		}
	}
	return parts
}

// Envelope carries the SMTP envelope metadata that accompanies a message,
// distinct from the message headers themselves. Recipients keep the order
// in which they were presented during the transaction.
type Envelope struct {
	MailFrom   string
	Recipients []string
	RemoteAddr string
	SessionID  string
	ReceivedAt time.Time
}
