package dispatch

import (
	"net/mail"

	"github.com/mailfold/mailfold/internal/email"
	"github.com/mailfold/mailfold/internal/relay"
	"github.com/mailfold/mailfold/internal/settings"
)

// buildForward assembles the outbound copy of a message for one forwarding
// destination: original subject, bodies, attachments and inline parts, with
// Reply-To pointing at the original sender and the original raw message
// attached as message/rfc822.
func buildForward(msg *email.Email, env *email.Envelope, s *settings.ServerSettings, destination string) *relay.OutboundEmail {
	out := &relay.OutboundEmail{
		From:     s.ForwardFrom(),
		To:       []string{destination},
		Subject:  msg.Subject,
		TextBody: msg.TextBody,
		HtmlBody: msg.HtmlBody,
		ReplyTo:  replyToAddress(msg, env),
	}

	out.Attachments = append(out.Attachments, msg.Attachments...)

	if len(msg.Raw) > 0 {
		out.Attachments = append(out.Attachments, email.Attachment{
			Filename:    "original.eml",
			ContentType: "message/rfc822",
			Content:     msg.Raw,
		})
	}

	return out
}

// replyToAddress picks the original sender for the Reply-To header:
// the parsed From header when it is usable, otherwise the envelope sender.
func replyToAddress(msg *email.Email, env *email.Envelope) string {
	if msg.From != "" {
		if addr, err := mail.ParseAddress(msg.From); err == nil {
			return addr.Address
		}
	}
	return env.MailFrom
}
