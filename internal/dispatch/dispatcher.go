// Package dispatch executes delivery verdicts against the archive and
// relay collaborators, one recipient at a time.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mailfold/mailfold/internal/archive"
	"github.com/mailfold/mailfold/internal/audit"
	"github.com/mailfold/mailfold/internal/email"
	"github.com/mailfold/mailfold/internal/metrics"
	"github.com/mailfold/mailfold/internal/relay"
	"github.com/mailfold/mailfold/internal/routing"
	"github.com/mailfold/mailfold/internal/settings"
)

// Outcome is the result of processing one recipient.
type Outcome struct {
	Recipient string
	Verdict   routing.Verdict
	Err       error
}

// Rejected reports whether the recipient was refused by policy.
func (o Outcome) Rejected() bool {
	return o.Verdict.Action == routing.ActionReject
}

// Dispatcher resolves a verdict per recipient and executes it. It holds no
// mutable state of its own and is safe for concurrent use from any number
// of sessions.
type Dispatcher struct {
	archive archive.Archive
	relay   relay.Relay
	sink    audit.Sink

	now   func() time.Time
	newID func() string
}

// New creates a Dispatcher over the given collaborators.
func New(arc archive.Archive, rel relay.Relay, sink audit.Sink) *Dispatcher {
	return &Dispatcher{
		archive: arc,
		relay:   rel,
		sink:    sink,
		now:     time.Now,
		newID:   hexID,
	}
}

// Dispatch processes every envelope recipient in order and returns one
// outcome per recipient. Outcomes are independent: a failure for one
// recipient never prevents processing of the rest, and the message as a
// whole is never retried on partial failure.
func (d *Dispatcher) Dispatch(ctx context.Context, env *email.Envelope, msg *email.Email, s *settings.ServerSettings) []Outcome {
	transactionID := d.newID()
	outcomes := make([]Outcome, 0, len(env.Recipients))

	for _, recipient := range env.Recipients {
		verdict := routing.Resolve(recipient, s)
		err := d.execute(ctx, verdict, recipient, env, msg, s, transactionID)

		action := verdict.Action.String()
		if err != nil {
			metrics.DeliveryFailures.WithLabelValues(action).Inc()
			slog.Error("delivery failed",
				"recipient", recipient,
				"action", action,
				"transaction_id", transactionID,
				"error", err,
			)
		} else {
			metrics.Deliveries.WithLabelValues(action).Inc()
		}

		outcomes = append(outcomes, Outcome{
			Recipient: recipient,
			Verdict:   verdict,
			Err:       err,
		})
	}

	return outcomes
}

// execute runs the side effects of one verdict. A panic in recipient
// processing is converted to an error so siblings keep processing.
func (d *Dispatcher) execute(ctx context.Context, verdict routing.Verdict, recipient string, env *email.Envelope, msg *email.Email, s *settings.ServerSettings, transactionID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recipient processing panicked: %v", r)
		}
	}()

	switch verdict.Action {
	case routing.ActionStore:
		return d.storeLocal(ctx, verdict, recipient, env, msg, s, transactionID)
	case routing.ActionForward:
		return d.forward(ctx, verdict, recipient, env, msg, s)
	case routing.ActionDrop:
		d.sink.Record(audit.LevelInfo,
			fmt.Sprintf("Dropped message for %s per catch-all policy", recipient),
			nil, "dispatch")
		return nil
	case routing.ActionReject:
		// Surfaced to the protocol layer by the caller; nothing is
		// persisted or forwarded.
		d.sink.Record(audit.LevelInfo,
			fmt.Sprintf("Rejected message for %s", recipient),
			nil, "dispatch")
		return nil
	default:
		return fmt.Errorf("unknown verdict action %d", verdict.Action)
	}
}

// storeLocal archives the raw message for the recipient, with provenance
// headers appended to the stored copy and sanitized object metadata.
func (d *Dispatcher) storeLocal(ctx context.Context, verdict routing.Verdict, recipient string, env *email.Envelope, msg *email.Email, s *settings.ServerSettings, transactionID string) error {
	if s.DoNotSaveMessages {
		d.sink.Record(audit.LevelInfo,
			fmt.Sprintf("Archival suppressed for %s (DoNotSaveMessages is set)", recipient),
			nil, "dispatch")
		return nil
	}

	path := fmt.Sprintf("%s/%s/%s_%s.eml",
		verdict.Domain,
		verdict.User,
		d.now().UTC().Format("20060102150405"),
		d.newID(),
	)

	subject := msg.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	metadata := map[string]string{
		"subject":        sanitizeMetadata(subject),
		"from":           sanitizeMetadata(msg.From),
		"recipient":      sanitizeMetadata(recipient),
		"session-id":     sanitizeMetadata(env.SessionID),
		"transaction-id": transactionID,
	}

	content := withProvenanceHeaders(msg.Raw, env, transactionID)

	if err := d.archive.Put(ctx, path, content, metadata); err != nil {
		d.sink.Record(audit.LevelError, "Failed to archive message for "+recipient, err, "dispatch")
		return fmt.Errorf("archiving message: %w", err)
	}

	slog.Info("message archived",
		"recipient", recipient,
		"path", path,
	)
	return nil
}

// forward builds the outbound copy and submits it through the relay.
// A non-2xx transport status fails this recipient; there is no retry.
func (d *Dispatcher) forward(ctx context.Context, verdict routing.Verdict, recipient string, env *email.Envelope, msg *email.Email, s *settings.ServerSettings) error {
	out := buildForward(msg, env, s, verdict.Destination)

	status, err := d.relay.Send(ctx, out)
	if err != nil {
		d.sink.Record(audit.LevelError,
			fmt.Sprintf("Relay failed for %s -> %s", recipient, verdict.Destination),
			err, "dispatch")
		return fmt.Errorf("relaying message: %w", err)
	}
	if status < 200 || status > 299 {
		err := fmt.Errorf("relay returned status %d", status)
		d.sink.Record(audit.LevelError,
			fmt.Sprintf("Relay failed for %s -> %s", recipient, verdict.Destination),
			err, "dispatch")
		return err
	}

	slog.Info("message forwarded",
		"recipient", recipient,
		"destination", verdict.Destination,
		"relay", d.relay.Name(),
	)
	return nil
}

// withProvenanceHeaders prepends receipt metadata headers to a copy of the
// raw message. The original bytes are never modified.
func withProvenanceHeaders(raw []byte, env *email.Envelope, transactionID string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "X-SMTP-Server-Received: %s\r\n", env.ReceivedAt.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "X-SMTP-Server-SessionId: %s\r\n", env.SessionID)
	fmt.Fprintf(&b, "X-SMTP-Server-TransactionId: %s\r\n", transactionID)
	if env.RemoteAddr != "" {
		fmt.Fprintf(&b, "X-SMTP-Server-IP: %s\r\n", env.RemoteAddr)
	}

	out := make([]byte, 0, b.Len()+len(raw))
	out = append(out, b.String()...)
	out = append(out, raw...)
	return out
}

// sanitizeMetadata reduces a value to the printable-ASCII subset so it
// cannot break header or object-metadata encoding.
func sanitizeMetadata(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if r >= 0x20 && r <= 0x7e {
			b.WriteRune(r)
		} else {
			b.WriteByte('?')
		}
	}
	return b.String()
}

// hexID returns a 128-bit random id as 32 hex characters.
func hexID() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:])
}
