package relay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// Stdout prints outbound messages to standard output in a human-readable
// format. It is the dev/debug backend used when nothing else is configured.
type Stdout struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// NewStdout creates a Stdout relay that writes to os.Stdout.
func NewStdout() *Stdout {
	return &Stdout{writer: os.Stdout}
}

// NewStdoutWithWriter creates a Stdout relay writing to the given writer.
// This is useful for testing.
func NewStdoutWithWriter(w io.Writer) *Stdout {
	return &Stdout{writer: w}
}

// Send prints the message and always succeeds.
func (r *Stdout) Send(_ context.Context, msg *OutboundEmail) (int, error) {
	var b strings.Builder

	b.WriteString("========================================\n")
	b.WriteString(fmt.Sprintf("From: %s\n", msg.From))
	b.WriteString(fmt.Sprintf("To: %s\n", strings.Join(msg.To, ", ")))
	if msg.ReplyTo != "" {
		b.WriteString(fmt.Sprintf("Reply-To: %s\n", msg.ReplyTo))
	}
	b.WriteString(fmt.Sprintf("Subject: %s\n", msg.Subject))
	b.WriteString("Body:\n")

	body := msg.TextBody
	if body == "" {
		body = msg.HtmlBody
	}
	b.WriteString(body + "\n")

	if len(msg.Attachments) > 0 {
		attachments := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s)", att.Filename, formatSize(len(att.Content))))
		}
		b.WriteString(fmt.Sprintf("Attachments: %s\n", strings.Join(attachments, ", ")))
	}

	b.WriteString("========================================\n")

	fmt.Fprint(r.writer, b.String())
	return http.StatusOK, nil
}

// Name returns the backend name.
func (r *Stdout) Name() string {
	return "stdout"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
