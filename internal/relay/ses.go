package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES submits mail through the AWS SES v2 API.
type SES struct {
	client SendEmailAPI
}

// NewSES creates an SES relay over the given client.
func NewSES(client SendEmailAPI) *SES {
	return &SES{client: client}
}

// Send delivers the message via SES v2. Messages with attachments or inline
// parts are submitted as raw MIME; simple messages use the structured form.
// SES has no HTTP status to report, so success maps to 200 and failure to 0
// with the error carrying the detail. No retries are performed here.
func (s *SES) Send(ctx context.Context, msg *OutboundEmail) (int, error) {
	var input *sesv2.SendEmailInput

	if len(msg.Attachments) > 0 {
		raw, err := buildRawMessage(msg)
		if err != nil {
			return 0, fmt.Errorf("failed to build raw message: %w", err)
		}
		input = &sesv2.SendEmailInput{
			FromEmailAddress: aws.String(msg.From),
			Destination:      &types.Destination{ToAddresses: msg.To},
			Content: &types.EmailContent{
				Raw: &types.RawMessage{
					Data: raw,
				},
			},
		}
	} else {
		input = buildSimpleInput(msg)
	}

	if _, err := s.client.SendEmail(ctx, input); err != nil {
		return 0, fmt.Errorf("SES send failed: %w", err)
	}
	return http.StatusOK, nil
}

// Name returns the backend name.
func (s *SES) Name() string {
	return "ses"
}

// buildSimpleInput creates a SES SendEmailInput for messages without attachments.
func buildSimpleInput(msg *OutboundEmail) *sesv2.SendEmailInput {
	body := &types.Body{}

	if msg.HtmlBody != "" {
		body.Html = &types.Content{
			Data:    aws.String(msg.HtmlBody),
			Charset: aws.String("UTF-8"),
		}
	}
	if msg.TextBody != "" {
		body.Text = &types.Content{
			Data:    aws.String(msg.TextBody),
			Charset: aws.String("UTF-8"),
		}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination:      &types.Destination{ToAddresses: msg.To},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: body,
			},
		},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	return input
}

// buildRawMessage constructs a raw MIME message for messages with
// attachments or inline parts.
func buildRawMessage(msg *OutboundEmail) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", msg.From)
	if len(msg.To) > 0 {
		fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(msg.To, ", "))
	}
	if msg.ReplyTo != "" {
		fmt.Fprintf(&buf, "Reply-To: %s\r\n", msg.ReplyTo)
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", msg.Subject))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")

	writer := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", writer.Boundary())

	// Body part. Both bodies together become a nested multipart/alternative
	// so receivers keep the plain-text fallback.
	switch {
	case msg.TextBody != "" && msg.HtmlBody != "":
		var alt bytes.Buffer
		altWriter := multipart.NewWriter(&alt)
		if err := writeBodyPart(altWriter, "text/plain", msg.TextBody); err != nil {
			return nil, err
		}
		if err := writeBodyPart(altWriter, "text/html", msg.HtmlBody); err != nil {
			return nil, err
		}
		altWriter.Close()

		altHeader := make(textproto.MIMEHeader)
		altHeader.Set("Content-Type",
			fmt.Sprintf("multipart/alternative; boundary=%q", altWriter.Boundary()))
		part, err := writer.CreatePart(altHeader)
		if err != nil {
			return nil, fmt.Errorf("failed to create body part: %w", err)
		}
		part.Write(alt.Bytes())
	case msg.HtmlBody != "":
		if err := writeBodyPart(writer, "text/html", msg.HtmlBody); err != nil {
			return nil, err
		}
	case msg.TextBody != "":
		if err := writeBodyPart(writer, "text/plain", msg.TextBody); err != nil {
			return nil, err
		}
	}

	// Attachments and inline parts
	for _, att := range msg.Attachments {
		attHeader := make(textproto.MIMEHeader)
		attHeader.Set("Content-Type", att.ContentType)
		attHeader.Set("Content-Transfer-Encoding", "base64")
		if att.Inline && att.ContentID != "" {
			attHeader.Set("Content-Disposition", "inline")
			attHeader.Set("Content-Id", "<"+att.ContentID+">")
		} else {
			attHeader.Set("Content-Disposition",
				fmt.Sprintf("attachment; filename=%s", mime.QEncoding.Encode("UTF-8", att.Filename)))
		}

		part, err := writer.CreatePart(attHeader)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}

		encoded := encodeBase64WithLineBreaks(att.Content)
		part.Write([]byte(encoded))
	}

	writer.Close()
	return buf.Bytes(), nil
}

// writeBodyPart adds a single text part with the given content type.
func writeBodyPart(w *multipart.Writer, contentType, body string) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Type", contentType+"; charset=UTF-8")
	part, err := w.CreatePart(header)
	if err != nil {
		return fmt.Errorf("failed to create body part: %w", err)
	}
	_, err = part.Write([]byte(body))
	return err
}

// encodeBase64WithLineBreaks encodes bytes to base64 with 76-character line breaks per RFC 2045.
func encodeBase64WithLineBreaks(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var lines []string
	for i := 0; i < len(encoded); i += 76 {
		end := i + 76
		if end > len(encoded) {
			end = len(encoded)
		}
		lines = append(lines, encoded[i:end])
	}
	return strings.Join(lines, "\r\n")
}
