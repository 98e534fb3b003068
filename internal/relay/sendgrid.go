package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// sendGridURL is the SendGrid v3 mail send endpoint.
const sendGridURL = "https://api.sendgrid.com/v3/mail/send"

// sendGridTimeout bounds one submission.
const sendGridTimeout = 30 * time.Second

// SendGrid submits mail through the SendGrid v3 REST API.
//
// The API key is resolved per call so a rotated key in the settings store
// takes effect without a listener recycle.
type SendGrid struct {
	httpClient *http.Client
	endpoint   string
	apiKey     func() string
}

// NewSendGrid creates a SendGrid relay. apiKey is called on every
// submission to obtain the current key.
func NewSendGrid(httpClient *http.Client, apiKey func() string) *SendGrid {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: sendGridTimeout}
	}
	return &SendGrid{
		httpClient: httpClient,
		endpoint:   sendGridURL,
		apiKey:     apiKey,
	}
}

// NewSendGridWithEndpoint creates a SendGrid relay against a custom
// endpoint, used for testing.
func NewSendGridWithEndpoint(httpClient *http.Client, endpoint string, apiKey func() string) *SendGrid {
	r := NewSendGrid(httpClient, apiKey)
	r.endpoint = endpoint
	return r
}

// sendGridPayload is the v3 mail/send request body.
type sendGridPayload struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	ReplyTo          *sendGridAddress          `json:"reply_to,omitempty"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
	Attachments      []sendGridAttachment      `json:"attachments,omitempty"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridAttachment struct {
	Content     string `json:"content"`
	Type        string `json:"type,omitempty"`
	Filename    string `json:"filename"`
	Disposition string `json:"disposition,omitempty"`
	ContentID   string `json:"content_id,omitempty"`
}

// Send submits the message. The returned status is the HTTP status code of
// the API response; on a non-2xx status the response body is included in
// the error for the caller to log.
func (r *SendGrid) Send(ctx context.Context, msg *OutboundEmail) (int, error) {
	key := r.apiKey()
	if key == "" {
		return 0, fmt.Errorf("no SendGrid API key configured")
	}

	payload := buildSendGridPayload(msg)
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, fmt.Errorf("sendgrid returned %d: %s", resp.StatusCode, string(detail))
	}

	return resp.StatusCode, nil
}

// Name returns the backend name.
func (r *SendGrid) Name() string {
	return "sendgrid"
}

// buildSendGridPayload converts an outbound message into the v3 request shape.
func buildSendGridPayload(msg *OutboundEmail) *sendGridPayload {
	payload := &sendGridPayload{
		From:    sendGridAddress{Email: msg.From, Name: "Forwarder"},
		Subject: msg.Subject,
	}

	to := make([]sendGridAddress, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, sendGridAddress{Email: addr})
	}
	payload.Personalizations = []sendGridPersonalization{{To: to}}

	if msg.ReplyTo != "" {
		payload.ReplyTo = &sendGridAddress{Email: msg.ReplyTo}
	}

	// SendGrid requires text/plain before text/html, and at least one part.
	text := msg.TextBody
	if text == "" && msg.HtmlBody == "" {
		text = "(no content)"
	}
	if text != "" {
		payload.Content = append(payload.Content, sendGridContent{Type: "text/plain", Value: text})
	}
	if msg.HtmlBody != "" {
		payload.Content = append(payload.Content, sendGridContent{Type: "text/html", Value: msg.HtmlBody})
	}

	for _, att := range msg.Attachments {
		a := sendGridAttachment{
			Content:  base64.StdEncoding.EncodeToString(att.Content),
			Type:     att.ContentType,
			Filename: att.Filename,
		}
		if att.Inline && att.ContentID != "" {
			a.Disposition = "inline"
			a.ContentID = att.ContentID
		} else {
			a.Disposition = "attachment"
		}
		payload.Attachments = append(payload.Attachments, a)
	}

	return payload
}
