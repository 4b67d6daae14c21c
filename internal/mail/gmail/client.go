// Package gmail implements the mail.Transport interface against the
// Gmail REST API.
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/xseries/mailclerk/internal/googleauth"
	"github.com/xseries/mailclerk/internal/mail"
	"github.com/xseries/mailclerk/internal/types"
)

// Client talks to the Gmail API for a single mailbox ("me").
type Client struct {
	baseURL    string
	tokens     googleauth.TokenSource
	httpClient *http.Client

	// MaxResults bounds how many unread message ids one fetch lists.
	MaxResults int
}

// New creates a Gmail client.
func New(baseURL string, tokens googleauth.TokenSource) *Client {
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		MaxResults: 20,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("getting token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gmail API error (status %d): %s", resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
	}
	return nil
}

// Profile returns the mailbox address.
func (c *Client) Profile(ctx context.Context) (string, error) {
	var out struct {
		EmailAddress string `json:"emailAddress"`
	}
	if err := c.do(ctx, http.MethodGet, "/users/me/profile", nil, &out); err != nil {
		return "", err
	}
	return out.EmailAddress, nil
}

type messageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

type messagePart struct {
	PartID   string `json:"partId"`
	MimeType string `json:"mimeType"`
	Filename string `json:"filename"`
	Headers  []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"headers"`
	Body struct {
		AttachmentID string `json:"attachmentId"`
		Size         int    `json:"size"`
		Data         string `json:"data"`
	} `json:"body"`
	Parts []messagePart `json:"parts"`
}

type fullMessage struct {
	ID           string      `json:"id"`
	ThreadID     string      `json:"threadId"`
	InternalDate string      `json:"internalDate"`
	Payload      messagePart `json:"payload"`
}

// FetchUnreadSince lists unread messages received after the watermark
// and hydrates each one, oldest first.
func (c *Client) FetchUnreadSince(ctx context.Context, since time.Time) ([]*mail.InboundEmail, error) {
	q := "is:unread"
	if !since.IsZero() {
		q = fmt.Sprintf("is:unread after:%d", since.Unix())
	}
	path := fmt.Sprintf("/users/me/messages?q=%s&maxResults=%d", url.QueryEscape(q), c.MaxResults)

	var list struct {
		Messages []messageRef `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, fmt.Errorf("listing unread messages: %w", err)
	}

	var emails []*mail.InboundEmail
	for _, ref := range list.Messages {
		email, err := c.fetchMessage(ctx, ref.ID)
		if err != nil {
			return nil, fmt.Errorf("fetching message %s: %w", ref.ID, err)
		}
		emails = append(emails, email)
	}

	sort.Slice(emails, func(i, j int) bool {
		return emails[i].Received.Before(emails[j].Received)
	})
	return emails, nil
}

func (c *Client) fetchMessage(ctx context.Context, id string) (*mail.InboundEmail, error) {
	var msg fullMessage
	path := fmt.Sprintf("/users/me/messages/%s?format=full", id)
	if err := c.do(ctx, http.MethodGet, path, nil, &msg); err != nil {
		return nil, err
	}

	email := &mail.InboundEmail{
		MessageID: types.MessageID(msg.ID),
		ThreadID:  types.ThreadID(msg.ThreadID),
	}
	if ms, err := strconv.ParseInt(msg.InternalDate, 10, 64); err == nil {
		email.Received = time.UnixMilli(ms)
	}

	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			email.From = h.Value
		case "subject":
			email.Subject = h.Value
		case "message-id":
			email.RFCMessageID = h.Value
		case "references":
			email.References = h.Value
		}
	}

	plain, html := extractBodies(&msg.Payload)
	switch {
	case plain != "":
		email.Body = plain
	case html != "":
		md, err := htmltomarkdown.ConvertString(html)
		if err != nil {
			// Fall back to the raw HTML; the normalizer strips tags
			// downstream.
			md = html
		}
		email.Body = md
	}

	for _, part := range imageParts(&msg.Payload) {
		data, err := c.fetchAttachment(ctx, id, part.Body.AttachmentID)
		if err != nil {
			return nil, fmt.Errorf("fetching attachment %s: %w", part.Filename, err)
		}
		email.Attachments = append(email.Attachments, mail.Attachment{
			Filename: part.Filename,
			MIMEType: part.MimeType,
			Data:     data,
		})
	}

	return email, nil
}

// extractBodies walks the MIME tree collecting the first text/plain
// and text/html bodies.
func extractBodies(p *messagePart) (plain, html string) {
	if p.Filename == "" && p.Body.Data != "" {
		text, err := decodeB64(p.Body.Data)
		if err == nil {
			switch {
			case strings.HasPrefix(p.MimeType, "text/plain") && plain == "":
				plain = string(text)
			case strings.HasPrefix(p.MimeType, "text/html") && html == "":
				html = string(text)
			}
		}
	}
	for i := range p.Parts {
		cp, ch := extractBodies(&p.Parts[i])
		if plain == "" {
			plain = cp
		}
		if html == "" {
			html = ch
		}
	}
	return plain, html
}

// imageParts collects attached images anywhere in the MIME tree.
func imageParts(p *messagePart) []*messagePart {
	var out []*messagePart
	if p.Filename != "" && strings.HasPrefix(p.MimeType, "image/") && p.Body.AttachmentID != "" {
		out = append(out, p)
	}
	for i := range p.Parts {
		out = append(out, imageParts(&p.Parts[i])...)
	}
	return out
}

func (c *Client) fetchAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	var out struct {
		Data string `json:"data"`
	}
	path := fmt.Sprintf("/users/me/messages/%s/attachments/%s", messageID, attachmentID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return decodeB64(out.Data)
}

// decodeB64 decodes Gmail's URL-safe base64, padded or not.
func decodeB64(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// Send builds an RFC 2822 message, base64url-encodes it, and posts it
// on the given thread.
func (c *Client) Send(ctx context.Context, out *mail.OutboundEmail) (types.MessageID, error) {
	raw := buildMIME(out)

	body := map[string]any{
		"raw": base64.RawURLEncoding.EncodeToString(raw),
	}
	if out.ThreadID != "" {
		body["threadId"] = string(out.ThreadID)
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/users/me/messages/send", body, &resp); err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}
	return types.MessageID(resp.ID), nil
}

// buildMIME renders the outbound message, multipart when attachments
// are present.
func buildMIME(out *mail.OutboundEmail) []byte {
	var buf bytes.Buffer

	writeHeader := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
		}
	}
	writeHeader("To", out.To)
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", out.Subject))
	writeHeader("In-Reply-To", out.InReplyTo)
	writeHeader("References", out.References)
	writeHeader("MIME-Version", "1.0")

	if len(out.Attachments) == 0 {
		writeHeader("Content-Type", `text/plain; charset="utf-8"`)
		buf.WriteString("\r\n")
		buf.WriteString(out.Body)
		return buf.Bytes()
	}

	const boundary = "mailclerk-boundary"
	writeHeader("Content-Type", fmt.Sprintf(`multipart/mixed; boundary="%s"`, boundary))
	buf.WriteString("\r\n")

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	fmt.Fprintf(&buf, "Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	buf.WriteString(out.Body)
	buf.WriteString("\r\n")

	for _, att := range out.Attachments {
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Type: %s\r\n", att.MIMEType)
		fmt.Fprintf(&buf, "Content-Disposition: attachment; filename=\"%s\"\r\n", att.Filename)
		fmt.Fprintf(&buf, "Content-Transfer-Encoding: base64\r\n\r\n")
		buf.WriteString(base64.StdEncoding.EncodeToString(att.Data))
		buf.WriteString("\r\n")
	}
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes()
}

// MarkRead removes the UNREAD label from a message.
func (c *Client) MarkRead(ctx context.Context, id types.MessageID) error {
	body := map[string]any{
		"removeLabelIds": []string{"UNREAD"},
	}
	path := fmt.Sprintf("/users/me/messages/%s/modify", id)
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("marking %s read: %w", id, err)
	}
	return nil
}
