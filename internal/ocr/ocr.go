// Package ocr extracts text from image attachments via an external
// OCR service. When no service is configured the dispatcher simply
// skips extraction.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xseries/mailclerk/internal/types"
)

// Result is one extracted attachment: the recognized text plus a
// reference to the stored copy of the image, when the service keeps one.
type Result struct {
	Text string
	Ref  *types.AttachmentRef
}

// Extractor turns image bytes into text.
type Extractor interface {
	Extract(ctx context.Context, filename, mimeType string, data []byte) (*Result, error)
}

// HTTPExtractor posts images to an OCR endpoint.
type HTTPExtractor struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPExtractor creates an extractor for the given endpoint.
func NewHTTPExtractor(url, apiKey string) *HTTPExtractor {
	return &HTTPExtractor{
		url:    url,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type extractRequest struct {
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"` // base64
}

type extractResponse struct {
	Text   string `json:"text"`
	FileID string `json:"file_id"`
	URL    string `json:"url"`
}

// Extract posts the image and returns the recognized text. The service
// may also store the image and return a shareable link.
func (e *HTTPExtractor) Extract(ctx context.Context, filename, mimeType string, data []byte) (*Result, error) {
	reqBody, err := json.Marshal(extractRequest{
		Filename: filename,
		MIMEType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ocr service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var er extractResponse
	if err := json.Unmarshal(respBody, &er); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	result := &Result{Text: er.Text}
	if er.URL != "" {
		result.Ref = &types.AttachmentRef{ID: er.FileID, URL: er.URL}
	}
	return result, nil
}
