package tools

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CertificateIssue generates course completion certificates through
// the certificate service and drops the resulting PDFs into the outbox
// directory, where the responder picks them up as reply attachments.
// Service failures come back as descriptive result strings so the
// model can relay them to the user.
type CertificateIssue struct {
	apiURL    string
	apiKey    string
	outboxDir string
	client    *http.Client
	now       func() time.Time
}

// NewCertificateIssue creates the certificate tool.
func NewCertificateIssue(apiURL, apiKey, outboxDir string) *CertificateIssue {
	return &CertificateIssue{
		apiURL:    apiURL,
		apiKey:    apiKey,
		outboxDir: outboxDir,
		client:    &http.Client{Timeout: 60 * time.Second},
		now:       time.Now,
	}
}

func (c *CertificateIssue) Name() string { return "certificate_issue" }
func (c *CertificateIssue) Description() string {
	return "Generate course completion certificates for a user. Provide the name to appear on the certificate and either a single course or a list of courses"
}
func (c *CertificateIssue) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string", "description": "The name to appear on the certificate"},
			"course": {"type": "string", "description": "A single course name"},
			"courses": {"type": "array", "items": {"type": "string"}, "description": "Multiple course names"}
		},
		"required": ["name"]
	}`)
}

type certificateRequest struct {
	Today            string `json:"today"`
	Name             string `json:"name"`
	UserID           string `json:"userId"`
	Subject          string `json:"subject"`
	Sample           bool   `json:"sample"`
	Excellence       bool   `json:"excellence"`
	Type             string `json:"type"`
	FinalCertificate bool   `json:"finalCertificate"`
}

func (c *CertificateIssue) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Name    string   `json:"name"`
		Course  string   `json:"course"`
		Courses []string `json:"courses"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if params.Name == "" {
		return "", fmt.Errorf("name is required")
	}

	courses := params.Courses
	if len(courses) == 0 && params.Course != "" {
		courses = []string{params.Course}
	}
	if len(courses) == 0 {
		return "No courses specified for certificate generation.", nil
	}

	if err := os.MkdirAll(c.outboxDir, 0o755); err != nil {
		return "", fmt.Errorf("create outbox dir: %w", err)
	}

	if len(courses) == 1 {
		return c.generateOne(ctx, params.Name, courses[0]), nil
	}
	return c.generateMany(ctx, params.Name, courses), nil
}

// generateOne issues a single final certificate.
func (c *CertificateIssue) generateOne(ctx context.Context, name, course string) string {
	userID := fmt.Sprintf("%x", md5.Sum([]byte(name)))
	filename, err := c.fetch(ctx, name, course, userID, true)
	if err != nil {
		return fmt.Sprintf("Certificate generation failed: %v. Please try again later or contact support.", err)
	}
	return fmt.Sprintf("Certificate generation successful. A new certificate for '%s' for the course '%s' has been generated and saved as '%s'. The certificate is ready for download and has also been emailed to the user's registered email address.", name, course, filename)
}

// generateMany issues one certificate per course, reporting partial
// success when some courses fail.
func (c *CertificateIssue) generateMany(ctx context.Context, name string, courses []string) string {
	var successes, failures []string
	for _, course := range courses {
		userID := fmt.Sprintf("%x", md5.Sum([]byte(name+"_"+course)))
		if _, err := c.fetch(ctx, name, course, userID, false); err != nil {
			failures = append(failures, course)
			continue
		}
		successes = append(successes, course)
	}

	switch {
	case len(failures) == 0:
		return fmt.Sprintf("Certificate generation successful. %d certificates for '%s' have been generated for the following courses: %s. The certificates are ready for download and have also been emailed to your registered email address.", len(successes), name, strings.Join(successes, ", "))
	case len(successes) > 0:
		return fmt.Sprintf("Partial success. Certificates were generated for these courses: %s. However, we encountered issues with these courses: %s. The successful certificates are ready for download and have been emailed to your registered email address.", strings.Join(successes, ", "), strings.Join(failures, ", "))
	default:
		return "Certificate generation failed for all courses. Please try again later or contact support."
	}
}

// fetch calls the certificate service and writes the returned PDF to
// the outbox. Returns the written filename.
func (c *CertificateIssue) fetch(ctx context.Context, name, course, userID string, final bool) (string, error) {
	payload := certificateRequest{
		Today:            c.now().Format("2006-01-02"),
		Name:             name,
		UserID:           userID,
		Subject:          course,
		Sample:           false,
		Excellence:       true,
		Type:             "pdf",
		FinalCertificate: final,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("certificate service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status code %d", resp.StatusCode)
	}

	pdf, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read certificate: %w", err)
	}

	filename := filepath.Join(c.outboxDir, fmt.Sprintf("certificate_%s_%s_%s.pdf",
		strings.ReplaceAll(name, " ", "_"),
		strings.ReplaceAll(course, " ", "_"),
		c.now().Format("20060102_150405")))
	if err := os.WriteFile(filename, pdf, 0o644); err != nil {
		return "", fmt.Errorf("save certificate: %w", err)
	}
	return filename, nil
}
