package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xseries/mailclerk/internal/agent"
	"github.com/xseries/mailclerk/internal/sheets"
)

// LogIssue records a support issue in the tracking workbook. The
// category picks the destination sheet; everything also lands in
// All-Logs.
type LogIssue struct {
	logger *sheets.Logger
}

// NewLogIssue creates the issue logging tool.
func NewLogIssue(logger *sheets.Logger) *LogIssue {
	return &LogIssue{logger: logger}
}

func (l *LogIssue) Name() string { return "log_issue" }
func (l *LogIssue) Description() string {
	return "Log user details for tracking. Must be called before generating certificates or activating premium. Pick the category that best matches the user's problem"
}
func (l *LogIssue) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"category": {
				"type": "string",
				"enum": ["Technical Issue", "Certificate Issue", "Subscription Issue", "Premium Access", "Refund Request", "Account Deletion", "Payment Issue", "Order Inquiry"],
				"description": "The kind of issue being reported"
			},
			"app_name": {"type": "string", "description": "The app the user is writing about"},
			"initial_message": {"type": "string", "description": "A short summary of the user's first message"},
			"email": {"type": "string", "description": "The user's email address"},
			"new_name": {"type": "string", "description": "Corrected name for the certificate (Certificate Issue)"},
			"course": {"type": "string", "description": "Course name (Certificate Issue)"},
			"order_id": {"type": "string", "description": "Order ID (subscription, refund, and order issues)"},
			"device": {"type": "string", "description": "Device model (Technical Issue)"},
			"os_version": {"type": "string", "description": "Operating system version (Technical Issue)"},
			"app_version": {"type": "string", "description": "App version (Technical Issue)"},
			"country": {"type": "string", "description": "The user's country (Payment Issue)"},
			"status": {"type": "string", "description": "Override the default tracking status"}
		},
		"required": ["category", "app_name", "initial_message"]
	}`)
}

func (l *LogIssue) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Category       string `json:"category"`
		AppName        string `json:"app_name"`
		InitialMessage string `json:"initial_message"`
		Email          string `json:"email"`
		NewName        string `json:"new_name"`
		Course         string `json:"course"`
		OrderID        string `json:"order_id"`
		Device         string `json:"device"`
		OSVersion      string `json:"os_version"`
		AppVersion     string `json:"app_version"`
		Country        string `json:"country"`
		Status         string `json:"status"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if params.Category == "" {
		return "", fmt.Errorf("category is required")
	}

	email := params.Email
	if email == "" {
		email = "Not provided"
	}
	notProvided := func(s string) string {
		if s == "" {
			return "Not provided"
		}
		return s
	}

	var issue sheets.Issue
	switch params.Category {
	case "Certificate Issue":
		issue = sheets.CertificateIssue{
			AppName:        params.AppName,
			Email:          email,
			Course:         notProvided(params.Course),
			NewName:        notProvided(params.NewName),
			Status:         params.Status,
			InitialMessage: params.InitialMessage,
		}
	case "Premium Access", "Subscription Issue":
		issue = sheets.SubscriptionIssue{
			AppName:        params.AppName,
			Email:          email,
			OrderID:        notProvided(params.OrderID),
			Status:         params.Status,
			InitialMessage: params.InitialMessage,
		}
	case "Refund Request", "Refund":
		issue = sheets.RefundRequest{
			AppName:        params.AppName,
			Email:          email,
			OrderID:        notProvided(params.OrderID),
			Status:         params.Status,
			InitialMessage: params.InitialMessage,
		}
	case "Technical Issue":
		issue = sheets.TechnicalIssue{
			AppName:        params.AppName,
			Email:          email,
			Description:    params.InitialMessage,
			Device:         params.Device,
			OSVersion:      params.OSVersion,
			AppVersion:     params.AppVersion,
			Status:         params.Status,
			ThreadID:       string(agent.ThreadIDFromContext(ctx)),
			InitialMessage: params.InitialMessage,
		}
	case "Payment Issue":
		issue = sheets.PaymentIssue{
			AppName:        params.AppName,
			Email:          email,
			Country:        params.Country,
			Status:         params.Status,
			InitialMessage: params.InitialMessage,
		}
	case "Account Deletion":
		issue = sheets.AccountDeletion{
			AppName:        params.AppName,
			Email:          email,
			Status:         params.Status,
			InitialMessage: params.InitialMessage,
		}
	default:
		// Categories with no dedicated sheet (order inquiries and
		// anything the model invents) land in All-Logs only.
		issue = sheets.GeneralEntry{
			Type:           params.Category,
			AppName:        params.AppName,
			Email:          email,
			Status:         params.Status,
			InitialMessage: params.InitialMessage,
		}
	}

	if err := l.logger.Log(ctx, issue); err != nil {
		return fmt.Sprintf("Logging failed: %v. Continue helping the user; the support team will be notified separately.", err), nil
	}

	return fmt.Sprintf("User details for %s have been logged successfully.", params.Category), nil
}
