package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const premiumPromoCode = "VIKR0000"

// PremiumActivate grants a user twelve months of premium access
// through the entitlement service. Service failures come back as
// descriptive result strings.
type PremiumActivate struct {
	apiURL string
	apiKey string
	client *http.Client
	now    func() time.Time
}

// NewPremiumActivate creates the premium activation tool.
func NewPremiumActivate(apiURL, apiKey string) *PremiumActivate {
	return &PremiumActivate{
		apiURL: apiURL,
		apiKey: apiKey,
		client: &http.Client{Timeout: 30 * time.Second},
		now:    time.Now,
	}
}

func (p *PremiumActivate) Name() string { return "premium_activate" }
func (p *PremiumActivate) Description() string {
	return "Activate premium access for a user account using their email address and app name"
}
func (p *PremiumActivate) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"email": {"type": "string", "description": "The user's email address"},
			"app_name": {"type": "string", "description": "The app to activate premium on"}
		},
		"required": ["email", "app_name"]
	}`)
}

type premiumRequest struct {
	CodeType   string `json:"code_type"`
	Email      string `json:"email"`
	ExpiryTime int64  `json:"expiry_time"`
	PromoCode  string `json:"promo_code"`
}

func (p *PremiumActivate) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Email   string `json:"email"`
		AppName string `json:"app_name"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if params.Email == "" {
		return "", fmt.Errorf("email is required")
	}

	payload := premiumRequest{
		CodeType:   "ONETIME",
		Email:      params.Email,
		ExpiryTime: p.now().Add(365 * 24 * time.Hour).UnixMilli(),
		PromoCode:  premiumPromoCode,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Sprintf("Premium activation failed: error connecting to the activation service: %v. Please try again later.", err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := "Unknown error"
		var apiResp struct {
			Message string `json:"message"`
		}
		if data, err := io.ReadAll(resp.Body); err == nil {
			if json.Unmarshal(data, &apiResp) == nil && apiResp.Message != "" {
				msg = apiResp.Message
			}
		}
		return fmt.Sprintf("Premium activation failed: %s. Please try again later.", msg), nil
	}

	return fmt.Sprintf("Premium access has been successfully activated for %s on %s. The premium features will be available immediately, and the subscription is valid for 12 months.", params.Email, params.AppName), nil
}
