package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

type Config struct {
	DataDir          string `json:"data_dir"`
	LogLevel         string `json:"log_level"`
	StoreBackend     string `json:"store_backend"`
	MaxToolRounds    int    `json:"max_tool_rounds"`
	ThreadMessageCap int    `json:"thread_message_cap"`
	PollInterval     string `json:"poll_interval"`
	HTTPAddr         string `json:"http_addr"`
	PromptsFile      string `json:"prompts_file"`
	LLM              struct {
		Provider         string  `json:"provider"`
		BaseURL          string  `json:"base_url"`
		APIKey           string  `json:"api_key"`
		Model            string  `json:"model"`
		MaxTokens        int     `json:"max_tokens"`
		Temperature      float32 `json:"temperature"`
		MaxContextTokens int     `json:"max_context_tokens"`
		OutputReserve    int     `json:"output_reserve"`
	} `json:"llm"`
	Google struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
		RefreshToken string `json:"refresh_token"`
		TokenURL     string `json:"token_url"`
	} `json:"google"`
	Gmail struct {
		Address string `json:"address"`
		BaseURL string `json:"base_url"`
	} `json:"gmail"`
	Sheets struct {
		SpreadsheetID string `json:"spreadsheet_id"`
		BaseURL       string `json:"base_url"`
	} `json:"sheets"`
	Certificates struct {
		APIURL    string `json:"api_url"`
		APIKey    string `json:"api_key"`
		OutboxDir string `json:"outbox_dir"`
	} `json:"certificates"`
	Premium struct {
		APIURL string `json:"api_url"`
		APIKey string `json:"api_key"`
	} `json:"premium"`
	OCR struct {
		APIURL string `json:"api_url"`
		APIKey string `json:"api_key"`
	} `json:"ocr"`
	Assets struct {
		OrderIDImagesDir string `json:"order_id_images_dir"`
	} `json:"assets"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:          filepath.Join(os.Getenv("HOME"), ".mailclerk"),
		MaxToolRounds:    6,
		ThreadMessageCap: 8,
	}
	cfg.LogLevel = "info"
	cfg.StoreBackend = "file"
	cfg.PollInterval = "@every 30s"
	cfg.HTTPAddr = ":8080"
	cfg.LLM.Provider = "openai"
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o"
	cfg.LLM.MaxTokens = 2000
	cfg.LLM.Temperature = 0.7
	cfg.LLM.MaxContextTokens = 128000
	cfg.LLM.OutputReserve = 4096
	cfg.Google.TokenURL = "https://oauth2.googleapis.com/token"
	cfg.Gmail.BaseURL = "https://gmail.googleapis.com/gmail/v1"
	cfg.Sheets.BaseURL = "https://sheets.googleapis.com/v4"

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// .env in the working directory, if present
	_ = godotenv.Load()

	// Override from env (highest precedence)
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if clientID := os.Getenv("GOOGLE_CLIENT_ID"); clientID != "" {
		cfg.Google.ClientID = clientID
	}
	if clientSecret := os.Getenv("GOOGLE_CLIENT_SECRET"); clientSecret != "" {
		cfg.Google.ClientSecret = clientSecret
	}
	if refreshToken := os.Getenv("GOOGLE_REFRESH_TOKEN"); refreshToken != "" {
		cfg.Google.RefreshToken = refreshToken
	}
	if sheetID := os.Getenv("SHEETS_SPREADSHEET_ID"); sheetID != "" {
		cfg.Sheets.SpreadsheetID = sheetID
	}
	if certKey := os.Getenv("CERT_API_KEY"); certKey != "" {
		cfg.Certificates.APIKey = certKey
	}
	if premiumKey := os.Getenv("PREMIUM_API_KEY"); premiumKey != "" {
		cfg.Premium.APIKey = premiumKey
	}
	if ocrKey := os.Getenv("OCR_API_KEY"); ocrKey != "" {
		cfg.OCR.APIKey = ocrKey
	}

	if cfg.Certificates.OutboxDir == "" {
		cfg.Certificates.OutboxDir = filepath.Join(cfg.DataDir, "certificates")
	}

	return cfg, nil
}

// Save writes the config to path atomically, creating the parent
// directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
