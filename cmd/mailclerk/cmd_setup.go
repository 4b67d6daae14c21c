package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xseries/mailclerk/internal/config"
	"github.com/xseries/mailclerk/internal/googleauth"
	"github.com/xseries/mailclerk/internal/mail/gmail"
	"github.com/xseries/mailclerk/internal/sheets"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("Mailclerk Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.LLM.BaseURL = prompt(scanner, "LLM base URL", cfg.LLM.BaseURL)
		cfg.LLM.APIKey = prompt(scanner, "LLM API key", cfg.LLM.APIKey)
		cfg.LLM.Model = prompt(scanner, "LLM model name", cfg.LLM.Model)

		cfg.Gmail.Address = prompt(scanner, "Support mailbox address", cfg.Gmail.Address)
		cfg.Google.ClientID = prompt(scanner, "Google OAuth client ID", cfg.Google.ClientID)
		cfg.Google.ClientSecret = prompt(scanner, "Google OAuth client secret", cfg.Google.ClientSecret)
		cfg.Google.RefreshToken = prompt(scanner, "Google OAuth refresh token", cfg.Google.RefreshToken)
		cfg.Sheets.SpreadsheetID = prompt(scanner, "Issue tracking spreadsheet ID (optional)", cfg.Sheets.SpreadsheetID)

		cfg.Certificates.APIURL = prompt(scanner, "Certificate service URL (optional)", cfg.Certificates.APIURL)
		cfg.Premium.APIURL = prompt(scanner, "Premium activation service URL (optional)", cfg.Premium.APIURL)
		cfg.OCR.APIURL = prompt(scanner, "Screenshot OCR service URL (optional)", cfg.OCR.APIURL)

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)

		tokens := googleauth.NewRefreshTokenSource(
			cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RefreshToken, cfg.Google.TokenURL)
		ctx := cmd.Context()

		fmt.Print("Testing mailbox connection... ")
		addr, err := gmail.New(cfg.Gmail.BaseURL, tokens).Profile(ctx)
		if err != nil {
			fmt.Println("FAILED")
			return fmt.Errorf("mailbox connection: %w", err)
		}
		fmt.Printf("ok (%s)\n", addr)

		if cfg.Sheets.SpreadsheetID != "" {
			fmt.Print("Preparing issue workbook... ")
			client := sheets.NewClient(cfg.Sheets.BaseURL, cfg.Sheets.SpreadsheetID, tokens)
			if err := client.EnsureSheets(ctx); err != nil {
				fmt.Println("FAILED")
				return fmt.Errorf("prepare issue workbook: %w", err)
			}
			fmt.Println("ok")
		}
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
