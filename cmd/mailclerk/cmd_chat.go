package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xseries/mailclerk/internal/agent"
	"github.com/xseries/mailclerk/internal/store"
	"github.com/xseries/mailclerk/internal/types"
)

var (
	chatEmail    string
	chatThreadID string
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatEmail, "email", "", "user email for the conversation")
	chatCmd.Flags().StringVar(&chatThreadID, "thread-id", "", "resume an existing thread id")
	chatCmd.Flags().BoolVar(&skipSetup, "skip-setup", false, "skip issue workbook preparation at startup")
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the support agent on the console",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		st, err := store.Open(cfg.StoreBackend, cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open thread store: %w", err)
		}
		defer st.Close()

		a, err := buildAgent(cfg, st)
		if err != nil {
			return err
		}

		scanner := bufio.NewScanner(os.Stdin)

		email := chatEmail
		if email == "" {
			fmt.Print("Please enter user email: ")
			if scanner.Scan() {
				email = strings.TrimSpace(scanner.Text())
			}
		}
		if email == "" {
			return fmt.Errorf("an email address is required")
		}

		threadID := types.ThreadID(chatThreadID)
		if threadID == "" {
			threadID = types.NewConsoleThreadID()
		}
		fmt.Printf("Thread ID: %s\n", threadID)
		fmt.Println("Type 'exit' to quit.")

		for {
			fmt.Print("User: ")
			if !scanner.Scan() {
				break
			}
			query := strings.TrimSpace(scanner.Text())
			if query == "" {
				continue
			}
			if q := strings.ToLower(query); q == "exit" || q == "quit" || q == "bye" {
				break
			}

			out, err := a.HandleMessage(cmd.Context(), agent.Inbound{
				ThreadID:   threadID,
				UserEmail:  email,
				SenderName: email,
				Body:       query,
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				continue
			}
			switch out.Kind {
			case agent.OutcomeNoResponse:
				fmt.Println("Agent: (no response needed)")
			default:
				fmt.Printf("Agent: %s\n", out.Text)
			}
		}
		return nil
	},
}
