package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xseries/mailclerk/internal/store"
	"github.com/xseries/mailclerk/internal/types"
)

var threadEmail string

func init() {
	rootCmd.AddCommand(threadCmd)
	threadCmd.AddCommand(threadListCmd, threadShowCmd, threadClearCmd)
	threadListCmd.Flags().StringVar(&threadEmail, "email", "", "only threads for this user")
}

var threadCmd = &cobra.Command{
	Use:   "thread",
	Short: "Inspect stored conversation threads",
}

func openStore() (types.ThreadStore, error) {
	cfg := loadConfig()
	st, err := store.Open(cfg.StoreBackend, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open thread store: %w", err)
	}
	return st, nil
}

var threadListCmd = &cobra.Command{
	Use:   "list",
	Short: "List threads, most recently updated first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		list, err := st.List(context.Background(), threadEmail)
		if err != nil {
			return fmt.Errorf("list threads: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No threads found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "THREAD\tUSER\tSTATUS\tMESSAGES\tUPDATED")
		for _, th := range list {
			status, _ := th.Metadata[types.MetaStatus].(string)
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				th.ThreadID,
				th.UserEmail,
				status,
				len(th.Chat),
				th.LastUpdated.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var threadShowCmd = &cobra.Command{
	Use:   "show <thread-id>",
	Short: "Print a thread's conversation and metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		th, err := st.Get(context.Background(), types.ThreadID(args[0]))
		if err != nil {
			return fmt.Errorf("load thread: %w", err)
		}
		if th == nil {
			return fmt.Errorf("thread not found: %s", args[0])
		}

		fmt.Printf("Thread:  %s\n", th.ThreadID)
		fmt.Printf("User:    %s\n", th.UserEmail)
		fmt.Printf("Created: %s\n", th.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("Updated: %s\n", th.LastUpdated.Format("2006-01-02 15:04:05"))
		if len(th.Metadata) > 0 {
			fmt.Println("Metadata:")
			for k, v := range th.Metadata {
				fmt.Printf("  %s: %v\n", k, v)
			}
		}
		fmt.Println()
		for _, m := range th.Chat {
			fmt.Printf("[%s] %s\n\n", m.Role, m.Content)
		}
		return nil
	},
}

var threadClearCmd = &cobra.Command{
	Use:   "clear <thread-id>",
	Short: "Empty a thread's chat log, keeping its metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Clear(context.Background(), types.ThreadID(args[0])); err != nil {
			return fmt.Errorf("clear thread: %w", err)
		}
		fmt.Printf("Thread %s cleared.\n", args[0])
		return nil
	},
}
