package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xseries/mailclerk/internal/config"
)

var showSecrets bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd)
	configListCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print API keys and tokens in full")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit mailclerk settings",
	Long: `Inspect and edit the settings in the mailclerk config file.

Keys use dotted paths, e.g. llm.model or sheets.spreadsheet_id.
Secret values (API keys, tokens) are masked unless --show-secrets
is given.`,
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every setting and its current value",
	Args:  cobra.NoArgs,
	RunE:  runConfigList,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one setting",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting and save the config file",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

func runConfigList(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	values, err := config.ListValues(cfg, !showSecrets)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%v\n", k, values[k])
	}
	return w.Flush()
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	val, err := config.GetValue(cfgPath, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, val)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]
	if err := config.SetValue(cfgPath, key, value); err != nil {
		return err
	}
	shown := value
	if config.IsSecretKey(key) {
		shown = "***"
	}
	fmt.Fprintf(os.Stdout, "%s is now %s\n", key, shown)
	return nil
}
