package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/dispatchd/am"
)

// ConfigCmd shows and validates configuration.
var ConfigCmd = &cobra.Command{
	Use:     "config",
	Aliases: []string{"am"},
	Short:   "Show or validate configuration",
	Long: `Show or validate configuration.

Sources, highest precedence first:
1. Environment variables (DB_HOST, MULTIFLEXI_CYCLE_PAUSE, ...)
2. The .env file (--env-file, or ./.env when present)
3. Defaults

Examples:
  dispatchd config show
  dispatchd config show --json
  dispatchd config validate`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration and where each value came from",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the current configuration",
	RunE:  runConfigValidate,
}

func init() {
	configShowCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configValidateCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	v, err := am.NewViper(envFileFlag(cmd))
	if err != nil {
		return err
	}
	info := am.Introspect(v)

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		out, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}

	if info.EnvFile != "" {
		pterm.Info.Printf("Env file: %s\n", info.EnvFile)
	}
	rows := pterm.TableData{{"Key", "Value", "Source"}}
	for _, s := range info.Settings {
		rows = append(rows, []string{s.Key, fmt.Sprint(s.Value), string(s.Source)})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if _, err := am.Load(envFileFlag(cmd)); err != nil {
		pterm.Error.Println(err.Error())
		return &ExitError{Code: 1}
	}
	pterm.Success.Println("Configuration is valid")
	return nil
}
