package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/spoolhq/spool/internal/project"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Get and set project configuration",
	Long: fmt.Sprintf(`Get and set values in .spool/config.yaml.

Keys: %s

Environment variables override the file per key, e.g. SPOOL_SYNC_BRANCH.`,
		strings.Join(project.Keys(), ", ")),
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print one value, or all values",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		proj, err := project.Open(".")
		if err != nil {
			Fail(err)
		}
		if len(args) == 1 {
			value, err := proj.Config.Get(args[0])
			if err != nil {
				FatalError("%v", err)
			}
			fmt.Println(value)
			return
		}
		for _, key := range project.Keys() {
			value, _ := proj.Config.Get(key)
			fmt.Printf("%s: %s\n", key, value)
		}
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one value",
	Long: `Set one configuration value.

The edit rewrites only the named key and keeps the rest of config.yaml,
comments included, exactly as it is.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		proj, err := project.Open(".")
		if err != nil {
			Fail(err)
		}
		if err := project.SetKey(proj.ConfigPath(), args[0], args[1]); err != nil {
			FatalError("%v", err)
		}
		fmt.Printf("%s %s = %s\n", color.GreenString("✓"), args[0], args[1])
	},
}

func init() {
	configCmd.AddCommand(configGetCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}
