package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var idCmd = &cobra.Command{
	Use:   "id <input>",
	Short: "Resolve an identifier and print both identity forms",
	Long: `Resolve any accepted identifier form and print the debug form,
"<display> (<internal>)". Diagnostic output only; never parse it.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		env, err := openEnv(cmd.Context())
		if err != nil {
			Fail(err)
		}
		internalID := env.resolve(args[0])
		fmt.Println(env.table.DebugID(internalID))
	},
}

func init() {
	rootCmd.AddCommand(idCmd)
}
