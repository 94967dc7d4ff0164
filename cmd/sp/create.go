package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/spoolhq/spool/internal/identity"
	"github.com/spoolhq/spool/internal/types"
)

var createCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a new issue",
	Long: `Create a new issue on the sync branch.

A new internal ID is minted together with a short display ID like web-a3f8.
The issue file and the mapping entry are committed in the sync worktree
before the command returns; run 'sp sync' to publish them.

Use --form for an interactive form instead of flags.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		form, _ := cmd.Flags().GetBool("form")
		if form {
			runCreateForm(cmd)
			return
		}
		if len(args) == 0 {
			FatalError("title is required (or use --form)")
		}

		description, _ := cmd.Flags().GetString("description")
		priority, _ := cmd.Flags().GetInt("priority")
		assignee, _ := cmd.Flags().GetString("assignee")
		labelsInput, _ := cmd.Flags().GetString("labels")

		var labels []string
		for _, l := range strings.Split(labelsInput, ",") {
			if l = strings.TrimSpace(l); l != "" {
				labels = append(labels, l)
			}
		}

		createIssue(cmd, args[0], description, priority, assignee, labels)
	},
}

// createIssue mints identity, writes the issue document, and commits both it
// and the mapping entry in the sync worktree.
func createIssue(cmd *cobra.Command, title, description string, priority int, assignee string, labels []string) {
	quiet, _ := cmd.Flags().GetBool("quiet")
	ctx := cmd.Context()

	env, err := openEnv(ctx)
	if err != nil {
		Fail(err)
	}

	lock := env.lockMapping("create")
	defer lock.Release()

	// Reload under the lock so minting sees entries appended by a
	// concurrent process after our initial load.
	env.table, err = identity.LoadTable(identityTablePath(env), env.proj.Config.IssuePrefix)
	if err != nil {
		Fail(err)
	}

	internalID, err := identity.NewInternalID()
	if err != nil {
		FatalError("%v", err)
	}
	now := time.Now().UTC()
	displayID, err := env.table.Mint(internalID, now)
	if err != nil {
		FatalError("%v", err)
	}

	issue := &types.Issue{
		ID:          internalID,
		DisplayID:   displayID,
		Title:       title,
		Description: description,
		Status:      types.StatusOpen,
		Priority:    priority,
		Assignee:    assignee,
		Labels:      labels,
		CreatedAt:   now,
		CreatedBy:   getActor(env),
		UpdatedAt:   now,
	}
	if err := issue.Validate(); err != nil {
		FatalError("%v", err)
	}

	if err := env.issues.Save(issue); err != nil {
		FatalError("%v", err)
	}
	if err := env.flushTable(); err != nil {
		FatalError("%v", err)
	}
	if err := env.commit(ctx, fmt.Sprintf("sp create: %s", displayID)); err != nil {
		FatalError("failed to commit issue: %v", err)
	}

	if quiet {
		fmt.Println(displayID)
		return
	}
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s Created issue %s\n", green("✓"), displayID)
	fmt.Printf("  Run 'sp sync' to publish it.\n")
}

func init() {
	createCmd.Flags().StringP("description", "d", "", "Issue description (markdown)")
	createCmd.Flags().IntP("priority", "p", 2, "Priority 0 (critical) to 4 (backlog)")
	createCmd.Flags().String("assignee", "", "Assignee")
	createCmd.Flags().StringP("labels", "l", "", "Comma-separated labels")
	createCmd.Flags().Bool("form", false, "Create interactively with a form")
	createCmd.Flags().BoolP("quiet", "q", false, "Print only the new display ID")
	rootCmd.AddCommand(createCmd)
}
