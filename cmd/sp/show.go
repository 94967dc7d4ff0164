package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/spoolhq/spool/internal/types"
	"github.com/spoolhq/spool/internal/ui"
)

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an issue",
	Long: `Show an issue by display ID, internal ID, or unambiguous prefix.

With --watch the display refreshes whenever the issue file changes on disk,
which is useful while a sync is folding in remote edits.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		watch, _ := cmd.Flags().GetBool("watch")
		jsonOut, _ := cmd.Flags().GetBool("json")
		full, _ := cmd.Flags().GetBool("full")

		env, err := openEnv(cmd.Context())
		if err != nil {
			Fail(err)
		}
		internalID := env.resolve(args[0])

		if watch {
			watchIssue(env, internalID, full)
			return
		}
		displayIssue(env, internalID, jsonOut, full)
	},
}

// displayIssue renders one issue to stdout. Long notes are elided unless
// full is set; JSON output is never elided.
func displayIssue(env *cmdEnv, internalID string, jsonOut, full bool) {
	issue, err := env.issues.Load(internalID)
	if err != nil {
		Fail(err)
	}

	if jsonOut {
		data, err := json.MarshalIndent(issue, "", "  ")
		if err != nil {
			FatalError("%v", err)
		}
		fmt.Println(string(data))
		return
	}

	var b strings.Builder
	header := fmt.Sprintf("%s  %s", issue.DisplayID, issue.Title)
	b.WriteString(ui.RenderCategory(header) + "\n")
	if issue.IsTombstone() {
		b.WriteString(ui.RenderFail(fmt.Sprintf("Deleted %s", issue.DeletedAt.Format(time.RFC3339))))
		if issue.DeleteReason != "" {
			b.WriteString(ui.RenderMuted("  (" + issue.DeleteReason + ")"))
		}
		b.WriteString("\n")
	}
	b.WriteString(fmt.Sprintf("Status:   %s\n", renderStatus(issue.Status)))
	b.WriteString(fmt.Sprintf("Priority: P%d\n", issue.Priority))
	if issue.Assignee != "" {
		b.WriteString(fmt.Sprintf("Assignee: %s\n", issue.Assignee))
	}
	if len(issue.Labels) > 0 {
		b.WriteString(fmt.Sprintf("Labels:   %s\n", strings.Join(issue.Labels, ", ")))
	}
	b.WriteString(ui.RenderMuted(fmt.Sprintf("Created %s by %s · updated %s\n",
		issue.CreatedAt.Format("2006-01-02"), issue.CreatedBy, issue.UpdatedAt.Format("2006-01-02 15:04"))))
	if issue.Status == types.StatusClosed && issue.CloseReason != "" {
		b.WriteString(fmt.Sprintf("Closed:   %s\n", issue.CloseReason))
	}

	if issue.Description != "" {
		b.WriteString("\n")
		b.WriteString(ui.RenderMarkdown(issue.Description))
	}
	if issue.Notes != "" {
		b.WriteString("\n" + ui.RenderCategory("Notes") + "\n")
		notes := issue.Notes
		if !full && ui.ShouldTruncate(notes, ui.DefaultMaxLines, ui.DefaultMaxChars) {
			if strings.Contains(notes, "\n") {
				notes = ui.TruncateLines(notes, ui.DefaultMaxLines, ui.DefaultContextLines)
			} else {
				notes = ui.TruncateChars(notes, ui.DefaultMaxChars, ui.DefaultContextChars)
			}
			notes += "\n" + ui.RenderMuted("(use --full for the complete text)")
		}
		b.WriteString(notes + "\n")
	}
	if len(issue.Comments) > 0 {
		b.WriteString("\n" + ui.RenderCategory(fmt.Sprintf("Comments (%d)", len(issue.Comments))) + "\n")
		for _, c := range issue.Comments {
			b.WriteString(ui.RenderMuted(fmt.Sprintf("%s · %s\n", c.Author, c.CreatedAt.Format("2006-01-02 15:04"))))
			b.WriteString(ui.WrapText(c.Text, 80) + "\n")
		}
	}

	if err := ui.ToPager(b.String(), ui.PagerOptions{}); err != nil {
		WarnError("pager failed: %v", err)
	}
}

func renderStatus(s types.Status) string {
	switch s {
	case types.StatusClosed:
		return ui.RenderMuted(string(s))
	case types.StatusBlocked:
		return ui.RenderFail(string(s))
	case types.StatusInProgress:
		return ui.RenderAccent(string(s))
	default:
		return ui.RenderPass(string(s))
	}
}

// watchIssue re-renders the issue whenever its file is written, debounced,
// until interrupted. Only the display watches the filesystem; sync itself
// stays checkpoint-triggered.
func watchIssue(env *cmdEnv, internalID string, full bool) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		FatalError("failed to create watcher: %v", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory, not the file: git replaces files on checkout,
	// which drops a watch on the inode.
	if err := watcher.Add(env.issues.Dir()); err != nil {
		FatalError("failed to watch %s: %v", env.issues.Dir(), err)
	}

	displayIssue(env, internalID, false, full)
	fmt.Fprintf(os.Stderr, "\nWatching for changes... (Press Ctrl+C to exit)\n")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	target := internalID + ".json"
	var debounceTimer *time.Timer
	const debounceDelay = 500 * time.Millisecond

	for {
		select {
		case <-sigChan:
			fmt.Fprintf(os.Stderr, "\nStopped watching.\n")
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) && filepath.Base(event.Name) == target {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					displayIssue(env, internalID, false, full)
					fmt.Fprintf(os.Stderr, "\nWatching for changes... (Press Ctrl+C to exit)\n")
				})
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			fmt.Fprintf(os.Stderr, "Watcher error: %v\n", err)
		}
	}
}

func init() {
	showCmd.Flags().Bool("watch", false, "Re-render when the issue file changes")
	showCmd.Flags().Bool("json", false, "Output raw JSON")
	showCmd.Flags().Bool("full", false, "Show long notes without elision")
	rootCmd.AddCommand(showCmd)
}
