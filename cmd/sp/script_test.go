package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rsc.io/script"
)

// TestMain lets script files run this test binary as the sp CLI: when
// SP_SCRIPT_CHILD is set the process behaves exactly like sp.
func TestMain(m *testing.M) {
	if os.Getenv("SP_SCRIPT_CHILD") == "1" {
		main()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// TestScripts runs the end-to-end CLI scripts under testdata/script. Each
// script gets a fresh working directory and an isolated git environment.
func TestScripts(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH")
	}
	exe, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}

	engine := &script.Engine{
		Cmds:  script.DefaultCmds(),
		Conds: script.DefaultConds(),
		Quiet: !testing.Verbose(),
	}
	engine.Cmds["sp"] = script.Program(exe, func(cmd *exec.Cmd) error { return cmd.Process.Signal(os.Interrupt) }, 100*time.Millisecond)
	engine.Cmds["capture"] = captureCmd(exe)

	files, err := filepath.Glob("testdata/script/*.txt")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Fatal("no scripts under testdata/script")
	}

	for _, file := range files {
		file := file
		t.Run(strings.TrimSuffix(filepath.Base(file), ".txt"), func(t *testing.T) {
			t.Parallel()
			workdir := t.TempDir()
			env := []string{
				"PATH=" + os.Getenv("PATH"),
				"WORK=" + workdir,
				"HOME=" + workdir,
				"USER=script",
				"GIT_CONFIG_NOSYSTEM=1",
				"GIT_AUTHOR_NAME=Script User",
				"GIT_AUTHOR_EMAIL=script@example.com",
				"GIT_COMMITTER_NAME=Script User",
				"GIT_COMMITTER_EMAIL=script@example.com",
				"SP_SCRIPT_CHILD=1",
			}
			state, err := script.NewState(context.Background(), workdir, env)
			if err != nil {
				t.Fatal(err)
			}

			f, err := os.Open(file)
			if err != nil {
				t.Fatal(err)
			}
			defer f.Close()

			var log bytes.Buffer
			if err := engine.Execute(state, filepath.Base(file), bufio.NewReader(f), &log); err != nil {
				t.Fatalf("%v\n%s", err, log.String())
			}
			if testing.Verbose() {
				t.Log(log.String())
			}
		})
	}
}

// captureCmd runs a program synchronously and stores its trimmed stdout in
// an environment variable, so scripts can act on minted display IDs:
//
//	capture ID sp create "First issue" -q
//	sp show $ID
func captureCmd(exe string) script.Cmd {
	return script.Command(script.CmdUsage{
		Summary: "run a command and capture its trimmed stdout into an env var",
		Args:    "var program [args...]",
	}, func(s *script.State, args ...string) (script.WaitFunc, error) {
		if len(args) < 2 {
			return nil, script.ErrUsage
		}
		name := args[1]
		if name == "sp" {
			name = exe
		}
		cmd := exec.CommandContext(s.Context(), name, args[2:]...)
		cmd.Dir = s.Getwd()
		cmd.Env = s.Environ()
		var stdout, stderr strings.Builder
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("capture %s: %w\n%s", args[1], err, stderr.String())
		}
		if err := s.Setenv(args[0], strings.TrimSpace(stdout.String())); err != nil {
			return nil, err
		}
		return nil, nil
	})
}
