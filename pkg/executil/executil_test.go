// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package executil

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestNewCommand(t *testing.T) {
	cmd := NewCommand("echo", "hello", "world")
	if cmd.Name != "echo" {
		t.Errorf("expected Name to be 'echo', got %q", cmd.Name)
	}
	if len(cmd.Args) != 2 {
		t.Errorf("expected 2 args, got %d", len(cmd.Args))
	}
	if cmd.Args[0] != "hello" || cmd.Args[1] != "world" {
		t.Errorf("expected args ['hello', 'world'], got %v", cmd.Args)
	}
}

func TestRunner_Run_Success(t *testing.T) {
	runner := NewRunner()
	ctx := context.Background()

	cmd := NewCommand("echo", "test-output")

	result, err := runner.Run(ctx, cmd)
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if result.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", result.ExitCode)
	}

	output := strings.TrimSpace(string(result.Stdout))
	if output != "test-output" {
		t.Errorf("expected stdout 'test-output', got %q", output)
	}
}

func TestRunner_Run_Failure(t *testing.T) {
	runner := NewRunner()
	ctx := context.Background()

	cmd := NewCommand("sh", "-c", "exit 42")

	result, err := runner.Run(ctx, cmd)
	if err == nil {
		t.Fatal("expected Run() to return error for non-zero exit code")
	}

	if result.ExitCode != 42 {
		t.Errorf("expected exit code 42, got %d", result.ExitCode)
	}
}

func TestRunner_Run_Stderr(t *testing.T) {
	runner := NewRunner()
	ctx := context.Background()

	cmd := NewCommand("sh", "-c", "echo oops >&2; exit 1")

	result, err := runner.Run(ctx, cmd)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(string(result.Stderr), "oops") {
		t.Errorf("expected stderr to contain 'oops', got %q", result.Stderr)
	}
}

func TestRunner_Run_Timeout(t *testing.T) {
	runner := NewRunner()
	ctx := context.Background()

	cmd := NewCommand("sleep", "5")
	cmd.Timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := runner.Run(ctx, cmd)
	if err == nil {
		t.Fatal("expected error for timed out command")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout not enforced, command ran for %v", elapsed)
	}
}

func TestRunner_Run_CommandNotFound(t *testing.T) {
	runner := NewRunner()
	ctx := context.Background()

	cmd := NewCommand("definitely-not-a-real-command-xyz")

	_, err := runner.Run(ctx, cmd)
	if err == nil {
		t.Fatal("expected error for missing command")
	}
}

func TestRunner_RunStream(t *testing.T) {
	runner := NewRunner()
	ctx := context.Background()

	var buf bytes.Buffer
	cmd := NewCommand("sh", "-c", "echo line1; echo line2")

	if err := runner.RunStream(ctx, cmd, &buf); err != nil {
		t.Fatalf("RunStream() returned error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "line1") || !strings.Contains(out, "line2") {
		t.Errorf("expected streamed output, got %q", out)
	}
}

func TestRunner_Run_Env(t *testing.T) {
	runner := NewRunner()
	ctx := context.Background()

	cmd := NewCommand("sh", "-c", "echo $HOP_TEST_VAR")
	cmd.Env = map[string]string{"HOP_TEST_VAR": "from-env"}

	result, err := runner.Run(ctx, cmd)
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if got := strings.TrimSpace(string(result.Stdout)); got != "from-env" {
		t.Errorf("expected 'from-env', got %q", got)
	}
}
