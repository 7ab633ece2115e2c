package executor_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/funai-studio/runtime-agent/internal/agent/executor"
)

func TestOS_CapturesStdout(t *testing.T) {
	res, err := executor.NewOS().Run(context.Background(), executor.Command{
		Name: "sh",
		Args: []string{"-c", "echo hello"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Fatalf("expected stdout %q, got %q", "hello", res.Stdout)
	}
}

func TestOS_StdinIsDeliveredPrivately(t *testing.T) {
	secret := "p@ssw0rd-from-stdin"
	res, err := executor.NewOS().Run(context.Background(), executor.Command{
		Name:  "cat",
		Stdin: []byte(secret),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stdout != secret {
		t.Fatalf("child did not receive stdin payload: %q", res.Stdout)
	}
}

func TestOS_NonZeroExitIsExecutionError(t *testing.T) {
	_, err := executor.NewOS().Run(context.Background(), executor.Command{
		Name: "sh",
		Args: []string{"-c", "echo 'manifest unknown' >&2; exit 3"},
	})
	var execErr *executor.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if execErr.ExitCode != 3 {
		t.Errorf("expected exit 3, got %d", execErr.ExitCode)
	}
	if execErr.Reason() != "manifest unknown" {
		t.Errorf("unexpected reason %q", execErr.Reason())
	}
}

func TestOS_AllowFailureReturnsResult(t *testing.T) {
	res, err := executor.NewOS().Run(context.Background(), executor.Command{
		Name:         "sh",
		Args:         []string{"-c", "exit 1"},
		AllowFailure: true,
	})
	if err != nil {
		t.Fatalf("expected tolerated failure, got %v", err)
	}
	if res.ExitCode != 1 {
		t.Fatalf("expected exit 1, got %d", res.ExitCode)
	}
}

func TestOS_StderrIsScrubbedOfStdinPayload(t *testing.T) {
	secret := "leaky-secret-value"
	_, err := executor.NewOS().Run(context.Background(), executor.Command{
		Name:  "sh",
		Args:  []string{"-c", "read pw; echo \"bad password $pw\" >&2; exit 1"},
		Stdin: []byte(secret + "\n"),
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), secret) {
		t.Fatalf("secret leaked into error: %v", err)
	}
}

func TestOS_Timeout(t *testing.T) {
	start := time.Now()
	_, err := executor.NewOS().Run(context.Background(), executor.Command{
		Name:    "sleep",
		Args:    []string{"5"},
		Timeout: 100 * time.Millisecond,
	})
	var execErr *executor.ExecutionError
	if !errors.As(err, &execErr) || !execErr.TimedOut {
		t.Fatalf("expected timeout ExecutionError, got %v", err)
	}
	if time.Since(start) > 4*time.Second {
		t.Fatalf("timeout was not enforced")
	}
}

func TestOS_MissingBinary(t *testing.T) {
	res, err := executor.NewOS().Run(context.Background(), executor.Command{
		Name:         "definitely-not-a-real-binary-rtagent",
		AllowFailure: true,
	})
	var execErr *executor.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("missing binary must be an error even with AllowFailure, got %v", err)
	}
	if res.ExitCode != 127 {
		t.Fatalf("expected exit 127, got %d", res.ExitCode)
	}
}

func TestCommandString_MasksSecrets(t *testing.T) {
	c := executor.Command{Name: "docker", Args: []string{"login", "--password", "hunter22", "reg"}}
	if strings.Contains(c.String(), "hunter22") {
		t.Fatalf("String leaked secret: %q", c.String())
	}
}
