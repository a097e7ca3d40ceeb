package scripts

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestStackScriptDryRun(t *testing.T) {
	tests := []struct {
		command string
		env     []string
		// steps must appear in this order.
		steps []string
	}{
		{
			command: "up",
			steps: []string{
				"[dry-run] docker compose",
				"up -d --wait",
				"go run ./cmd/snowchat-migrate -direction up",
				"go run ./cmd/snowchat-templates -dir prompts",
				"go run ./cmd/snowchat-demo-data",
				"[dry-run] nohup env",
				"go run ./cmd/snowchat-api",
				"stack is up",
			},
		},
		{
			command: "status",
			env:     []string{"SNOWCHAT_API_URL=http://127.0.0.1:9999"},
			steps: []string{
				"go run ./cmd/snowchat-migrate -direction status",
				"[dry-run] curl -fsS http://127.0.0.1:9999/v1/ready",
				"stack is ready",
			},
		},
		{
			command: "down",
			steps: []string{
				"[dry-run] cd",
				"[dry-run] docker compose",
				" down",
				"stack is down",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			stdout, stderr, err := runStack(t, tt.env, tt.command, "--dry-run")
			if err != nil {
				t.Fatalf("stack %s dry-run failed: %v\nstdout:\n%s\nstderr:\n%s", tt.command, err, stdout, stderr)
			}
			assertInOrder(t, stdout, tt.steps)
		})
	}
}

func TestStackScriptUpWiresDemoEnvironment(t *testing.T) {
	stdout, stderr, err := runStack(t, nil, "up", "--dry-run")
	if err != nil {
		t.Fatalf("stack up dry-run failed: %v\nstderr:\n%s", err, stderr)
	}
	for _, line := range strings.Split(stdout, "\n") {
		if !strings.Contains(line, "go run ./cmd/") {
			continue
		}
		for _, setting := range []string{
			"SNOWCHAT_OBJECTSTORE_ENABLED=true",
			"SNOWCHAT_PROMPTS_SOURCE=objectstore",
			"SNOWCHAT_WAREHOUSE_DIALECT=duckdb",
			"SNOWCHAT_WAREHOUSE_PARQUET_PREFIX=demo",
			"SNOWCHAT_AUDIT_DSN=",
		} {
			if !strings.Contains(line, setting) {
				t.Fatalf("step %q missing %s", line, setting)
			}
		}
	}
}

func TestStackScriptRejectsBadArguments(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{args: []string{"not-a-command"}, want: "unknown command"},
		{args: []string{}, want: "usage: stack.sh up|status|down"},
		{args: []string{"up", "--force"}, want: "unknown argument: --force"},
	}
	for _, tt := range tests {
		_, stderr, err := runStack(t, nil, tt.args...)
		exitErr, ok := err.(*exec.ExitError)
		if !ok || exitErr.ExitCode() != 2 {
			t.Fatalf("stack %v error = %v, want exit status 2", tt.args, err)
		}
		if !strings.Contains(stderr, tt.want) {
			t.Fatalf("stack %v stderr missing %q:\n%s", tt.args, tt.want, stderr)
		}
	}
}

func runStack(t *testing.T, env []string, args ...string) (string, string, error) {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	cmd := exec.Command("bash", append([]string{filepath.Join(filepath.Dir(thisFile), "stack.sh")}, args...)...)
	cmd.Env = append(os.Environ(), env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func assertInOrder(t *testing.T, out string, steps []string) {
	t.Helper()
	rest := out
	for _, step := range steps {
		index := strings.Index(rest, step)
		if index < 0 {
			t.Fatalf("output missing %q after previous steps\noutput:\n%s", step, out)
		}
		rest = rest[index+len(step):]
	}
}
