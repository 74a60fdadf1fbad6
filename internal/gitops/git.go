// Package gitops provides the outbound git operations handle granted to
// plugins through the git capability.
package gitops

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const defaultTimeout = 15 * time.Second

// Result is the outcome of a git invocation.
type Result struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
}

// allowedActions is the closed set of git actions plugins may run. Anything
// outside it (push --force, filter-branch, arbitrary flags) is rejected
// before git ever runs.
var allowedActions = map[string]bool{
	"status":   true,
	"diff":     true,
	"log":      true,
	"add":      true,
	"commit":   true,
	"branch":   true,
	"checkout": true,
	"clone":    true,
	"pull":     true,
}

// Client runs whitelisted git actions inside a per-namespace work directory.
type Client struct {
	workDir string
	timeout time.Duration
}

// NewClient creates a git client rooted at workDir. A zero timeout uses the
// default.
func NewClient(workDir string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{workDir: workDir, timeout: timeout}
}

// Scoped returns a client whose commands run inside a namespace subdirectory
// of the work dir, keeping plugin checkouts separated.
func (c *Client) Scoped(namespace string) *Client {
	return &Client{
		workDir: filepath.Join(c.workDir, namespace),
		timeout: c.timeout,
	}
}

// WorkDir returns the directory commands run in.
func (c *Client) WorkDir() string {
	return c.workDir
}

// Run executes a whitelisted git action with validated arguments.
func (c *Client) Run(ctx context.Context, action string, args []string) (Result, error) {
	if !allowedActions[action] {
		return Result{}, fmt.Errorf("git: action %q is not allowed", action)
	}
	for _, arg := range args {
		// Arguments are data (paths, refs, messages), never flags.
		if strings.HasPrefix(arg, "-") {
			return Result{}, fmt.Errorf("git: flag argument %q is not allowed", arg)
		}
	}

	cmdArgs := append([]string{action}, args...)
	return c.exec(ctx, cmdArgs...)
}

// Status runs git status --porcelain.
func (c *Client) Status(ctx context.Context) (Result, error) {
	return c.exec(ctx, "status", "--porcelain")
}

// Log returns up to max one-line log entries.
func (c *Client) Log(ctx context.Context, max int) (Result, error) {
	if max <= 0 {
		max = 10
	}
	if max > 100 {
		max = 100
	}
	return c.exec(ctx, "log", "--oneline", "-"+strconv.Itoa(max))
}

// Commit stages nothing and records a commit with the given message.
func (c *Client) Commit(ctx context.Context, message string) (Result, error) {
	if message == "" {
		return Result{}, fmt.Errorf("git commit: message is required")
	}
	return c.exec(ctx, "commit", "-m", message)
}

func (c *Client) exec(ctx context.Context, args ...string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	if c.workDir != "" {
		cmd.Dir = c.workDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{}, fmt.Errorf("git: exec: %w", err)
		}
	}

	output := stdout.String()
	if output == "" {
		output = stderr.String()
	}

	return Result{Output: output, ExitCode: exitCode}, nil
}
