package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/martinemde/puding/sandbox"
)

const (
	// DefaultMaxFileSize is the largest file read_file will load.
	DefaultMaxFileSize int64 = 1 << 20
	// DefaultCommandTimeout bounds run_command.
	DefaultCommandTimeout = 120 * time.Second
)

// ExecResult holds the result of a command execution.
type ExecResult struct {
	Command  string `json:"command"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	Success  bool   `json:"success"`
}

// DirEntry is one visible item of a directory listing.
type DirEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size *int64 `json:"size"`
}

// FileContent is a text file loaded through the sandbox.
type FileContent struct {
	Path     sandbox.Path
	Content  string
	MIMEType string
}

// Length returns the content length in characters.
func (f *FileContent) Length() int {
	return utf8.RuneCountInString(f.Content)
}

// sensitiveEnvPatterns are case-insensitive suffixes for environment variables
// that commands never see.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"GOPATH": true, "GOROOT": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

func filterEnvironment(environ []string) []string {
	var filtered []string
	for _, kv := range environ {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if safeEnvVars[name] || !isSensitiveEnvVar(name) {
			filtered = append(filtered, kv)
		}
	}
	return filtered
}

// Environment performs every filesystem and process operation the tools
// need, confined to a sandbox.
type Environment struct {
	sandbox        *sandbox.Sandbox
	maxFileSize    int64
	commandTimeout time.Duration
}

// EnvOption configures an Environment.
type EnvOption func(*Environment)

// WithMaxFileSize overrides DefaultMaxFileSize.
func WithMaxFileSize(n int64) EnvOption {
	return func(e *Environment) {
		if n > 0 {
			e.maxFileSize = n
		}
	}
}

// WithCommandTimeout overrides DefaultCommandTimeout.
func WithCommandTimeout(d time.Duration) EnvOption {
	return func(e *Environment) {
		if d > 0 {
			e.commandTimeout = d
		}
	}
}

// NewEnvironment creates an Environment over sb.
func NewEnvironment(sb *sandbox.Sandbox, opts ...EnvOption) *Environment {
	e := &Environment{
		sandbox:        sb,
		maxFileSize:    DefaultMaxFileSize,
		commandTimeout: DefaultCommandTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sandbox returns the sandbox all paths are resolved against.
func (e *Environment) Sandbox() *sandbox.Sandbox { return e.sandbox }

// CommandTimeout returns the run_command deadline.
func (e *Environment) CommandTimeout() time.Duration { return e.commandTimeout }

// ReadFile loads a text file of at most the configured size.
func (e *Environment) ReadFile(raw string) (*FileContent, error) {
	path, err := e.sandbox.Resolve(raw)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path.String())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, invalidf("File '%s' does not exist", raw)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", raw, err)
	}
	if !info.Mode().IsRegular() {
		return nil, invalidf("'%s' is not a file", raw)
	}
	if info.Size() > e.maxFileSize {
		return nil, invalidf("File '%s' is too large (%d bytes, limit %d)", raw, info.Size(), e.maxFileSize)
	}
	if !sandbox.IsTextLike(path.String()) {
		return nil, invalidf("File '%s' appears to be binary or non-textual", raw)
	}
	data, err := os.ReadFile(path.String())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", raw, err)
	}
	if !utf8.Valid(data) {
		return nil, invalidf("File '%s' is not valid UTF-8 text", raw)
	}
	return &FileContent{
		Path:     path,
		Content:  string(data),
		MIMEType: sandbox.DetectMIME(data),
	}, nil
}

// WriteFile creates or overwrites a file, creating missing parent
// directories inside the sandbox.
func (e *Environment) WriteFile(raw, content string) (sandbox.Path, error) {
	path, err := e.sandbox.Resolve(raw)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(path.String()); err == nil && info.IsDir() {
		return "", invalidf("'%s' is a directory", raw)
	}
	if err := os.MkdirAll(filepath.Dir(path.String()), 0o755); err != nil {
		return "", fmt.Errorf("create parent of %s: %w", raw, err)
	}
	if err := os.WriteFile(path.String(), []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", raw, err)
	}
	return path, nil
}

// ListDirectory returns the non-excluded entries of a directory, sorted by
// name.
func (e *Environment) ListDirectory(raw string) (sandbox.Path, []DirEntry, error) {
	if strings.TrimSpace(raw) == "" {
		raw = "."
	}
	path, err := e.sandbox.Resolve(raw)
	if err != nil {
		return "", nil, err
	}
	info, err := os.Stat(path.String())
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil, invalidf("Directory '%s' does not exist", raw)
	}
	if err != nil {
		return "", nil, fmt.Errorf("stat %s: %w", raw, err)
	}
	if !info.IsDir() {
		return "", nil, invalidf("'%s' is not a directory", raw)
	}
	entries, err := os.ReadDir(path.String())
	if err != nil {
		return "", nil, fmt.Errorf("list %s: %w", raw, err)
	}

	items := make([]DirEntry, 0, len(entries))
	for _, entry := range entries {
		child := sandbox.Path(filepath.Join(path.String(), entry.Name()))
		if e.sandbox.IsExcluded(child) {
			continue
		}
		item := DirEntry{Name: entry.Name(), Type: "file"}
		if entry.IsDir() {
			item.Type = "directory"
		} else if fi, err := entry.Info(); err == nil {
			size := fi.Size()
			item.Size = &size
		}
		items = append(items, item)
	}
	return path, items, nil
}

// ExecCommand runs command through the platform shell in the sandbox root.
// A command that outlives the configured timeout yields *TimeoutError; a
// non-zero exit is a normal result.
func (e *Environment) ExecCommand(ctx context.Context, command string) (*ExecResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.commandTimeout)
	defer cancel()

	name, args := shellCommand(command)
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = e.sandbox.Root()
	cmd.Env = filterEnvironment(os.Environ())
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &ExecResult{
		Command: command,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			return nil, &TimeoutError{Command: command, Timeout: e.commandTimeout}
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		default:
			return nil, fmt.Errorf("run %q: %w", command, err)
		}
	}
	result.Success = result.ExitCode == 0
	return result, nil
}

func shellCommand(command string) (string, []string) {
	if runtime.GOOS == "windows" {
		return "powershell.exe", []string{"-NoProfile", "-ExecutionPolicy", "Bypass", "-Command", command}
	}
	return "/bin/sh", []string{"-c", command}
}
