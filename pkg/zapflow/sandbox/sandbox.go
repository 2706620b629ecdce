// Package sandbox runs named scripts from a fixed allow-directory as
// isolated child processes with a hard wall-clock timeout and captured
// output.
//
// The contract is deliberately narrow: Run never returns an error. Every
// failure mode — unknown script, nonzero exit, timeout, exec error — is
// encoded in the returned string so the dispatcher can always produce a
// user-visible reply.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultTimeout bounds script execution when none is configured.
const DefaultTimeout = 30 * time.Second

// Config holds the sandbox configuration.
type Config struct {
	// ScriptsDir is the allow-directory. Only scripts inside it can run.
	ScriptsDir string `yaml:"scripts_dir"`

	// Timeout is the hard wall-clock limit per execution.
	Timeout time.Duration `yaml:"timeout"`

	// Runtimes maps script extensions to interpreter paths.
	// Defaults: .py→python3, .sh→/bin/sh. Other files run directly.
	Runtimes map[string]string `yaml:"runtimes"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ScriptsDir: "./scripts",
		Timeout:    DefaultTimeout,
		Runtimes: map[string]string{
			".py": "python3",
			".sh": "/bin/sh",
		},
	}
}

// Runner executes allow-directory scripts.
type Runner struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a new script runner.
func New(cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Runtimes == nil {
		cfg.Runtimes = DefaultConfig().Runtimes
	}
	return &Runner{cfg: cfg, logger: logger.With("component", "sandbox")}
}

// Run executes the named script with the given arguments and returns the
// output to show the user: trimmed stdout on success, a diagnostic string
// on any failure.
func (r *Runner) Run(ctx context.Context, name string, args []string) string {
	path, ok := r.resolve(name)
	if !ok {
		available := strings.Join(r.Available(), ", ")
		return fmt.Sprintf("❌ Erro: O script '%s' não foi encontrado.\n\nScripts disponíveis: %s",
			name, available)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := r.buildCommand(ctx, path, args)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		r.logger.Warn("script timed out", "script", name, "timeout", r.cfg.Timeout)
		return fmt.Sprintf("🛑 Erro: O script demorou muito para responder (timeout de %ds).",
			int(r.cfg.Timeout.Seconds()))

	case err != nil:
		if _, isExit := err.(*exec.ExitError); isExit {
			r.logger.Warn("script exited with error",
				"script", name, "exit_code", cmd.ProcessState.ExitCode(), "duration", elapsed)
			return fmt.Sprintf("⚠️ Erro na execução:\n%s", strings.TrimSpace(stderr.String()))
		}
		r.logger.Error("script execution failed", "script", name, "error", err)
		return fmt.Sprintf("🔥 Erro interno ao rodar o script: %v", err)

	default:
		r.logger.Info("script executed", "script", name, "duration", elapsed)
		return strings.TrimSpace(stdout.String())
	}
}

// Available lists the script names in the allow-directory, sorted.
func (r *Runner) Available() []string {
	entries, err := os.ReadDir(r.cfg.ScriptsDir)
	if err != nil {
		return nil
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	sort.Strings(names)
	return names
}

// resolve maps a script name to its path inside the allow-directory.
// Tries the exact name first, then a case-normalized match — scripts are
// often typed from a phone keyboard that capitalizes the first letter.
func (r *Runner) resolve(name string) (string, bool) {
	// Reject anything that could escape the allow-directory.
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", false
	}

	entries, err := os.ReadDir(r.cfg.ScriptsDir)
	if err != nil {
		return "", false
	}

	lower := strings.ToLower(name)
	var caseMatch string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		base := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if base == name {
			return filepath.Join(r.cfg.ScriptsDir, e.Name()), true
		}
		if strings.ToLower(base) == lower && caseMatch == "" {
			caseMatch = filepath.Join(r.cfg.ScriptsDir, e.Name())
		}
	}

	if caseMatch != "" {
		return caseMatch, true
	}
	return "", false
}

// buildCommand constructs the child process for a resolved script path.
func (r *Runner) buildCommand(ctx context.Context, path string, args []string) *exec.Cmd {
	var cmd *exec.Cmd
	ext := filepath.Ext(path)
	if interpreter, ok := r.cfg.Runtimes[ext]; ok {
		interpreterArgs := append(interpreterFlags(ext), path)
		cmd = exec.CommandContext(ctx, interpreter, append(interpreterArgs, args...)...)
	} else {
		cmd = exec.CommandContext(ctx, path, args...)
	}

	setupProcessGroup(cmd)
	return cmd
}

// interpreterFlags returns extra interpreter arguments per extension.
func interpreterFlags(ext string) []string {
	if ext == ".py" {
		// Unbuffered output so partial prints survive a timeout kill.
		return []string{"-u"}
	}
	return nil
}
