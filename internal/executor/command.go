package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// maxStderr bounds the stderr tail kept for error messages.
const maxStderr = 4 << 10

// CommandTrainable runs every trial as a local OS process.
//
// The trial is described in the environment:
//
//	GOTUNE_TRIAL_ID      trial id
//	GOTUNE_TRIAL_DIR     per-trial working directory, kept across resumes
//	GOTUNE_RESUME_FROM   resource level already reached (0 for a new trial)
//	GOTUNE_CONFIG        the configuration as a JSON object
//	GOTUNE_PARAM_<NAME>  one variable per parameter, name upper-cased
//
// The process reports by printing JSON lines {"resource":N,"metric":X} on
// stdout. Other stdout lines are logged. The process is killed as soon as a
// report is answered with PAUSE or STOP.
type CommandTrainable struct {
	command []string
	workDir string
	logger  *slog.Logger
}

// NewCommandTrainable creates a CommandTrainable rooted at workDir.
// If workDir is empty, os.TempDir() is used.
func NewCommandTrainable(command []string, workDir string, logger *slog.Logger) *CommandTrainable {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &CommandTrainable{
		command: command,
		workDir: workDir,
		logger:  logger.With("component", "command-trainable"),
	}
}

// Name returns "command".
func (c *CommandTrainable) Name() string {
	return "command"
}

type metricLine struct {
	Resource *int     `json:"resource"`
	Metric   *float64 `json:"metric"`
}

// Train runs the command for one trial.
func (c *CommandTrainable) Train(ctx context.Context, spec TrialSpec, rep Reporter) error {
	if len(c.command) == 0 {
		return fmt.Errorf("trial %s: command is empty", spec.TrialID)
	}
	trialDir := filepath.Join(c.workDir, spec.TrialID)
	if err := os.MkdirAll(trialDir, 0o755); err != nil {
		return fmt.Errorf("trial %s: create work dir: %w", spec.TrialID, err)
	}
	env, err := trialEnv(spec, trialDir)
	if err != nil {
		return fmt.Errorf("trial %s: %w", spec.TrialID, err)
	}

	procCtx, kill := context.WithCancel(ctx)
	defer kill()

	cmd := exec.CommandContext(procCtx, c.command[0], c.command[1:]...)
	cmd.Dir = trialDir
	cmd.Env = append(os.Environ(), env...)
	cmd.WaitDelay = 2 * time.Second
	var stderr tailBuffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("trial %s: stdout pipe: %w", spec.TrialID, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("trial %s: start command: %w", spec.TrialID, err)
	}
	c.logger.Debug("process started", "trial_id", spec.TrialID, "pid", cmd.Process.Pid, "command", c.command)

	released, reportErr := c.follow(ctx, spec.TrialID, stdout, rep)
	if released || reportErr != nil {
		kill()
	}
	waitErr := cmd.Wait()

	switch {
	case reportErr != nil:
		return reportErr
	case released:
		return nil
	case waitErr != nil:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return fmt.Errorf("trial %s: exit code %d: %s", spec.TrialID, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("trial %s: run command: %w", spec.TrialID, waitErr)
	}
	c.logger.Debug("process exited", "trial_id", spec.TrialID)
	return nil
}

// follow reads metric lines until the process ends or a report is answered
// with a decision that ends training.
func (c *CommandTrainable) follow(ctx context.Context, trialID string, r io.Reader, rep Reporter) (bool, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var m metricLine
		if line[0] != '{' || json.Unmarshal(line, &m) != nil || m.Resource == nil || m.Metric == nil {
			c.logger.Debug("trial output", "trial_id", trialID, "line", string(line))
			continue
		}
		d, err := rep.Report(ctx, *m.Resource, *m.Metric)
		if err != nil {
			return false, fmt.Errorf("trial %s: report: %w", trialID, err)
		}
		if !d.KeepsRunning() {
			c.logger.Debug("releasing process", "trial_id", trialID, "decision", d)
			return true, nil
		}
	}
	return false, nil
}

// trialEnv builds the GOTUNE_* environment of a trial.
func trialEnv(spec TrialSpec, trialDir string) ([]string, error) {
	cfgJSON, err := json.Marshal(spec.Config.Plain())
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	env := []string{
		"GOTUNE_TRIAL_ID=" + spec.TrialID,
		"GOTUNE_TRIAL_DIR=" + trialDir,
		"GOTUNE_RESUME_FROM=" + strconv.Itoa(spec.ResumeFrom),
		"GOTUNE_CONFIG=" + string(cfgJSON),
	}
	for _, name := range spec.Config.Keys() {
		env = append(env, "GOTUNE_PARAM_"+strings.ToUpper(name)+"="+spec.Config[name].String())
	}
	return env, nil
}

// tailBuffer keeps the last maxStderr bytes written to it.
type tailBuffer struct {
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > maxStderr {
		t.buf = t.buf[len(t.buf)-maxStderr:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
