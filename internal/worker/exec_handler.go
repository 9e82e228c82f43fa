package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"mediaqueue/internal/domain"
)

// Exit codes understood by ExecHandler, from sysexits.h.
const (
	ExitDataErr  = 65 // permanent failure, retrying cannot help
	ExitTempFail = 75 // dependency not ready, defer
)

const maxCapturedOutput = 4 << 10

// ExecHandler runs an external command per job. The payload is written to
// stdin and job metadata is exported as JOB_* environment variables.
type ExecHandler struct {
	Command []string
	Env     []string
	Logger  zerolog.Logger
}

// NewExecHandler splits command on whitespace. Quoting is not interpreted;
// wrap anything more involved in a script.
func NewExecHandler(command string, logger zerolog.Logger) (*ExecHandler, error) {
	args := strings.Fields(command)
	if len(args) == 0 {
		return nil, errors.New("exec handler: empty command")
	}
	return &ExecHandler{Command: args, Logger: logger}, nil
}

func (h *ExecHandler) Handle(ctx context.Context, job *domain.Job) (Result, error) {
	cmd := exec.CommandContext(ctx, h.Command[0], h.Command[1:]...)
	cmd.Stdin = bytes.NewReader(job.Payload)
	cmd.Env = append(append(os.Environ(), h.Env...), jobEnv(job)...)
	stdout := &tailBuffer{limit: maxCapturedOutput}
	stderr := &tailBuffer{limit: maxCapturedOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if out := strings.TrimSpace(stdout.String()); out != "" {
		h.Logger.Debug().Str("job_id", job.ID).Str("stdout", out).Msg("worker: handler output")
	}
	if err == nil {
		return Done(), nil
	}
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	reason := lastLine(stderr.String())
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return Result{}, fmt.Errorf("run %s: %w", h.Command[0], err)
	}
	code := exitErr.ExitCode()
	if reason == "" {
		reason = fmt.Sprintf("%s exited with status %d", h.Command[0], code)
	}
	switch code {
	case ExitTempFail:
		return Deferred(reason), nil
	case ExitDataErr:
		return Result{}, Permanent(errors.New(reason))
	default:
		return Result{}, errors.New(reason)
	}
}

func jobEnv(job *domain.Job) []string {
	return []string{
		"JOB_ID=" + job.ID,
		"JOB_TYPE=" + string(job.Type),
		"JOB_TARGET_KEY=" + job.TargetKey,
		"JOB_OWNER_KEY=" + job.OwnerKey,
		"JOB_ATTEMPTS=" + strconv.Itoa(job.Attempts),
		"JOB_MAX_ATTEMPTS=" + strconv.Itoa(job.MaxAttempts),
		"JOB_DEPENDENCY_ATTEMPTS=" + strconv.Itoa(job.DependencyAttempts),
	}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	buf   []byte
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string { return string(b.buf) }
