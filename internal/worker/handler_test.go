package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"testing"

	"github.com/rs/zerolog"

	"mediaqueue/internal/domain"
)

func TestResolveTypes(t *testing.T) {
	registered := []domain.JobType{domain.JobTypeIngestAnalysis, domain.JobTypeIngestMetadata, domain.JobTypeScan}

	tests := []struct {
		name    string
		include []domain.JobType
		exclude []domain.JobType
		want    []domain.JobType
	}{
		{"everything", nil, nil, registered},
		{"exclude analysis", nil, []domain.JobType{domain.JobTypeIngestAnalysis}, []domain.JobType{domain.JobTypeIngestMetadata, domain.JobTypeScan}},
		{"include unregistered", []domain.JobType{domain.JobTypeRemove, domain.JobTypeScan}, nil, []domain.JobType{domain.JobTypeScan}},
		{"exclude wins", []domain.JobType{domain.JobTypeScan}, []domain.JobType{domain.JobTypeScan}, []domain.JobType{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveTypes(registered, tt.include, tt.exclude)
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Fatalf("ResolveTypes = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegistryTypesSorted(t *testing.T) {
	reg := NewRegistry()
	noop := HandlerFunc(func(context.Context, *domain.Job) (Result, error) { return Done(), nil })
	reg.Register(domain.JobTypeScan, noop)
	reg.Register(domain.JobTypeCleanDB, noop)

	if got := reg.Types(); len(got) != 2 || got[0] != domain.JobTypeCleanDB {
		t.Fatalf("Types = %v", got)
	}
	if _, ok := reg.Lookup(domain.JobTypeRemove); ok {
		t.Fatal("unexpected handler for remove")
	}
}

func TestPermanent(t *testing.T) {
	base := errors.New("bad input")
	err := fmt.Errorf("handle: %w", Permanent(base))
	if !IsPermanent(err) || !errors.Is(err, base) {
		t.Fatalf("wrapped permanent error lost its identity: %v", err)
	}
	if IsPermanent(base) || Permanent(nil) != nil {
		t.Fatal("plain errors are not permanent")
	}
}

func TestExecHandlerExitCodes(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	job := &domain.Job{
		ID:          "job-1",
		Type:        domain.JobTypeScan,
		Payload:     []byte(`{"subdirectory":"2026"}`),
		MaxAttempts: 5,
	}

	tests := []struct {
		name      string
		script    string
		deferred  bool
		wantErr   bool
		permanent bool
		reason    string
	}{
		{
			name:   "success reads payload and env",
			script: `[ "$(cat)" = '{"subdirectory":"2026"}' ] && [ "$JOB_TYPE" = scan ] && [ "$JOB_ID" = job-1 ]`,
		},
		{name: "defer", script: `echo "waiting for metadata" >&2; exit 75`, deferred: true, reason: "waiting for metadata"},
		{name: "permanent", script: `echo "corrupt file" >&2; exit 65`, wantErr: true, permanent: true, reason: "corrupt file"},
		{name: "transient", script: `echo one >&2; echo "network down" >&2; exit 1`, wantErr: true, reason: "network down"},
		{name: "silent failure", script: `exit 3`, wantErr: true, reason: "/bin/sh exited with status 3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &ExecHandler{Command: []string{"/bin/sh", "-c", tt.script}, Logger: zerolog.Nop()}
			res, err := h.Handle(context.Background(), job)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if IsPermanent(err) != tt.permanent {
					t.Fatalf("IsPermanent = %v, want %v", IsPermanent(err), tt.permanent)
				}
				if err.Error() != tt.reason {
					t.Fatalf("error = %q, want %q", err.Error(), tt.reason)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.IsDeferred() != tt.deferred || res.Reason() != tt.reason {
				t.Fatalf("result = deferred %v reason %q", res.IsDeferred(), res.Reason())
			}
		})
	}
}

func TestNewExecHandlerSplitsCommand(t *testing.T) {
	h, err := NewExecHandler("  /usr/local/bin/thumb  --size 256 ", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewExecHandler returned error: %v", err)
	}
	if fmt.Sprint(h.Command) != "[/usr/local/bin/thumb --size 256]" {
		t.Fatalf("Command = %q", h.Command)
	}
	if _, err := NewExecHandler("   ", zerolog.Nop()); err == nil {
		t.Fatal("expected error for empty command")
	}
}
