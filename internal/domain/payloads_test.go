package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestValidatePayload(t *testing.T) {
	tests := []struct {
		name    string
		job     Job
		wantErr bool
	}{
		{
			name: "complete import",
			job: Job{Type: JobTypeImportAlbumItem, Payload: json.RawMessage(
				`{"remote_media_item_id":"m1","token":"t","local_album_id":"a1","remote_owner_identity":"bob@remote","remote_server_url":"https://remote"}`)},
		},
		{
			name:    "import missing token",
			job:     Job{Type: JobTypeImportAlbumItem, Payload: json.RawMessage(`{"remote_media_item_id":"m1","local_album_id":"a1","remote_server_url":"https://remote"}`)},
			wantErr: true,
		},
		{
			name:    "import without payload",
			job:     Job{Type: JobTypeImportAlbumItem},
			wantErr: true,
		},
		{
			name:    "scan with unknown field",
			job:     Job{Type: JobTypeScan, Payload: json.RawMessage(`{"folder":"x"}`)},
			wantErr: true,
		},
		{name: "scan subtree", job: Job{Type: JobTypeScan, Payload: json.RawMessage(`{"subdirectory":"2026"}`)}},
		{name: "cluster for user", job: Job{Type: JobTypeClusterFaces, Payload: json.RawMessage(`{"user_id":"u1"}`)}},
		{name: "untyped payload", job: Job{Type: JobTypeIngestMetadata, Payload: json.RawMessage(`{"anything":true}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePayload(&tt.job)
			if tt.wantErr && !errors.Is(err, ErrInvalidJob) {
				t.Fatalf("expected ErrInvalidJob, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSupersededBy(t *testing.T) {
	if got := SupersededBy(JobTypeRemove); len(got) != 3 {
		t.Fatalf("remove supersedes %v, want the three ingest stages", got)
	}
	if got := SupersededBy(JobTypeIngestAnalysis); len(got) != 1 || got[0] != JobTypeRemove {
		t.Fatalf("ingest supersedes %v, want [remove]", got)
	}
	if got := SupersededBy(JobTypeScan); got != nil {
		t.Fatalf("scan supersedes %v, want nothing", got)
	}
}

func TestPriorityPolicy(t *testing.T) {
	p := NewPriorityPolicy(map[JobType]PriorityBand{JobTypeScan: {Default: 1, Video: 1}}, []string{"MKV", " .webm"})

	tests := []struct {
		t      JobType
		target string
		want   int
	}{
		{JobTypeScan, "", 1},
		{JobTypeIngestAnalysis, "a.jpg", 90},
		{JobTypeIngestAnalysis, "a.mkv", 95},
		{JobTypeIngestAnalysis, "dir/A.WEBM", 95},
		{JobTypeIngestAnalysis, "a.mp4", 90},
		{"unknown", "", 100},
	}
	for _, tt := range tests {
		if got := p.Priority(tt.t, tt.target); got != tt.want {
			t.Fatalf("Priority(%s, %q) = %d, want %d", tt.t, tt.target, got, tt.want)
		}
	}
}
