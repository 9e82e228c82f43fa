package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestRun(t *testing.T) {
	tests := []struct {
		name     string
		files    map[string]string
		wantCode int
		wantMsg  string
	}{
		{
			name: "valid markers",
			files: map[string]string{
				"a.go": "package q\n\nconst QA = `--sql 11111111-1111-4111-8111-111111111111\nselect 1;`\n",
				"b.go": "package q\n\nconst QB = `--sql 22222222-2222-4222-8222-222222222222\ndelete from jobs;`\n",
			},
			wantCode: 0,
		},
		{
			name: "missing marker",
			files: map[string]string{
				"a.go": "package q\n\nconst QA = `select id from jobs`\n",
			},
			wantCode: 1,
			wantMsg:  "missing or invalid --sql <uuid> marker (QA)",
		},
		{
			name: "duplicate marker across files",
			files: map[string]string{
				"a.go": "package q\n\nconst QA = `--sql 11111111-1111-4111-8111-111111111111\nselect 1;`\n",
				"b.go": "package q\n\nconst QB = `--sql 11111111-1111-4111-8111-111111111111\nselect 2;`\n",
			},
			wantCode: 1,
			wantMsg:  "marker already used by QA",
		},
		{
			name: "tests and plain strings are ignored",
			files: map[string]string{
				"a.go":      "package q\n\nconst greeting = \"hello\"\n",
				"a_test.go": "package q\n\nconst fixture = `select 1`\n",
			},
			wantCode: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, body := range tt.files {
				writeFile(t, dir, name, body)
			}
			var stderr bytes.Buffer
			if code := run([]string{dir}, &stderr); code != tt.wantCode {
				t.Fatalf("run = %d, want %d; output:\n%s", code, tt.wantCode, stderr.String())
			}
			if tt.wantMsg != "" && !strings.Contains(stderr.String(), tt.wantMsg) {
				t.Fatalf("output missing %q:\n%s", tt.wantMsg, stderr.String())
			}
		})
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("\n  --sql abc\nselect 1"); got != "--sql abc" {
		t.Fatalf("firstLine = %q", got)
	}
}
