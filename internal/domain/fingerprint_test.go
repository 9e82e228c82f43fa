package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestCanonicalPayload(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"sorted keys", `{"b":1, "a":{"d":2,"c":3}}`, `{"a":{"c":3,"d":2},"b":1}`},
		{"large numbers keep precision", `{"id":12345678901234567890}`, `{"id":12345678901234567890}`},
		{"empty", ``, ``},
		{"null", ` null `, ``},
		{"array", `[3, 1]`, `[3,1]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalPayload([]byte(tt.in))
			if err != nil {
				t.Fatalf("CanonicalPayload returned error: %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("CanonicalPayload = %s, want %s", got, tt.want)
			}
		})
	}

	for _, bad := range []string{`{"a":`, `{"a":1} {"b":2}`, `nope`} {
		if _, err := CanonicalPayload([]byte(bad)); !errors.Is(err, ErrInvalidJob) {
			t.Fatalf("CanonicalPayload(%q) error = %v, want ErrInvalidJob", bad, err)
		}
	}
}

func TestFingerprintIgnoresKeyOrder(t *testing.T) {
	a, _ := CanonicalPayload(json.RawMessage(`{"x":1,"y":[1,2]}`))
	b, _ := CanonicalPayload(json.RawMessage(`{ "y":[1,2], "x":1 }`))
	c, _ := CanonicalPayload(json.RawMessage(`{"x":2,"y":[1,2]}`))

	if Fingerprint(a) != Fingerprint(b) {
		t.Fatal("equivalent payloads must share a fingerprint")
	}
	if Fingerprint(a) == Fingerprint(c) {
		t.Fatal("different payloads must not share a fingerprint")
	}
	if Fingerprint(nil) != "" {
		t.Fatal("absent payload must fingerprint to the empty string")
	}
}

func TestNormalizeTargetKey(t *testing.T) {
	if got := NormalizeTargetKey("  a/Cafe\u0301.jpg "); got != "a/Caf\u00e9.jpg" {
		t.Fatalf("NormalizeTargetKey = %q", got)
	}
	if got := NormalizeTargetKey("   "); got != "" {
		t.Fatalf("blank key = %q, want empty", got)
	}
}
