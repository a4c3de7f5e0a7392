package validate

import (
	"strings"
	"testing"
)

func TestValidateConfigJSON(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{name: "empty object", data: `{}`},
		{name: "full", data: `{"workers": 4, "cache_dir": "./cache", "job_timeout": "10m", "policy": "strict",
			"logging": {"level": "debug", "format": "json"},
			"mapper": {"threshold": 0.5, "rules": [{"name": "x", "pattern": "^a$", "replacement": "b", "confidence": 0.5}]},
			"planner": {"path_rules": [{"from": "/opt/foo", "to": "/usr/lib/foo"}], "hooks": [{"name": "strip", "command": "true"}]},
			"builder": {"compression_level": 19, "overwrite": false, "build_user": {"uid": 1000, "gid": 1000}},
			"provider": {"type": "archrepo", "repos": ["core"], "timeout": "30s"}}`},
		{name: "aur provider", data: `{"provider": {"type": "aur", "aur_url": "https://aur.archlinux.org"}}`},
		{name: "bad aur url", data: `{"provider": {"type": "pacman", "aur": true, "aur_url": "aur.archlinux.org"}}`, wantErr: "/provider/aur_url"},
		{name: "unknown key", data: `{"workerz": 4}`, wantErr: "additional"},
		{name: "bad policy", data: `{"policy": "lenient"}`, wantErr: "/policy"},
		{name: "zero workers", data: `{"workers": 0}`, wantErr: "/workers"},
		{name: "bad duration", data: `{"job_timeout": "ten minutes"}`, wantErr: "/job_timeout"},
		{name: "relative path rule", data: `{"planner": {"path_rules": [{"from": "opt", "to": "/usr"}]}}`, wantErr: "/planner/path_rules/0/from"},
		{name: "rule above heuristic ceiling", data: `{"mapper": {"rules": [{"name": "x", "pattern": "a", "replacement": "b", "confidence": 0.9}]}}`, wantErr: "confidence"},
		{name: "not json", data: `workers: 4`, wantErr: "invalid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfigJSON([]byte(tt.data))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateTablesJSON(t *testing.T) {
	if err := ValidateTablesJSON([]byte(`{"aliases": [{"debian": "libc6", "arch": "glibc"}], "virtuals": {"awk": ["gawk"]}}`)); err != nil {
		t.Fatalf("valid tables rejected: %v", err)
	}
	if err := ValidateTablesJSON([]byte(`{"aliases": [{"debian": "libc6"}]}`)); err == nil {
		t.Error("alias without arch accepted")
	}
	if err := ValidateTablesJSON([]byte(`{"virtuals": {"awk": []}}`)); err == nil {
		t.Error("empty virtual accepted")
	}
	if err := ValidateTablesJSON([]byte(`{"aliases": [{"debian": "x", "arch": "Bad Name"}]}`)); err == nil {
		t.Error("invalid arch name accepted")
	}
}

func TestValidateAgainstSchemaRef(t *testing.T) {
	schema := []byte(`{"$defs": {"name": {"type": "string", "minLength": 2}}}`)
	if err := ValidateAgainstSchema("names.json", schema, []byte(`"ok"`), "#/$defs/name"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateAgainstSchema("names.json", schema, []byte(`"x"`), "#/$defs/name"); err == nil {
		t.Error("short name accepted")
	}
	if err := ValidateAgainstSchema("names.json", schema, []byte(`"x"`), "#/$defs/missing"); err == nil {
		t.Error("missing ref compiled")
	}
}
