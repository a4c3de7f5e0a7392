package config

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/open-edge-platform/deb2arch/internal/planner"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Workers != runtime.NumCPU() {
		t.Errorf("workers = %d", cfg.Workers)
	}
	if cfg.Policy != "permissive" || cfg.JobTimeout != 10*time.Minute {
		t.Errorf("policy=%s timeout=%s", cfg.Policy, cfg.JobTimeout)
	}
	if cfg.Mapper.Threshold != 0.6 || cfg.Mapper.LowConfidence != 0.7 {
		t.Errorf("mapper thresholds = %v/%v", cfg.Mapper.Threshold, cfg.Mapper.LowConfidence)
	}
	if cfg.Builder.CompressionLevel != 19 || !cfg.Builder.Overwrite {
		t.Errorf("builder = %+v", cfg.Builder)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		check   func(t *testing.T, c *GlobalConfig)
		wantErr string
	}{
		{
			name: "empty document keeps defaults",
			yaml: "",
			check: func(t *testing.T, c *GlobalConfig) {
				if c.CacheDir != "./cache" {
					t.Errorf("cache_dir = %s", c.CacheDir)
				}
			},
		},
		{
			name: "overrides merge with defaults",
			yaml: "workers: 3\njob_timeout: 90s\npolicy: strict\nbuilder:\n  overwrite: false\n",
			check: func(t *testing.T, c *GlobalConfig) {
				if c.Workers != 3 || c.JobTimeout != 90*time.Second || c.Policy != "strict" {
					t.Errorf("got %+v", c)
				}
				if c.Builder.Overwrite || c.Builder.CompressionLevel != 19 {
					t.Errorf("builder = %+v", c.Builder)
				}
				if c.Logging.Level != "info" {
					t.Errorf("logging default lost: %+v", c.Logging)
				}
			},
		},
		{
			name: "planner rules and hooks",
			yaml: "planner:\n  packager: Ops <ops@example.org>\n  path_rules:\n    - {from: /opt/vendor, to: /usr/lib/vendor}\n  hooks:\n    - {name: strip, command: \"find . -name '*.a' -delete\"}\n",
			check: func(t *testing.T, c *GlobalConfig) {
				want := planner.PathRule{From: "/opt/vendor", To: "/usr/lib/vendor"}
				if len(c.Planner.PathRules) != 1 || c.Planner.PathRules[0] != want {
					t.Errorf("path rules = %+v", c.Planner.PathRules)
				}
				if len(c.Planner.Hooks) != 1 || c.Planner.Hooks[0].Name != "strip" {
					t.Errorf("hooks = %+v", c.Planner.Hooks)
				}
			},
		},
		{
			name: "provider and build user",
			yaml: "provider:\n  type: archrepo\n  repos: [core]\n  timeout: 45s\nbuilder:\n  build_user: {uid: 1000, gid: 100}\n",
			check: func(t *testing.T, c *GlobalConfig) {
				if c.Provider.Type != "archrepo" || c.Provider.Timeout != 45*time.Second {
					t.Errorf("provider = %+v", c.Provider)
				}
				if c.Builder.BuildUser == nil || c.Builder.BuildUser.UID != 1000 || c.Builder.BuildUser.GID != 100 {
					t.Errorf("build user = %+v", c.Builder.BuildUser)
				}
			},
		},
		{
			name: "aur behind archrepo",
			yaml: "provider:\n  type: archrepo\n  aur: true\n  aur_url: https://aur.example.org\n",
			check: func(t *testing.T, c *GlobalConfig) {
				if !c.Provider.AUR || c.Provider.AURURL != "https://aur.example.org" {
					t.Errorf("provider = %+v", c.Provider)
				}
			},
		},
		{name: "schema rejects unknown keys", yaml: "wrokers: 2\n", wantErr: "additionalProperties"},
		{name: "schema rejects bad policy", yaml: "policy: yolo\n", wantErr: "/policy"},
		{name: "schema rejects bad level", yaml: "logging:\n  level: trace\n", wantErr: "/logging/level"},
		{name: "not yaml", yaml: "workers: [\n", wantErr: "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				if cfg != nil {
					t.Error("expected nil config on error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestValidateCatchesStructErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 0
	cfg.Planner.Hooks = []planner.Hook{{Name: "empty"}}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"Workers", "Command"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadAndMarshalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte("workers: 5\njob_timeout: 2m\nmapper:\n  threshold: 0.5\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	out, err := cfg.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "job_timeout: 2m0s") {
		t.Errorf("marshalled config:\n%s", out)
	}
	again, err := Parse(out)
	if err != nil {
		t.Fatalf("re-parse: %v", err)
	}
	if again.Workers != 5 || again.Mapper.Threshold != 0.5 || again.JobTimeout != 2*time.Minute {
		t.Errorf("round trip lost values: %+v", again)
	}

	if _, err := Load(filepath.Join(dir, "missing.yml")); err == nil {
		t.Error("missing explicit file accepted")
	}
}

func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", "")
	orig := DefaultConfigPaths
	t.Cleanup(func() { DefaultConfigPaths = orig })
	DefaultConfigPaths = []string{"$HOME/none.yml", "$XDG_CONFIG_HOME/deb2arch/config.yml"}

	if got := FindConfigFile(); got != "" {
		t.Fatalf("found %s before creating it", got)
	}
	p := filepath.Join(dir, "deb2arch", "config.yml")
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte("workers: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := FindConfigFile(); got != p {
		t.Errorf("FindConfigFile = %q, want %q", got, p)
	}
}

func TestGlobal(t *testing.T) {
	t.Cleanup(func() { SetGlobal(nil) })
	if Global().Policy != "permissive" {
		t.Error("Global before SetGlobal should return defaults")
	}
	cfg := DefaultConfig()
	cfg.Policy = "strict"
	SetGlobal(cfg)
	if Global() != cfg {
		t.Error("SetGlobal not visible")
	}
}

func TestResolveProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider.Type = "static"
	if got := cfg.ResolveProvider(context.Background()); got.Type != "static" {
		t.Errorf("explicit provider replaced by %s", got.Type)
	}
	cfg.Provider.Type = ""
	got := cfg.ResolveProvider(context.Background()).Type
	if got != "pacman" && got != "none" {
		t.Errorf("detected provider = %s", got)
	}
}

func TestConfigHelpers(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.CacheDir = filepath.Join(dir, "cache")
	cfg.WorkDir = filepath.Join(dir, "work")
	h := NewConfigHelpers(cfg)

	cacheDir, err := h.CreateCacheDir()
	if err != nil || cacheDir != cfg.CacheDir {
		t.Fatalf("CreateCacheDir = %s, %v", cacheDir, err)
	}
	workDir, err := h.CreateWorkDir()
	if err != nil || workDir != cfg.WorkDir {
		t.Fatalf("CreateWorkDir = %s, %v", workDir, err)
	}
	for _, d := range []string{cacheDir, workDir} {
		if fi, err := os.Stat(d); err != nil || !fi.IsDir() {
			t.Errorf("%s was not created: %v", d, err)
		}
	}
	snap, err := h.SnapshotPath()
	if err != nil || snap != filepath.Join(dir, "cache", DefaultSnapshotFile) {
		t.Errorf("SnapshotPath = %s, %v", snap, err)
	}
	cfg.Mapper.SnapshotFile = ""
	if snap, _ := h.SnapshotPath(); snap != "" {
		t.Errorf("disabled snapshot path = %s", snap)
	}
}

func TestLoadMappingTables(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	if err := os.WriteFile(good, []byte("aliases:\n  - {debian: libfrob1, arch: frob}\nvirtuals:\n  frobber: [frob]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	tables, err := LoadMappingTables(good)
	if err != nil {
		t.Fatalf("LoadMappingTables: %v", err)
	}
	if len(tables.Aliases) != 1 || tables.Aliases[0].Arch != "frob" {
		t.Errorf("aliases = %+v", tables.Aliases)
	}
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("aliases:\n  - {debian: libfrob1}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadMappingTables(bad); err == nil {
		t.Error("alias without arch accepted")
	}
}
