package main

import (
	"strings"
	"testing"
)

// FuzzCreateRootCommand builds the command tree with arbitrary global flag values.
func FuzzCreateRootCommand(f *testing.F) {
	f.Add("", "")
	f.Add("/tmp/config.yml", "info")
	f.Add("invalid/path", "debug")
	f.Add("/dev/null", "invalid-level")
	f.Add("", "trace")

	f.Fuzz(func(t *testing.T, configPath string, logLevelValue string) {
		originalConfigFile := configFile
		originalLogLevel := logLevel
		defer func() {
			configFile = originalConfigFile
			logLevel = originalLogLevel
		}()

		configFile = configPath
		logLevel = logLevelValue

		cmd := createRootCommand()
		if cmd == nil {
			t.Fatal("createRootCommand returned nil")
		}
		if cmd.Use == "" || cmd.Short == "" {
			t.Error("root command is missing its usage text")
		}
		if len(cmd.Commands()) == 0 {
			t.Error("no subcommands were added to root command")
		}
	})
}

// FuzzParseRelationKind checks that field names either resolve to a known
// relation field or fail cleanly.
func FuzzParseRelationKind(f *testing.F) {
	f.Add("Depends")
	f.Add("pre-depends")
	f.Add("RECOMMENDS")
	f.Add("")
	f.Add("Bogus")

	f.Fuzz(func(t *testing.T, s string) {
		kind, err := parseRelationKind(s)
		if err != nil {
			if kind != "" {
				t.Fatalf("kind %q returned with error", kind)
			}
			return
		}
		if !strings.EqualFold(string(kind), s) {
			t.Fatalf("parseRelationKind(%q) = %q", s, kind)
		}
	})
}
