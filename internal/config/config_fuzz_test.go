package config

import (
	"os"
	"testing"
)

// FuzzLoad tests the Load function with various file inputs
func FuzzLoad(f *testing.F) {
	// Seed with various YAML content patterns
	f.Add("workers: 4\npolicy: strict\nlogging:\n  level: debug\n  format: json")
	f.Add("{}")
	f.Add("")
	f.Add("invalid: yaml: content: [")
	f.Add("workers: 0\npolicy: \"\"")
	f.Add("job_timeout: 90s\nbuilder:\n  compression_level: 3\n  overwrite: false")
	f.Add("---\nworkers: 2") // Document separator
	f.Add("mapper: null\nplanner: null") // Null values
	f.Add("workers: 2\nextra_field: \"should be rejected\"")

	f.Fuzz(func(t *testing.T, yamlContent string) {
		// Write content to a temporary file
		tempFile := t.TempDir() + "/config.yml"
		if err := writeTestFile(tempFile, yamlContent); err != nil {
			t.Skip("Failed to create temp file")
		}

		// Test Load - should not crash regardless of input
		cfg, err := Load(tempFile)

		// Function should handle all inputs gracefully
		if err != nil {
			if cfg != nil {
				t.Error("Expected nil config when error occurred")
			}
		} else if cfg == nil {
			t.Error("Expected non-nil config when no error occurred")
		} else if verr := cfg.Validate(); verr != nil {
			t.Errorf("Load returned a config that does not validate: %v", verr)
		}
	})
}

// FuzzParse tests the Parse function with raw YAML data
func FuzzParse(f *testing.F) {
	// Seed with various YAML patterns that might cause parsing issues
	f.Add([]byte("workers: 4"))
	f.Add([]byte(""))
	f.Add([]byte("null"))
	f.Add([]byte("{}"))
	f.Add([]byte("[]"))
	f.Add([]byte("invalid yaml content ]["))
	f.Add([]byte("---\n---\n---")) // Multiple document separators
	f.Add([]byte("cache_dir: \"a\\\n  b\""))
	f.Add([]byte("policy: !!str strict"))                              // YAML tags
	f.Add([]byte("logging: &anchor\n  level: info\nother: *anchor")) // YAML anchors
	f.Add([]byte(string(make([]byte, 10000))))                        // Large input
	f.Add([]byte("workers: 2\n# comment"))

	f.Fuzz(func(t *testing.T, yamlData []byte) {
		// Test Parse - should not crash with any input
		cfg, err := Parse(yamlData)

		// Function should handle all inputs gracefully
		if err != nil {
			if cfg != nil {
				t.Error("Expected nil config when error occurred")
			}
		} else if cfg == nil {
			t.Error("Expected non-nil config when no error occurred")
		}
	})
}

// writeTestFile is a helper to write content to a file for testing
func writeTestFile(path, content string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = file.WriteString(content)
	return err
}
