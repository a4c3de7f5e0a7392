package debutils

import (
	"errors"
	"strings"
	"testing"
)

func TestParseControl(t *testing.T) {
	input := `Package: hello
Version: 2.10-3
Architecture: amd64
X-Custom-Field: kept as is
Description: example package
 First paragraph line.
 .
 Second paragraph.
# a comment line
Depends: libc6 (>= 2.34),
 libfoo2

Package: ignored-second-stanza
`
	p, err := ParseControl(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseControl: %v", err)
	}
	if p.Len() != 6 {
		t.Fatalf("expected 6 fields, got %d: %+v", p.Len(), p.Fields)
	}
	if got := p.Value(FieldPackage); got != "hello" {
		t.Errorf("Package = %q", got)
	}
	if got, _ := p.Get("x-custom-field"); got != "kept as is" {
		t.Errorf("custom field = %q", got)
	}
	wantDesc := "example package\nFirst paragraph line.\n\nSecond paragraph."
	if got := p.Value(FieldDescription); got != wantDesc {
		t.Errorf("Description = %q, want %q", got, wantDesc)
	}
	if got, _ := p.Get("Depends"); got != "libc6 (>= 2.34),\nlibfoo2" {
		t.Errorf("Depends = %q", got)
	}
	if p.Fields[3].Name != "X-Custom-Field" {
		t.Errorf("field order not preserved: %+v", p.Fields)
	}
}

func TestParseControlErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"continuation first", " leading continuation\nPackage: x\n"},
		{"no colon", "Package: x\nVersion 1.0\n"},
		{"space in name", "Pack age: x\n"},
		{"duplicate", "Package: x\npackage: y\n"},
		{"empty", "\n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseControl(strings.NewReader(tt.input))
			if !errors.Is(err, ErrMalformedControl) {
				t.Fatalf("expected ErrMalformedControl, got %v", err)
			}
		})
	}
}

func FuzzParseControl(f *testing.F) {
	f.Add("Package: a\nVersion: 1\n")
	f.Add("Description: x\n .\n y\n")
	f.Add(" bad\n")
	f.Add("A:\n\n\nB: c")
	f.Fuzz(func(t *testing.T, input string) {
		p, err := ParseControl(strings.NewReader(input))
		if err != nil {
			if p != nil {
				t.Fatal("expected nil paragraph on error")
			}
			return
		}
		if p.Len() == 0 {
			t.Fatal("successful parse returned no fields")
		}
		for _, f := range p.Fields {
			if _, ok := p.Get(f.Name); !ok {
				t.Fatalf("field %q not retrievable", f.Name)
			}
		}
	})
}
