package debutils

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Field is one key/value pair of a control stanza. Multi-line values keep
// their continuation lines joined with "\n" and the leading space removed.
type Field struct {
	Name  string
	Value string
}

// Paragraph is an ordered control stanza. Lookups are case-insensitive;
// unknown fields are kept verbatim.
type Paragraph struct {
	Fields []Field
	index  map[string]int
}

// Get returns the value of the named field.
func (p *Paragraph) Get(name string) (string, bool) {
	if p == nil || p.index == nil {
		return "", false
	}
	i, ok := p.index[strings.ToLower(name)]
	if !ok {
		return "", false
	}
	return p.Fields[i].Value, true
}

// Value returns the field value or "".
func (p *Paragraph) Value(name ControlField) string {
	v, _ := p.Get(string(name))
	return v
}

// Len returns the number of fields.
func (p *Paragraph) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Fields)
}

func (p *Paragraph) set(name, value string) error {
	if p.index == nil {
		p.index = make(map[string]int)
	}
	key := strings.ToLower(name)
	if _, dup := p.index[key]; dup {
		return fmt.Errorf("%w: duplicate field %q", ErrMalformedControl, name)
	}
	p.index[key] = len(p.Fields)
	p.Fields = append(p.Fields, Field{Name: name, Value: value})
	return nil
}

// ParseControl reads the first stanza of a control file. Blank lines after
// the stanza end it; anything following is ignored.
func ParseControl(r io.Reader) (*Paragraph, error) {
	p := &Paragraph{}

	var currentKey string
	var currentValue strings.Builder
	flush := func() error {
		if currentKey == "" {
			return nil
		}
		err := p.set(currentKey, strings.TrimRight(currentValue.String(), " \t"))
		currentKey = ""
		currentValue.Reset()
		return err
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSuffix(scanner.Text(), "\r")

		switch {
		case strings.TrimSpace(line) == "":
			if p.Len() > 0 || currentKey != "" {
				if err := flush(); err != nil {
					return nil, err
				}
				return p, nil
			}
		case strings.HasPrefix(line, "#"):
			// comment
		case line[0] == ' ' || line[0] == '\t':
			if currentKey == "" {
				return nil, fmt.Errorf("%w: line %d: continuation line without a field", ErrMalformedControl, lineNo)
			}
			cont := strings.TrimSpace(line)
			if cont == "." {
				cont = ""
			}
			currentValue.WriteByte('\n')
			currentValue.WriteString(cont)
		default:
			name, value, ok := strings.Cut(line, ":")
			name = strings.TrimSpace(name)
			if !ok || name == "" || strings.ContainsAny(name, " \t") {
				return nil, fmt.Errorf("%w: line %d: cannot tokenize %q", ErrMalformedControl, lineNo, line)
			}
			if err := flush(); err != nil {
				return nil, err
			}
			currentKey = name
			currentValue.WriteString(strings.TrimSpace(value))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read control data: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if p.Len() == 0 {
		return nil, fmt.Errorf("%w: empty control stanza", ErrMalformedControl)
	}
	return p, nil
}
