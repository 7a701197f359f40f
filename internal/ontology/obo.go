package ontology

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dshills/phenorank/pkg/types"
)

// ErrNoTerms is returned when an OBO source has no [Term] stanzas
var ErrNoTerms = errors.New("ontology contains no terms")

// Term is one [Term] stanza
type Term struct {
	ID         types.TermID
	Name       string
	Definition string
	IsA        []types.TermID
	AltIDs     []types.TermID
	Obsolete   bool
	ReplacedBy types.TermID
}

// Text returns the text used to embed the term: its name, followed by the
// definition when present
func (t *Term) Text() string {
	if t.Definition == "" {
		return t.Name
	}
	if t.Name == "" {
		return t.Definition
	}
	return t.Name + ". " + t.Definition
}

// Parse reads an OBO document
func Parse(r io.Reader) (*Ontology, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var terms []*Term
	var current *Term
	inTerm := false

	flush := func() {
		if current != nil && current.ID != "" {
			terms = append(terms, current)
		}
		current = nil
	}

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "!") {
			continue
		}

		if strings.HasPrefix(line, "[") {
			flush()
			inTerm = line == "[Term]"
			if inTerm {
				current = &Term{}
			}
			continue
		}
		if !inTerm {
			continue // header or non-term stanza
		}

		tag, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("line %d: malformed tag-value pair %q", lineNo, line)
		}
		value = strings.TrimSpace(value)

		switch tag {
		case "id":
			current.ID = types.TermID(value)
		case "name":
			current.Name = value
		case "def":
			current.Definition = parseQuoted(value)
		case "is_a":
			current.IsA = append(current.IsA, types.TermID(stripTrailing(value)))
		case "alt_id":
			current.AltIDs = append(current.AltIDs, types.TermID(stripTrailing(value)))
		case "is_obsolete":
			current.Obsolete = value == "true"
		case "replaced_by":
			current.ReplacedBy = types.TermID(stripTrailing(value))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ontology: %w", err)
	}
	flush()

	if len(terms) == 0 {
		return nil, ErrNoTerms
	}
	return newOntology(terms), nil
}

// LoadFile parses the OBO file at path
func LoadFile(path string) (*Ontology, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ontology: %w", err)
	}
	defer func() { _ = f.Close() }()

	ont, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ont, nil
}

// stripTrailing drops trailing modifiers and "! comment" text from a value
func stripTrailing(value string) string {
	if i := strings.Index(value, "!"); i >= 0 {
		value = value[:i]
	}
	if i := strings.Index(value, "{"); i >= 0 {
		value = value[:i]
	}
	return strings.TrimSpace(value)
}

// parseQuoted extracts the quoted text of a def value, unescaping \" and \\
func parseQuoted(value string) string {
	if !strings.HasPrefix(value, `"`) {
		return value
	}
	var b strings.Builder
	escaped := false
	for _, r := range value[1:] {
		switch {
		case escaped:
			b.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '"':
			return b.String()
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
