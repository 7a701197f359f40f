package annotation

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dshills/phenorank/pkg/types"
)

const (
	fieldDisease   = 0
	fieldQualifier = 2
	fieldTerm      = 3
	minFields      = 4

	// maxLineSize bounds a single annotation row
	maxLineSize = 1024 * 1024
)

// ParseOptions filters rows while parsing. The zero value keeps every row.
type ParseOptions struct {
	// DiseasePrefixes restricts the index to diseases with one of these
	// prefixes (e.g. "OMIM:"). Empty keeps all diseases.
	DiseasePrefixes []string
	// ExcludeNegated drops rows whose qualifier column is "NOT"
	ExcludeNegated bool
}

func (o ParseOptions) keep(fields []string) bool {
	if o.ExcludeNegated && strings.TrimSpace(fields[fieldQualifier]) == "NOT" {
		return false
	}
	if len(o.DiseasePrefixes) == 0 {
		return true
	}
	for _, p := range o.DiseasePrefixes {
		if strings.HasPrefix(fields[fieldDisease], p) {
			return true
		}
	}
	return false
}

// Parse reads an hpoa annotation table
func Parse(r io.Reader, opts ParseOptions) (*Index, error) {
	idx := NewIndex()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	headerSkipped := false
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !headerSkipped {
			headerSkipped = true
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < minFields {
			continue
		}
		if !opts.keep(fields) {
			continue
		}
		idx.Add(types.DiseaseID(fields[fieldDisease]), types.TermID(fields[fieldTerm]))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read annotations: %w", err)
	}
	return idx, nil
}

// LoadFile parses the annotation table at path. A file that yields no
// diseases is reported as ErrEmptyIndex.
func LoadFile(path string, opts ParseOptions) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open annotations: %w", err)
	}
	defer func() { _ = f.Close() }()

	idx, err := Parse(f, opts)
	if err != nil {
		return nil, err
	}
	if idx.Len() == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyIndex)
	}
	return idx, nil
}
