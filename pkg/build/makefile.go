package build

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
)

// Rewrite replaces any makefile line starting with Prefix by Line.
type Rewrite struct {
	Prefix string `yaml:"prefix" validate:"required"`
	Line   string `yaml:"line"`
}

// DefaultRewrites strip debug information from the generated makefile:
// application flags are cleared and library objects lose their default
// library references.
func DefaultRewrites() []Rewrite {
	return []Rewrite{
		{Prefix: "APP_CFLAG=", Line: "APP_CFLAG="},
		{Prefix: "LIB_CFLAG=", Line: "LIB_CFLAG=/Zl"},
	}
}

// RewriteMakefile applies rewrites to the makefile at path and writes it back
// with CRLF line endings. It returns how many lines changed.
func RewriteMakefile(path string, rewrites []Rewrite) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read makefile: %w", err)
	}

	out, changed, err := rewriteLines(data, rewrites)
	if err != nil {
		return 0, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, out, info.Mode().Perm()); err != nil {
		return 0, fmt.Errorf("failed to write makefile: %w", err)
	}
	return changed, nil
}

func rewriteLines(data []byte, rewrites []Rewrite) ([]byte, int, error) {
	var out bytes.Buffer
	changed := 0

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		for _, rw := range rewrites {
			if strings.HasPrefix(line, rw.Prefix) {
				if line != rw.Line {
					changed++
				}
				line = rw.Line
				break
			}
		}
		out.WriteString(line)
		out.WriteString("\r\n")
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to scan makefile: %w", err)
	}
	return out.Bytes(), changed, nil
}
