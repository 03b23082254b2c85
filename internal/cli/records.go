package cli

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/hupe1980/vecswitch/codec"
)

// record is one JSON line of build input.
type record struct {
	ID        int64     `json:"id"`
	Vector    []float32 `json:"vector"`
	Partition string    `json:"partition,omitempty"`
}

const maxLineBytes = 64 << 20

// expandInputs resolves glob patterns to a sorted, deduplicated file list.
func expandInputs(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string

	for _, p := range patterns {
		matches, err := doublestar.FilepathGlob(p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}

	sort.Strings(files)
	return files, nil
}

func readRecordFiles(files []string) ([]record, error) {
	var records []record
	for _, name := range files {
		f, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		rs, err := readRecords(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		records = append(records, rs...)
	}
	return records, nil
}

// readRecords decodes JSON lines, skipping blank ones.
func readRecords(r io.Reader) ([]record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		records []record
		line    int
	)
	for scanner.Scan() {
		line++
		b := bytes.TrimSpace(scanner.Bytes())
		if len(b) == 0 {
			continue
		}

		var rec record
		if err := codec.Default.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec.Vector) == 0 {
			return nil, fmt.Errorf("line %d: empty vector", line)
		}
		records = append(records, rec)
	}

	return records, scanner.Err()
}

// parseVector parses a comma separated list of floats.
func parseVector(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	v := make([]float32, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		f, err := strconv.ParseFloat(p, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		v = append(v, float32(f))
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("empty vector")
	}
	return v, nil
}
