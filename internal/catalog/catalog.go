// Package catalog contains the descriptor output sinks and the JSONL
// codec they share. One descriptor per line keeps the output streamable
// and diff-friendly; downstream glossary builds consume it with any JSONL
// reader.
package catalog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/urban-physiology/glossarizer/internal/glossary"
)

// maxLineBytes bounds a single descriptor line. Raw platform blobs ride
// along inside descriptors, so lines can get big.
const maxLineBytes = 16 << 20

// EncodeLine renders one descriptor as a single newline-terminated JSON
// line.
func EncodeLine(res glossary.Resource) ([]byte, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode descriptor %s/%s: %w", res.Portal, res.ID, err)
	}
	return append(data, '\n'), nil
}

// DecodeLines parses a JSONL descriptor stream. Blank lines are skipped;
// a malformed line fails the whole decode with its line number.
func DecodeLines(r io.Reader) ([]glossary.Resource, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var out []glossary.Resource
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var res glossary.Resource
		if err := json.Unmarshal(text, &res); err != nil {
			return nil, fmt.Errorf("decode descriptor line %d: %w", line, err)
		}
		out = append(out, res)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read descriptor stream: %w", err)
	}
	return out, nil
}
