package analysis

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"strings"
)

// The extractor speaks one JSON object per line on both the worker and the
// one-shot path. LineDecoder is the single framing abstraction shared by
// both: buffer until newline, then parse, with one malformed-line error path.

// maxLineBytes bounds a single protocol line. Embedding payloads can get
// large but anything past this is a runaway process, not a result.
const maxLineBytes = 16 * 1024 * 1024

// LineDecoder reads newline-delimited JSON objects from a stream.
type LineDecoder struct {
	scanner *bufio.Scanner
}

// NewLineDecoder wraps r in a line decoder.
func NewLineDecoder(r io.Reader) *LineDecoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &LineDecoder{scanner: s}
}

// Next returns the next non-blank line, or io.EOF when the stream ends.
func (d *LineDecoder) Next() ([]byte, error) {
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		return line, nil
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// DecodeLine parses one protocol line into v. A parse failure is a
// ProtocolError, the one malformed-line error path.
func DecodeLine(line []byte, v interface{}) error {
	if err := json.Unmarshal(line, v); err != nil {
		return &ProtocolError{Line: string(line), Err: err}
	}
	return nil
}

// bannerPrefixes are known noisy framework banners the native stack prints
// on startup. They are dropped before output is surfaced in diagnostics.
var bannerPrefixes = []string{
	"TensorFlow",
	"I tensorflow/",
	"W tensorflow/",
	"Using TensorFlow backend",
	"[   INFO   ]",
	"[ WARNING ]",
	"Essentia",
	"MonoLoader:",
	"AudioLoader:",
	"UserWarning:",
	"warnings.warn",
	"libpng warning",
	"mpg123:",
}

// isBannerLine reports whether a line is known framework noise.
func isBannerLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true
	}
	for _, p := range bannerPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}

// FilterBanners removes known noisy framework banners from process output,
// keeping only lines worth surfacing in diagnostics.
func FilterBanners(output string) string {
	var kept []string
	for _, line := range strings.Split(output, "\n") {
		if !isBannerLine(line) {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// ExtractJSONObject finds the single JSON object in one-shot stdout,
// skipping ignorable banner lines that may precede it. Returns nil when no
// object line parses.
func ExtractJSONObject(stdout string) json.RawMessage {
	for _, line := range strings.Split(stdout, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "{") {
			continue
		}
		var probe map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &probe); err == nil {
			return json.RawMessage(trimmed)
		}
	}
	return nil
}
