package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"soundnerd/internal/logging"
)

// ProbeResult holds container-level metadata read without decoding audio.
type ProbeResult struct {
	DurationSec float64
	SampleRate  int
	Channels    int
	// EmbeddedBPM is the tempo stored in the container's metadata tags
	// (TBPM / BPM), or 0 when absent or unparseable.
	EmbeddedBPM float64
}

// Prober reads container metadata via ffprobe's JSON output.
type Prober struct {
	binary  string
	timeout time.Duration
}

// NewProber creates a prober using the given ffprobe binary.
func NewProber(binary string, timeout time.Duration) *Prober {
	return &Prober{binary: binary, timeout: timeout}
}

// ffprobe's JSON schema quotes numbers as strings.
type ffprobeOutput struct {
	Streams []struct {
		CodecType  string            `json:"codec_type"`
		SampleRate string            `json:"sample_rate"`
		Channels   int               `json:"channels"`
		Tags       map[string]string `json:"tags"`
	} `json:"streams"`
	Format struct {
		Duration string            `json:"duration"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
}

// Probe runs ffprobe against path and parses its JSON report.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "error",
		"-show_format",
		"-show_streams",
		"-of", "json",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("probe timed out: %w", ctx.Err())
		}
		return nil, fmt.Errorf("ffprobe failed for %s: %v: %s", path, err, truncate(stderr.String(), 300))
	}

	var out ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output for %s: %w", path, err)
	}

	res := &ProbeResult{}
	if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
		res.DurationSec = d
	}

	for _, s := range out.Streams {
		if s.CodecType != "audio" {
			continue
		}
		if sr, err := strconv.Atoi(s.SampleRate); err == nil {
			res.SampleRate = sr
		}
		res.Channels = s.Channels
		if bpm := tagBPM(s.Tags); bpm > 0 {
			res.EmbeddedBPM = bpm
		}
		break
	}

	if bpm := tagBPM(out.Format.Tags); bpm > 0 {
		res.EmbeddedBPM = bpm
	}

	logging.ProbeDebug("probed %s: dur=%.2fs sr=%d ch=%d bpm=%.1f",
		path, res.DurationSec, res.SampleRate, res.Channels, res.EmbeddedBPM)
	return res, nil
}

// tagBPM extracts a positive tempo from metadata tags. Tag keys vary in
// case between containers.
func tagBPM(tags map[string]string) float64 {
	for k, v := range tags {
		switch strings.ToUpper(k) {
		case "TBPM", "BPM":
			bpm, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err == nil && bpm > 0 && bpm < 1000 {
				return bpm
			}
		}
	}
	return 0
}
