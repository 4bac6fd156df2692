// Package audio handles audio normalization and kiosk capture
package audio

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"time"
)

// Capability describes the external converter, probed once at startup and
// immutable afterwards. Tests inject either state directly.
type Capability struct {
	Available bool
	Path      string
}

// Probe checks whether the external converter can run. The result is cached
// by the caller for the process lifetime.
func Probe(path string) Capability {
	if path == "" {
		path = "ffmpeg"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		slog.Info("audio converter not found, normalization degrades to passthrough", "path", path)
		return Capability{}
	}
	if err := exec.Command(resolved, "-version").Run(); err != nil {
		slog.Info("audio converter present but not runnable", "path", resolved, "error", err)
		return Capability{}
	}
	slog.Info("audio converter available", "path", resolved)
	return Capability{Available: true, Path: resolved}
}

// Normalizer converts arbitrary-format audio into canonical mono 16kHz WAV.
// Conversion is best-effort: any failure degrades to passthrough, never to
// an error. Downstream transcription accepts non-normalized bytes.
type Normalizer struct {
	caps       Capability
	sampleRate int
	timeout    time.Duration
}

// NewNormalizer creates a normalizer with the given converter capability.
func NewNormalizer(caps Capability, sampleRate int, timeout time.Duration) *Normalizer {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Normalizer{caps: caps, sampleRate: sampleRate, timeout: timeout}
}

// Normalize transcodes raw audio to canonical WAV. The second return value
// reports whether the external converter actually ran. A failed invocation
// falls through to passthrough for this call only; the cached capability is
// never flipped by a single bad input.
func (n *Normalizer) Normalize(ctx context.Context, raw []byte, sourceHint string) ([]byte, bool) {
	if !n.caps.Available || len(raw) == 0 {
		return raw, false
	}
	if IsWAV(raw) {
		// Already in container format; converter adds nothing but latency.
		return raw, false
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	args := []string{"-hide_banner", "-loglevel", "error"}
	if sourceHint != "" {
		args = append(args, "-f", sourceHint)
	}
	args = append(args,
		"-i", "pipe:0",
		"-ac", "1",
		"-ar", strconv.Itoa(n.sampleRate),
		"-f", "wav",
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx, n.caps.Path, args...)
	cmd.Stdin = bytes.NewReader(raw)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		slog.Warn("audio conversion failed, using raw bytes",
			"error", err, "stderr", errBuf.String(), "input_bytes", len(raw))
		return raw, false
	}
	if out.Len() == 0 {
		slog.Warn("audio conversion produced no output, using raw bytes", "input_bytes", len(raw))
		return raw, false
	}
	return out.Bytes(), true
}

// Available reports whether the external converter was probed as usable.
func (n *Normalizer) Available() bool { return n.caps.Available }
