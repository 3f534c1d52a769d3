// Package transform wraps the external transcoder behind a uniform interface
// with timeout and cancellation support. Compression is best-effort: a failed
// or unprofitable transcode falls back to the original file.
package transform

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alzaio/anyvideodownload/internal/core/cancel"
	"github.com/alzaio/anyvideodownload/internal/core/job"
)

const compressedSuffix = "_compressed"

// Compressor shrinks a video artifact in place. The returned path is either
// a new, strictly smaller file (the input is deleted) or the input itself.
type Compressor interface {
	Compress(ctx context.Context, inputPath string, tok *cancel.Token) (string, error)
}

type Config struct {
	Binary       string
	Timeout      time.Duration
	PollInterval time.Duration
	CRF          string
	Preset       string
	AudioBitrate string
}

// FFmpeg runs the transcoder as a child process with a fixed argument set.
// The tool has no cooperative cancellation, so the adapter polls liveness
// and kills the process on cancel or timeout.
type FFmpeg struct {
	cfg Config
}

func NewFFmpeg(cfg Config) *FFmpeg {
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.CRF == "" {
		cfg.CRF = "35"
	}
	if cfg.Preset == "" {
		cfg.Preset = "ultrafast"
	}
	if cfg.AudioBitrate == "" {
		cfg.AudioBitrate = "64k"
	}
	return &FFmpeg{cfg: cfg}
}

func (f *FFmpeg) Compress(ctx context.Context, inputPath string, tok *cancel.Token) (string, error) {
	inputInfo, err := os.Stat(inputPath)
	if err != nil {
		return "", fmt.Errorf("stat input: %w", err)
	}
	inputSize := inputInfo.Size()

	binary, err := exec.LookPath(f.cfg.Binary)
	if err != nil {
		// No transcoder installed: deliver the original.
		log.Warn().Str("binary", f.cfg.Binary).Msg("transcoder not found, skipping compression")
		return inputPath, nil
	}

	outputPath := buildOutputPath(inputPath)
	cmd := exec.Command(binary, f.args(inputPath, outputPath)...)

	if err := cmd.Start(); err != nil {
		return inputPath, nil
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	deadline := time.NewTimer(f.cfg.Timeout)
	defer deadline.Stop()
	poll := time.NewTicker(f.cfg.PollInterval)
	defer poll.Stop()

	var waitErr error
loop:
	for {
		select {
		case waitErr = <-done:
			break loop
		case <-poll.C:
			if tok.Cancelled() || ctx.Err() != nil {
				kill(cmd, done)
				_ = os.Remove(outputPath)
				return "", job.ErrCancelled
			}
		case <-deadline.C:
			kill(cmd, done)
			_ = os.Remove(outputPath)
			log.Warn().Str("input", inputPath).Dur("timeout", f.cfg.Timeout).
				Msg("transcode timed out, keeping original")
			return inputPath, job.ErrTransformTimeout
		}
	}

	// Exit code says the process ran; the file comparison decides which
	// artifact to keep.
	outInfo, statErr := os.Stat(outputPath)
	if waitErr != nil || statErr != nil || outInfo.Size() == 0 || outInfo.Size() >= inputSize {
		_ = os.Remove(outputPath)
		if waitErr != nil {
			log.Warn().Err(waitErr).Str("input", inputPath).Msg("transcode failed, keeping original")
		}
		return inputPath, nil
	}

	if err := os.Remove(inputPath); err != nil {
		log.Warn().Err(err).Str("input", inputPath).Msg("failed to remove original after compression")
	}
	log.Info().
		Str("output", outputPath).
		Int64("before", inputSize).
		Int64("after", outInfo.Size()).
		Msg("compression succeeded")
	return outputPath, nil
}

func (f *FFmpeg) args(inputPath, outputPath string) []string {
	return []string{
		"-i", inputPath,
		"-vcodec", "libx264",
		"-preset", f.cfg.Preset,
		"-crf", f.cfg.CRF,
		"-pix_fmt", "yuv420p",
		"-acodec", "aac",
		"-b:a", f.cfg.AudioBitrate,
		"-movflags", "+faststart",
		"-y", outputPath,
	}
}

func kill(cmd *exec.Cmd, done chan error) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	<-done // reap
}

func buildOutputPath(inputPath string) string {
	if idx := strings.LastIndex(inputPath, "."); idx > 0 {
		return inputPath[:idx] + compressedSuffix + ".mp4"
	}
	return inputPath + compressedSuffix + ".mp4"
}
