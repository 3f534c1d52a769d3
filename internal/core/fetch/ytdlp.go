package fetch

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alzaio/anyvideodownload/internal/core/cancel"
	"github.com/alzaio/anyvideodownload/internal/core/job"
	"github.com/alzaio/anyvideodownload/internal/core/retry"
)

// partialSuffixes mark in-flight temp files the tool leaves behind while
// downloading or merging.
var partialSuffixes = []string{".part", ".ytdl", ".temp", ".tmp"}

type Config struct {
	Binary           string
	DownloadDir      string
	CookieFile       string
	MaxBytes         int64
	ProgressInterval time.Duration
	Retry            retry.Policy
}

// YtDlp retrieves media by invoking the yt-dlp binary as a child process.
// Progress lines on stdout drive the caller's sink; cancellation and the
// byte ceiling are enforced by killing the child mid-download.
type YtDlp struct {
	cfg Config
}

func NewYtDlp(cfg Config) (*YtDlp, error) {
	if cfg.Binary == "" {
		cfg.Binary = "yt-dlp"
	}
	if _, err := exec.LookPath(cfg.Binary); err != nil {
		return nil, fmt.Errorf("extraction binary not found: %w", err)
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 4 * time.Second
	}
	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	return &YtDlp{cfg: cfg}, nil
}

func (y *YtDlp) Fetch(ctx context.Context, req Request, progress ProgressFunc, tok *cancel.Token) (Result, error) {
	if err := validateSource(req.URL); err != nil {
		return Result{}, err
	}

	jobDir := filepath.Join(y.cfg.DownloadDir, req.JobID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create job dir: %w", err)
	}

	var res Result
	err := y.cfg.Retry.Do(ctx, func() error {
		r, err := y.runOnce(ctx, req, jobDir, progress, tok)
		if err != nil {
			return err
		}
		res = r
		return nil
	}, func(err error) bool {
		// Only opaque tool failures are worth another try.
		return errors.Is(err, job.ErrUnknown)
	})
	return res, err
}

func (y *YtDlp) runOnce(ctx context.Context, req Request, jobDir string, progress ProgressFunc, tok *cancel.Token) (Result, error) {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	args := y.buildArgs(req, jobDir)
	cmd := exec.CommandContext(runCtx, y.cfg.Binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start %s: %w", y.cfg.Binary, err)
	}

	var (
		acc       accumulator
		lastEmit  time.Time
		lastError string
		cancelled bool
		tooLarge  bool
	)

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		log.Trace().Str("tool", line).Msg("extractor output")

		// Re-check cancellation on every callback from the tool; killing the
		// child is the only way to unwind its download loop.
		if !cancelled && tok.Cancelled() {
			cancelled = true
			stop()
			continue
		}

		done, total, ok := parseProgressLine(line)
		if !ok {
			if strings.HasPrefix(line, "ERROR:") {
				lastError = strings.TrimPrefix(line, "ERROR: ")
			}
			continue
		}

		cumDone, cumTotal := acc.update(done, total)
		if !tooLarge && y.cfg.MaxBytes > 0 && cumDone > y.cfg.MaxBytes {
			tooLarge = true
			stop()
			continue
		}

		// Throttled to respect the downstream transport's rate limits.
		if progress != nil && time.Since(lastEmit) >= y.cfg.ProgressInterval {
			lastEmit = time.Now()
			progress(cumDone, cumTotal)
		}
	}

	waitErr := cmd.Wait()

	switch {
	case cancelled:
		return Result{}, job.ErrCancelled
	case tooLarge:
		return Result{}, fmt.Errorf("%w: download exceeded %d bytes", job.ErrTooLarge, y.cfg.MaxBytes)
	case ctx.Err() != nil:
		return Result{}, job.ErrCancelled
	case waitErr != nil:
		if lastError != "" {
			return Result{}, fmt.Errorf("%w: %s", normalizeError(lastError), lastError)
		}
		return Result{}, fmt.Errorf("%w: %v", job.ErrUnknown, waitErr)
	}

	// Resolve the produced file: the tool may merge, rename or post-process,
	// so the requested output template is never trusted verbatim.
	path, size, err := resolveArtifact(jobDir, req.Mode)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", job.ErrUnknown, err)
	}

	if progress != nil {
		progress(size, size)
	}

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Result{Path: path, Title: title, Size: size}, nil
}

func (y *YtDlp) buildArgs(req Request, jobDir string) []string {
	args := []string{
		"--no-warnings",
		"--newline",
		"--no-playlist",
		"--restrict-filenames",
		"--progress",
		"--progress-template", progressTemplate,
		"-o", filepath.Join(jobDir, "%(title)s.%(ext)s"),
	}

	if y.cfg.CookieFile != "" {
		if _, err := os.Stat(y.cfg.CookieFile); err == nil {
			args = append(args, "--cookies", y.cfg.CookieFile)
		}
	}

	if req.Mode == job.ModeAudio {
		args = append(args,
			"-f", "bestaudio/best",
			"-x", "--audio-format", "mp3", "--audio-quality", "192K",
		)
	} else {
		args = append(args, "-f", formatSelector(req.Quality), "--merge-output-format", "mp4")
	}

	return append(args, req.URL)
}

// formatSelector builds the tool's format expression for a quality ceiling.
func formatSelector(q job.Quality) string {
	h := q.Height()
	if h == 0 {
		return "bestvideo+bestaudio/best"
	}
	return fmt.Sprintf("bestvideo[height<=%d]+bestaudio/best[height<=%d]/best", h, h)
}

// resolveArtifact picks the final output file out of the job directory,
// ignoring leftover partial files. Audio mode prefers the extracted .mp3
// over any intermediate container.
func resolveArtifact(jobDir string, mode job.Mode) (string, int64, error) {
	entries, err := os.ReadDir(jobDir)
	if err != nil {
		return "", 0, err
	}

	var best string
	var bestSize int64
	for _, e := range entries {
		if e.IsDir() || isPartial(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(jobDir, e.Name())
		if mode == job.ModeAudio && strings.EqualFold(filepath.Ext(e.Name()), ".mp3") {
			return path, info.Size(), nil
		}
		if info.Size() > bestSize {
			best, bestSize = path, info.Size()
		}
	}
	if best == "" {
		return "", 0, errors.New("no output file produced")
	}
	return best, bestSize, nil
}

func isPartial(name string) bool {
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func validateSource(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%w: %q", job.ErrInvalidSource, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", job.ErrInvalidSource, u.Scheme)
	}
	return nil
}

// probeJSON is the subset of the tool's --dump-json output the probe needs.
type probeJSON struct {
	Title          string  `json:"title"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox float64 `json:"filesize_approx"`
}

// Probe extracts metadata without downloading.
func (y *YtDlp) Probe(ctx context.Context, rawURL string) (Info, error) {
	if err := validateSource(rawURL); err != nil {
		return Info{}, err
	}

	args := []string{"--dump-json", "--no-warnings", "--no-download", "--no-playlist"}
	if y.cfg.CookieFile != "" {
		if _, err := os.Stat(y.cfg.CookieFile); err == nil {
			args = append(args, "--cookies", y.cfg.CookieFile)
		}
	}
	args = append(args, rawURL)

	out, err := exec.CommandContext(ctx, y.cfg.Binary, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			msg := strings.TrimSpace(string(exitErr.Stderr))
			return Info{}, fmt.Errorf("%w: %s", normalizeError(msg), msg)
		}
		return Info{}, fmt.Errorf("%w: %v", job.ErrUnknown, err)
	}

	var info probeJSON
	if err := json.Unmarshal(out, &info); err != nil {
		return Info{}, fmt.Errorf("%w: parse metadata: %v", job.ErrUnknown, err)
	}

	size := info.Filesize
	if size == 0 {
		size = int64(info.FilesizeApprox)
	}
	return Info{Title: info.Title, Size: size}, nil
}
