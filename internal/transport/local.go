package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

const copyChunkSize = 1 << 20 // 1 MiB

// Local delivers files into a per-destination directory on the local
// filesystem and logs status text. It is the default transport for
// self-hosted deployments without a chat network attached, and exercises
// the full chunked-upload path including progress callbacks.
type Local struct {
	baseDir string
}

func NewLocal(baseDir string) (*Local, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create delivery dir: %w", err)
	}
	return &Local{baseDir: baseDir}, nil
}

func (l *Local) Name() string { return "local" }

func (l *Local) SendFile(ctx context.Context, dest, path, caption string, progress ProgressFunc) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer src.Close()

	stat, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat artifact: %w", err)
	}
	total := stat.Size()

	destDir := filepath.Join(l.baseDir, dest)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}
	destPath := filepath.Join(destDir, filepath.Base(path))

	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create destination file: %w", err)
	}
	defer dst.Close()

	buf := make([]byte, copyChunkSize)
	var sent int64
	for {
		if err := ctx.Err(); err != nil {
			_ = os.Remove(destPath)
			return err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				_ = os.Remove(destPath)
				return fmt.Errorf("write chunk: %w", writeErr)
			}
			sent += int64(n)
			if progress != nil {
				progress(sent, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = os.Remove(destPath)
			return fmt.Errorf("read chunk: %w", readErr)
		}
	}

	log.Info().
		Str("dest", dest).
		Str("file", destPath).
		Str("caption", caption).
		Int64("bytes", sent).
		Msg("file delivered")
	return nil
}

func (l *Local) SendText(_ context.Context, dest, text string) error {
	log.Info().Str("dest", dest).Msg(text)
	return nil
}
