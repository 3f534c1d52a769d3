package transform

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alzaio/anyvideodownload/internal/core/cancel"
)

func TestBuildOutputPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/tmp/job/video.mkv", "/tmp/job/video_compressed.mp4"},
		{"/tmp/job/video.mp4", "/tmp/job/video_compressed.mp4"},
		{"/tmp/job/noext", "/tmp/job/noext_compressed.mp4"},
	}
	for _, tt := range tests {
		if got := buildOutputPath(tt.in); got != tt.want {
			t.Errorf("buildOutputPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestArgsAreDeterministic(t *testing.T) {
	f := NewFFmpeg(Config{})
	args := f.args("in.mp4", "out.mp4")

	joined := strings.Join(args, " ")
	for _, want := range []string{"-vcodec libx264", "-crf 35", "-preset ultrafast", "-b:a 64k", "-movflags +faststart", "-pix_fmt yuv420p"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %v", want, args)
		}
	}
	if args[len(args)-1] != "out.mp4" {
		t.Errorf("output path must be the final argument: %v", args)
	}
}

func TestCompressMissingInput(t *testing.T) {
	f := NewFFmpeg(Config{})
	if _, err := f.Compress(context.Background(), "/does/not/exist.mp4", &cancel.Token{}); err == nil {
		t.Error("missing input must be an error")
	}
}

func TestCompressFallsBackWhenTranscoderMissing(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "video.mp4")
	if err := os.WriteFile(input, make([]byte, 1024), 0o644); err != nil {
		t.Fatal(err)
	}

	f := NewFFmpeg(Config{Binary: "definitely-not-a-transcoder", Timeout: time.Second})
	out, err := f.Compress(context.Background(), input, &cancel.Token{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != input {
		t.Errorf("should fall back to the original, got %q", out)
	}
	if _, err := os.Stat(input); err != nil {
		t.Error("original must survive the fallback")
	}
}

func TestConfigDefaults(t *testing.T) {
	f := NewFFmpeg(Config{})
	if f.cfg.Timeout != 10*time.Minute {
		t.Errorf("default timeout = %v", f.cfg.Timeout)
	}
	if f.cfg.PollInterval != time.Second {
		t.Errorf("default poll interval = %v", f.cfg.PollInterval)
	}
}
