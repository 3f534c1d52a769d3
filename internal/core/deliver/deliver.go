// Package deliver wraps the chat transport's upload primitive with ceiling
// pre-checks, throttled progress forwarding and best-effort cancellation.
package deliver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alzaio/anyvideodownload/internal/core/cancel"
	"github.com/alzaio/anyvideodownload/internal/core/job"
	"github.com/alzaio/anyvideodownload/internal/transport"
)

const pollInterval = 500 * time.Millisecond

// abortGrace bounds how long Deliver waits for a transport to honour an
// abort before abandoning the upload goroutine. Variable so tests can
// shorten it.
var abortGrace = 5 * time.Second

// ProgressFunc mirrors the transport callback: (bytesSent, bytesTotal).
type ProgressFunc func(sent, total int64)

type Adapter struct {
	transport transport.Transport
	maxBytes  int64
	interval  time.Duration
}

// New wraps a transport. maxBytes is the hard delivery ceiling; interval
// throttles progress callbacks forwarded to the sink.
func New(t transport.Transport, maxBytes int64, interval time.Duration) *Adapter {
	if interval <= 0 {
		interval = 4 * time.Second
	}
	return &Adapter{transport: t, maxBytes: maxBytes, interval: interval}
}

// Deliver uploads the artifact and returns the bytes delivered. The ceiling
// is checked before any transport call. Cancellation is best-effort: the
// transport may not honour an abort instantly, so after a grace period the
// adapter stops waiting and lets the caller proceed to cleanup.
func (a *Adapter) Deliver(ctx context.Context, dest, path, caption string, progress ProgressFunc, tok *cancel.Token) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("%w: stat artifact: %v", job.ErrDeliveryFailed, err)
	}
	size := info.Size()
	if a.maxBytes > 0 && size > a.maxBytes {
		return 0, fmt.Errorf("%w: %d bytes over the %d byte transport ceiling", job.ErrTooLarge, size, a.maxBytes)
	}

	sendCtx, stop := context.WithCancel(ctx)
	defer stop()

	// An abandoned upload goroutine may keep calling the transport callback
	// after Deliver has returned; the sink must not see those calls.
	var finished atomic.Bool
	defer finished.Store(true)

	var lastEmit time.Time
	forward := func(sent, total int64) {
		if progress == nil || finished.Load() {
			return
		}
		if sent == total || time.Since(lastEmit) >= a.interval {
			lastEmit = time.Now()
			progress(sent, total)
		}
	}

	result := make(chan error, 1)
	go func() {
		result <- a.transport.SendFile(sendCtx, dest, path, caption, forward)
	}()

	poll := time.NewTicker(pollInterval)
	defer poll.Stop()

	for {
		select {
		case err := <-result:
			if err != nil {
				if tok.Cancelled() || errors.Is(err, context.Canceled) {
					return 0, job.ErrCancelled
				}
				return 0, fmt.Errorf("%w: %v", job.ErrDeliveryFailed, err)
			}
			return size, nil
		case <-poll.C:
			if tok.Cancelled() || ctx.Err() != nil {
				stop()
				select {
				case <-result:
				case <-time.After(abortGrace):
					log.Warn().Str("dest", dest).Msg("transport did not honour abort, proceeding to cleanup")
				}
				return 0, job.ErrCancelled
			}
		}
	}
}
