// Package notify turns pipeline events into status messages pushed back to
// the requester over the chat transport. Delivery is decoupled from the
// workers through a bounded queue so a slow transport can never stall a
// download.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alzaio/anyvideodownload/internal/core/event"
	"github.com/alzaio/anyvideodownload/internal/format"
	"github.com/alzaio/anyvideodownload/internal/transport"
)

const sendTimeout = 30 * time.Second

type message struct {
	dest     string
	text     string
	terminal bool
}

// Dispatcher consumes job events and sends rendered status text. Progress
// messages are dropped when the queue is full; terminal messages always
// queue, blocking the publisher if necessary.
type Dispatcher struct {
	transport transport.Transport
	queue     chan message
	stop      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewDispatcher(t transport.Transport, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	return &Dispatcher{
		transport: t,
		queue:     make(chan message, buffer),
		stop:      make(chan struct{}),
	}
}

// Attach subscribes the dispatcher to every job event type and starts the
// send loop. The returned function unsubscribes; call Close afterwards to
// drain the queue.
func (d *Dispatcher) Attach(bus event.Bus) (detach func()) {
	d.startOnce.Do(func() {
		d.wg.Add(1)
		go d.loop()
	})

	var unsubs []func()
	for _, t := range []event.EventType{
		event.EventJobQueued,
		event.EventJobStarted,
		event.EventJobProgress,
		event.EventJobCompleted,
		event.EventJobFailed,
		event.EventJobCancelled,
	} {
		unsubs = append(unsubs, bus.Subscribe(t, d.handle))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Close stops the send loop after draining already queued messages.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() { close(d.stop) })
	d.wg.Wait()
}

func (d *Dispatcher) handle(ctx context.Context, e event.Event) error {
	payload, ok := e.Payload.(event.JobEvent)
	if !ok {
		return fmt.Errorf("notify: unexpected payload %T", e.Payload)
	}
	text := Render(e.Type, payload)
	if text == "" {
		return nil
	}
	d.push(message{
		dest:     payload.RequesterKey,
		text:     text,
		terminal: terminal(e.Type),
	})
	return nil
}

func (d *Dispatcher) push(msg message) {
	if msg.terminal {
		select {
		case d.queue <- msg:
		case <-d.stop:
		}
		return
	}
	select {
	case d.queue <- msg:
	default:
		// Progress text is disposable; the next tick replaces it.
	}
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for {
		select {
		case msg := <-d.queue:
			d.send(msg)
		case <-d.stop:
			for {
				select {
				case msg := <-d.queue:
					d.send(msg)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) send(msg message) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := d.transport.SendText(ctx, msg.dest, msg.text); err != nil {
		log.Warn().Err(err).Str("dest", msg.dest).Msg("status message not delivered")
	}
}

func terminal(t event.EventType) bool {
	switch t {
	case event.EventJobCompleted, event.EventJobFailed, event.EventJobCancelled:
		return true
	}
	return false
}

// Render produces the chat text for a job event. Returns "" for events that
// should stay silent.
func Render(t event.EventType, e event.JobEvent) string {
	switch t {
	case event.EventJobQueued:
		if e.Position > 0 {
			return fmt.Sprintf("⏳ Queued at position %d. Your download starts automatically.", e.Position)
		}
		return "🔍 Processing your request..."
	case event.EventJobStarted:
		return ""
	case event.EventJobProgress:
		return fmt.Sprintf("%s %s", phaseLabel(e.Phase), format.Progress(e.Done, e.Total))
	case event.EventJobCompleted:
		if e.Title != "" {
			return fmt.Sprintf("✅ Sent %s (%s).", e.Title, format.Bytes(e.Delivered))
		}
		return fmt.Sprintf("✅ Done (%s).", format.Bytes(e.Delivered))
	case event.EventJobFailed:
		return "❌ " + e.Error
	case event.EventJobCancelled:
		return "🚫 Download cancelled."
	}
	return ""
}

func phaseLabel(phase string) string {
	switch phase {
	case "retrieve":
		return "📥 Downloading"
	case "transform":
		return "🎞 Compressing"
	case "deliver":
		return "📤 Uploading"
	}
	return "⏳ Working"
}
