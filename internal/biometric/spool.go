package biometric

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ballotdesk/pkg/platform/sentinel"
)

// SpoolExt is the extension of capture files picked up by SpoolDevice.
const SpoolExt = ".fpc"

// SpoolDevice reads captures that a reader daemon drops into a directory. Each
// file holds one quality byte followed by the raw sample; files are consumed
// in name order and removed once read.
type SpoolDevice struct {
	dir   string
	every time.Duration
	log   zerolog.Logger

	mu     sync.Mutex
	open   bool
	cancel context.CancelFunc
}

// NewSpoolDevice returns a device polling dir every interval.
func NewSpoolDevice(dir string, every time.Duration, log zerolog.Logger) *SpoolDevice {
	if every <= 0 {
		every = 200 * time.Millisecond
	}
	return &SpoolDevice{dir: dir, every: every, log: log.With().Str("component", "spool_device").Logger()}
}

func (d *SpoolDevice) Open(_ context.Context, priority Priority) error {
	info, err := os.Stat(d.dir)
	if err != nil {
		return fmt.Errorf("%w: open spool %s: %w", sentinel.ErrDevice, d.dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: spool %s is not a directory", sentinel.ErrDevice, d.dir)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	d.log.Debug().Int("priority", int(priority)).Msg("reader opened")
	return nil
}

func (d *SpoolDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.open = false
	return nil
}

func (d *SpoolDevice) Capture(ctx context.Context) (<-chan CaptureEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil, ErrNotOpen
	}
	if d.cancel != nil {
		d.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	events := make(chan CaptureEvent)
	go d.poll(ctx, events)
	return events, nil
}

func (d *SpoolDevice) poll(ctx context.Context, events chan<- CaptureEvent) {
	defer close(events)
	ticker := time.NewTicker(d.every)
	defer ticker.Stop()

	for {
		for _, ev := range d.drain() {
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *SpoolDevice) drain() []CaptureEvent {
	paths, err := filepath.Glob(filepath.Join(d.dir, "*"+SpoolExt))
	if err != nil {
		return []CaptureEvent{{Err: fmt.Errorf("%w: list spool: %w", sentinel.ErrDevice, err)}}
	}
	slices.Sort(paths)

	out := make([]CaptureEvent, 0, len(paths))
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			out = append(out, CaptureEvent{Err: fmt.Errorf("%w: read %s: %w", sentinel.ErrDevice, filepath.Base(p), err)})
			continue
		}
		if err := os.Remove(p); err != nil {
			d.log.Warn().Err(err).Str("file", filepath.Base(p)).Msg("could not remove consumed capture")
		}
		if len(raw) == 0 {
			continue
		}
		out = append(out, CaptureEvent{Sample: Sample{Quality: Quality(raw[0]), Data: raw[1:]}})
	}
	return out
}

// WriteSpoolFile drops a capture into dir in the format SpoolDevice reads.
func WriteSpoolFile(dir, name string, s Sample) error {
	buf := make([]byte, 0, len(s.Data)+1)
	buf = append(buf, byte(s.Quality))
	buf = append(buf, s.Data...)
	tmp := filepath.Join(dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, buf, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, name+SpoolExt))
}
