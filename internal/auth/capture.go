package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ballotdesk/internal/biometric"
	"ballotdesk/pkg/platform/sentinel"
)

// DefaultJoinTimeout bounds how long cleanup waits for the capture stream to end.
const DefaultJoinTimeout = time.Second

// captureSession owns one open reader and its capture stream.
type captureSession struct {
	device biometric.Device
	events <-chan biometric.CaptureEvent
	cancel context.CancelFunc
	join   time.Duration
	log    zerolog.Logger

	once     sync.Once
	closeErr error
}

// openCapture opens the reader cooperatively and starts streaming. On open
// failure the device is not closed; nothing was acquired.
func openCapture(ctx context.Context, device biometric.Device, join time.Duration, log zerolog.Logger) (*captureSession, error) {
	if err := device.Open(ctx, biometric.PriorityCooperative); err != nil {
		return nil, fmt.Errorf("%w: open reader: %w", sentinel.ErrDevice, err)
	}

	captureCtx, cancel := context.WithCancel(ctx)
	s := &captureSession{device: device, cancel: cancel, join: join, log: log}

	events, err := device.Capture(captureCtx)
	if err != nil {
		_ = s.close()
		return nil, fmt.Errorf("%w: start capture: %w", sentinel.ErrDevice, err)
	}
	s.events = events
	return s, nil
}

// next blocks until a good-quality sample arrives. Poor, partial and fake
// finger samples are skipped.
func (s *captureSession) next(ctx context.Context) (biometric.Sample, error) {
	for {
		select {
		case <-ctx.Done():
			return biometric.Sample{}, ctx.Err()
		case ev, ok := <-s.events:
			if !ok {
				if err := ctx.Err(); err != nil {
					return biometric.Sample{}, err
				}
				return biometric.Sample{}, fmt.Errorf("%w: capture stream ended", sentinel.ErrDevice)
			}
			if ev.Err != nil {
				return biometric.Sample{}, fmt.Errorf("%w: capture: %w", sentinel.ErrDevice, ev.Err)
			}
			if ev.Sample.Quality != biometric.QualityGood {
				s.log.Debug().Str("quality", ev.Sample.Quality.String()).Msg("sample ignored")
				continue
			}
			return ev.Sample, nil
		}
	}
}

// close cancels capture, waits up to the join bound for the stream to end and
// closes the reader. Only the first call does any work.
func (s *captureSession) close() error {
	s.once.Do(func() {
		s.cancel()
		if s.events != nil {
			s.drain()
		}
		if err := s.device.Close(); err != nil {
			s.closeErr = fmt.Errorf("%w: close reader: %w", sentinel.ErrDevice, err)
		}
	})
	return s.closeErr
}

func (s *captureSession) drain() {
	timer := time.NewTimer(s.join)
	defer timer.Stop()
	for {
		select {
		case _, ok := <-s.events:
			if !ok {
				return
			}
		case <-timer.C:
			s.log.Warn().Dur("join_timeout", s.join).Msg("capture did not stop in time")
			return
		}
	}
}
