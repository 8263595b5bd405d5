package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ballotdesk/internal/biometric"
)

// Enroller captures a fingerprint template for registering a voter or an
// administrator.
type Enroller struct {
	device      biometric.Device
	matcher     biometric.Matcher
	joinTimeout time.Duration
	log         zerolog.Logger
}

func NewEnroller(device biometric.Device, matcher biometric.Matcher, log zerolog.Logger) *Enroller {
	return &Enroller{
		device:      device,
		matcher:     matcher,
		joinTimeout: DefaultJoinTimeout,
		log:         log.With().Str("component", "enroller").Logger(),
	}
}

// Enroll returns the template of the first good-quality sample.
func (e *Enroller) Enroll(ctx context.Context) (_ []byte, err error) {
	sess, err := openCapture(ctx, e.device, e.joinTimeout, e.log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := sess.close(); cerr != nil {
			e.log.Warn().Err(cerr).Msg("reader cleanup failed")
		}
	}()

	sample, err := sess.next(ctx)
	if err != nil {
		return nil, err
	}
	tmpl, err := e.matcher.Template(sample)
	if err != nil {
		return nil, fmt.Errorf("template sample: %w", err)
	}
	return tmpl, nil
}
