package main

import (
	"context"
	"time"

	"ballotdesk/internal/auth"
	"ballotdesk/internal/console"
)

// boundedVerifier caps how long an operator has to present a finger.
type boundedVerifier struct {
	auth  *auth.Authenticator
	limit time.Duration
}

func (v boundedVerifier) Verify(ctx context.Context) (auth.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, v.limit)
	defer cancel()
	return v.auth.Verify(ctx)
}

type boundedEnroller struct {
	enroller *auth.Enroller
	limit    time.Duration
}

func (e boundedEnroller) Enroll(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.limit)
	defer cancel()
	return e.enroller.Enroll(ctx)
}

var (
	_ console.Verifier = boundedVerifier{}
	_ console.Enroller = boundedEnroller{}
)
