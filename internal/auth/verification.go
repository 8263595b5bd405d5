package auth

import (
	"context"
	"sync"
)

// Callback receives the result of a background verification. name and surname
// are empty unless matched.
type Callback interface {
	OnVerificationComplete(matched bool, name, surname string)
}

// CallbackFunc adapts a function to Callback.
type CallbackFunc func(matched bool, name, surname string)

func (f CallbackFunc) OnVerificationComplete(matched bool, name, surname string) {
	f(matched, name, surname)
}

// Verification is a handle on a verification running in the background.
type Verification struct {
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	result Result
	err    error
}

// Cancel stops the verification. Its callback will not fire.
func (v *Verification) Cancel() {
	v.cancel()
}

// Done is closed once the verification has finished and the reader is released.
func (v *Verification) Done() <-chan struct{} {
	return v.done
}

// Result is valid after Done is closed.
func (v *Verification) Result() (Result, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.result, v.err
}

// StartVerification runs Verify on the worker pool. Starting a new
// verification cancels the previous one; a superseded or cancelled
// verification never reaches its callback.
func (a *Authenticator) StartVerification(ctx context.Context, cb Callback) (*Verification, error) {
	vctx, cancel := context.WithCancel(ctx)
	v := &Verification{cancel: cancel, done: make(chan struct{})}

	a.genMu.Lock()
	a.gen++
	v.gen = a.gen
	prev := a.active
	a.active = v
	a.genMu.Unlock()

	if prev != nil {
		prev.Cancel()
	}

	err := a.pool.Submit("admin_verification", func(poolCtx context.Context) {
		defer close(v.done)
		defer cancel()
		stop := context.AfterFunc(poolCtx, cancel)
		defer stop()

		res, err := a.Verify(vctx)

		v.mu.Lock()
		v.result, v.err = res, err
		v.mu.Unlock()

		if !a.current(v) || vctx.Err() != nil {
			a.log.Debug().Uint64("generation", v.gen).Msg("verification result discarded")
			return
		}
		if cb != nil {
			cb.OnVerificationComplete(res.Matched, res.Admin.Name, res.Admin.Surname)
		}
	})
	if err != nil {
		cancel()
		close(v.done)
		return nil, err
	}
	return v, nil
}

func (a *Authenticator) current(v *Verification) bool {
	a.genMu.Lock()
	defer a.genMu.Unlock()
	return a.gen == v.gen
}
