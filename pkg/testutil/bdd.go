// Package testutil holds helpers shared by package tests: sqlite fixtures,
// HTTP request builders and Given/When/Then subtests.
package testutil

import "testing"

// Given opens a scenario. Nest When and Then inside it so `go test -v` prints
// the scenario as one sentence per path.
func Given(t *testing.T, precondition string, body func(t *testing.T)) {
	t.Helper()
	step(t, "Given", precondition, body)
}

// When names the action under test.
func When(t *testing.T, action string, body func(t *testing.T)) {
	t.Helper()
	step(t, "When", action, body)
}

// Then names the expected outcome.
func Then(t *testing.T, outcome string, body func(t *testing.T)) {
	t.Helper()
	step(t, "Then", outcome, body)
}

func step(t *testing.T, keyword, text string, body func(t *testing.T)) {
	t.Helper()
	t.Run(keyword+" "+text, body)
}
