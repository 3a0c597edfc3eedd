package dispatch

import "errors"

// Error taxonomy for the dispatch layer. None of these propagate to
// callers of GetCompletion, which always terminates in a returned
// string; they exist for logging, metrics labels, and tests.
var (
	// ErrConfiguration marks a request with no persona name. Fatal to
	// the single request, not the process.
	ErrConfiguration = errors.New("missing persona name")

	// ErrValidation marks empty message content, recovered by
	// substituting a default prompt.
	ErrValidation = errors.New("empty message content")

	// ErrProvider marks a network/auth/provider failure, recovered
	// into the suppression sentinel plus a blackout registration.
	ErrProvider = errors.New("provider call failed")

	// ErrClassified marks a provider success whose content looks like
	// a leaked internal error, recovered into a fallback string plus a
	// blackout registration.
	ErrClassified = errors.New("provider output classified as error")
)

// Replies returned to callers. SuppressedSentinel is the only value a
// caller must special-case: it means "display nothing to the user."
const (
	// ConfigErrorReply is returned when no persona name was supplied.
	ConfigErrorReply = "Sorry, I'm not set up correctly for that conversation. Please tell an admin."

	// SuppressedSentinel means a hard provider failure already in
	// blackout-worthy territory; callers must not show it to users.
	SuppressedSentinel = "[[chorus:suppressed]]"
)
