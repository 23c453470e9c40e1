package source

// TerminalError ends a subscription or trigger. Code is the stable
// machine-readable reason delivered on the wire; Message is for humans.
type TerminalError struct {
	Code    string
	Message string
}

// Error returns the human-readable message.
func (e *TerminalError) Error() string {
	return e.Message
}

var (
	// ErrUpstreamResync terminates subscribers after the upstream session
	// was rebuilt; their snapshot is no longer a prefix of the new stream,
	// so they must re-subscribe for a fresh one.
	ErrUpstreamResync = &TerminalError{
		Code:    "UPSTREAM_RESYNC",
		Message: "upstream session restarted; re-subscribe for a fresh snapshot",
	}

	// ErrSubscriberLagged terminates a subscriber whose queue overflowed.
	// Events are never dropped for a live subscriber; the subscriber is.
	ErrSubscriberLagged = &TerminalError{
		Code:    "SUBSCRIBER_LAGGED",
		Message: "subscriber fell behind and was dropped",
	}

	// ErrSourceShutdown terminates all subscribers of a source that is
	// shutting down or has failed permanently.
	ErrSourceShutdown = &TerminalError{
		Code:    "SOURCE_SHUTDOWN",
		Message: "source is shutting down",
	}

	// ErrTriggerOverflow disposes a trigger whose webhook sink cannot keep
	// up; the source itself is unaffected.
	ErrTriggerOverflow = &TerminalError{
		Code:    "TRIGGER_OVERFLOW",
		Message: "trigger webhook queue overflowed; trigger disposed",
	}
)
