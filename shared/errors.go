package shared

import (
	"errors"
	"fmt"
)

var (
	ErrNoLogger              = errors.New("no logger provided")
	ErrNoConfig              = errors.New("no config provided")
	ErrNoAPIKey              = errors.New("no API key provided")
	ErrNoStore               = errors.New("no store provided")
	ErrClientNotInitialized  = errors.New("client not initialized")
	ErrSessionAlreadyRunning = errors.New("session already running")
	ErrSessionClosed         = errors.New("session closed")
	ErrSetupTimeout          = errors.New("timed out waiting for setup completion")
	ErrNotPlaying            = errors.New("trial is not in progress")
	ErrUnknownCommand        = errors.New("unknown command")
	ErrInsufficientXP        = errors.New("not enough experience points")
	ErrAlreadyUnlocked       = errors.New("ability already unlocked")
)

// PermissionDeniedError reports that a capture device could not be opened.
// It degrades the live session and is never fatal to the trial.
type PermissionDeniedError struct {
	Device string
	Err    error
}

func (e *PermissionDeniedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("permission denied: %s", e.Device)
	}
	return fmt.Sprintf("permission denied: %s: %v", e.Device, e.Err)
}

func (e *PermissionDeniedError) Unwrap() error { return e.Err }

// TransportError wraps a failure to set up or use the live connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding binary payload: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type MalformedAudioError struct {
	Length   int
	Channels int
}

func (e *MalformedAudioError) Error() string {
	return fmt.Sprintf("malformed pcm16 payload: %d bytes for %d channel(s)", e.Length, e.Channels)
}

// JudgmentServiceError is logged when a turn judgment call fails and the
// safe default judgment is substituted.
type JudgmentServiceError struct {
	Provider string
	Err      error
}

func (e *JudgmentServiceError) Error() string {
	return fmt.Sprintf("judgment service %s: %v", e.Provider, e.Err)
}

func (e *JudgmentServiceError) Unwrap() error { return e.Err }
