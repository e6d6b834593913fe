// Package syncerr defines the failure taxonomy shared by the transports,
// the communication channel and the sync engine.
package syncerr

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied means the platform refused access to the radio. Not retryable.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrTransportUnavailable means the radio or link is disabled. Not retryable.
	ErrTransportUnavailable = errors.New("transport unavailable")
	// ErrDiscoveryFailure is a failed discovery request. Retried up to a fixed bound.
	ErrDiscoveryFailure = errors.New("discovery failed")
	// ErrConnectionFailure is a failed connection attempt.
	ErrConnectionFailure = errors.New("connection failed")
	// ErrFraming is a broken stream or an undecodable frame. Fatal to the session.
	ErrFraming = errors.New("framing failure")
	// ErrApplication is an explicit error sent by the peer.
	ErrApplication = errors.New("peer error")

	ErrTimeout          = errors.New("timed out")
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
	ErrSessionActive    = errors.New("sync already active for folder")
	ErrClosed           = errors.New("closed")
)

// Retryable reports whether err may be retried locally. Only discovery
// failures are, and never when they carry a permission or radio condition.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrTransportUnavailable) {
		return false
	}
	return errors.Is(err, ErrDiscoveryFailure)
}

// Discovery wraps err as a discovery failure.
func Discovery(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDiscoveryFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDiscoveryFailure, err)
}

// Connection wraps err as a connection failure.
func Connection(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConnectionFailure) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrConnectionFailure, ErrTimeout)
	}
	return fmt.Errorf("%w: %w", ErrConnectionFailure, err)
}

// Framing wraps err as a framing failure.
func Framing(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrFraming) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrFraming, err)
}

// Status renders err as the human readable status line shown to users.
func Status(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "Permission denied"
	case errors.Is(err, ErrTransportUnavailable):
		return "Transport unavailable"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "Timed out: " + err.Error()
	case errors.Is(err, ErrAlreadyConnected):
		return "Already connected, disconnect first"
	case errors.Is(err, ErrDiscoveryFailure):
		return "Discovery failed: " + err.Error()
	case errors.Is(err, ErrConnectionFailure):
		return "Connection failed: " + err.Error()
	case errors.Is(err, ErrFraming):
		return "Connection lost: " + err.Error()
	case errors.Is(err, ErrApplication):
		return "Peer error: " + err.Error()
	default:
		return "Error: " + err.Error()
	}
}
