package ipc

import "errors"

var (
	// ErrChannelCreationFailed is returned when the producer cannot create
	// the named region, e.g. because the name is taken.
	ErrChannelCreationFailed = errors.New("ipc: channel creation failed")

	// ErrChannelNotFound is returned when a consumer opens a region the
	// producer has not created (or not finished initialising) yet.
	ErrChannelNotFound = errors.New("ipc: channel not found")

	ErrChannelCorrupt   = errors.New("ipc: channel corrupt")
	ErrChannelFull      = errors.New("ipc: channel full")
	ErrMessageTooLarge  = errors.New("ipc: message larger than channel capacity")
	ErrUnknownTag       = errors.New("ipc: unknown message tag")
	ErrPayloadSize      = errors.New("ipc: payload size does not match tag")
	ErrWrongEnd         = errors.New("ipc: operation not allowed on this end of the channel")
	ErrHandshakeTimeout = errors.New("ipc: timed out waiting for message")
	ErrClosed           = errors.New("ipc: channel closed")
)
