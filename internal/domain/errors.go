package domain

import (
	"errors"
	"fmt"
)

// Transport errors.
var (
	ErrEmptyToken         = errors.New("empty credential")
	ErrConnectionTimeout  = errors.New("connection handshake timed out")
	ErrConnectionRejected = errors.New("connection rejected")
	ErrConnectionLost     = errors.New("connection lost")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrConnectInProgress  = errors.New("another connect is in progress")
	ErrConnectAborted     = errors.New("connect aborted")
	ErrNotConnected       = errors.New("not connected")
)

// Local media errors. Each drives a different remedy, keep them apart.
var (
	ErrPermissionDenied  = errors.New("media permission denied")
	ErrDeviceNotFound    = errors.New("media device not found")
	ErrDeviceUnavailable = errors.New("media device unavailable")
)

// Room errors.
var (
	ErrRoomJoinRejected = errors.New("room join rejected")
	ErrJoinInProgress   = errors.New("join already in progress")
	ErrJoinSuperseded   = errors.New("join superseded")
	ErrNotInRoom        = errors.New("not in room")
	ErrEmptyContent     = errors.New("empty content")
)

var ErrPeerNegotiationFailed = errors.New("peer negotiation failed")

// AckError is a negative server acknowledgement.
type AckError struct {
	Event   string
	Code    string
	Message string
}

func (e *AckError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s rejected: %s", e.Event, e.Code)
	}
	return fmt.Sprintf("%s rejected: %s (%s)", e.Event, e.Code, e.Message)
}

// PeerError is reported per participant and never tears down the room.
type PeerError struct {
	Participant UserID
	Err         error
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("peer %s: %v", e.Participant, e.Err)
}

func (e *PeerError) Unwrap() error { return e.Err }
