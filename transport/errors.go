package transport

import "github.com/pkg/errors"

// Error kinds the core reports (spec.md §7). Corrupt, Unknown,
// OutOfWindow, and ProtocolViolation are handled silently by the
// dispatcher/receiver: the segment is dropped. Only Corrupt is counted
// (Stats.ChecksumErrors, when the conn_id names a known connection);
// out-of-window, unknown-connection and colliding-SYN drops have no
// counter. WouldBlock, Timeout, and ConnectionAborted are returned to
// the API caller.
var (
	ErrCorrupt            = errors.New("transport: corrupt segment")
	ErrUnknownConnection  = errors.New("transport: unknown connection")
	ErrOutOfWindow        = errors.New("transport: segment outside receive window")
	ErrWouldBlock         = errors.New("transport: send window full")
	ErrTimeout            = errors.New("transport: operation timed out")
	ErrConnectionAborted  = errors.New("transport: connection aborted")
	ErrProtocolViolation  = errors.New("transport: protocol violation")
	ErrPayloadTooLarge    = errors.New("transport: payload exceeds max segment size")
	ErrEndpointClosed     = errors.New("transport: endpoint closed")
	ErrConnectionNotReady = errors.New("transport: connection not established")
)
