package tobiimvp

import "github.com/lzukanovic/tobii-mvp/internal/acquisition"

// Re-exported state machine errors so embedders can match on them.
var (
	ErrAlreadyConnected = acquisition.ErrAlreadyConnected
	ErrNotConnected     = acquisition.ErrNotConnected
	ErrAlreadyStreaming = acquisition.ErrAlreadyStreaming
	ErrNotStreaming     = acquisition.ErrNotStreaming
)

// ProtocolError wraps a failed device protocol call.
type ProtocolError = acquisition.ProtocolError
