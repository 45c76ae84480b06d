package ws

const (
	// ExitMessage is the outgoing text that EncodeMessage turns into a close frame.
	ExitMessage = "exit"

	// SupportedVersion is the only Sec-WebSocket-Version accepted.
	SupportedVersion = "13"

	acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

	challengeKeySize = 16

	DefaultMaxPayloadSize   int64 = 32 << 20 // 32MB
	DefaultMaxHandshakeSize       = 8 * 1024
)
