package ws

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/oesand/wsline/internal"
	"github.com/oesand/wsline/specs"
)

const (
	finBit  = 0x80
	rsv1Bit = 0x40
	rsv2Bit = 0x20
	rsv3Bit = 0x10
	maskBit = 0x80

	maxShortLength  = 125
	maxMediumLength = math.MaxUint16

	maxFrameHeaderSize = 2 + 8 + 4
)

// Frame is a single decoded frame. Payload always holds unmasked content.
type Frame struct {
	Fin    bool
	Rsv1   bool
	Rsv2   bool
	Rsv3   bool
	Opcode Opcode

	// MaskKey is meaningful only when Masked is set.
	Masked  bool
	MaskKey [4]byte

	Payload []byte
}

// Text returns the payload as a string.
func (f *Frame) Text() string {
	return string(f.Payload)
}

// Encode builds a final frame carrying payload. With useMask a fresh random
// key is generated and the payload is masked on the wire.
//
// Encoding OpClose always produces the two byte close frame 0x88 0x00,
// whatever the payload and mask flag.
func Encode(payload []byte, opcode Opcode, useMask bool) []byte {
	if opcode == OpClose {
		return []byte{finBit | byte(OpClose), 0x00}
	}
	f := &Frame{
		Fin:     true,
		Opcode:  opcode,
		Masked:  useMask,
		Payload: payload,
	}
	if useMask {
		f.MaskKey = NewMaskKey()
	}
	return EncodeFrame(f)
}

// EncodeMessage encodes msg as a text frame, except for ExitMessage
// which yields the close shortcut.
func EncodeMessage(msg string, useMask bool) []byte {
	if msg == ExitMessage {
		return Encode(nil, OpClose, false)
	}
	// the payload is copied into the frame buffer before masking
	return Encode(internal.StringToBuffer(msg), OpText, useMask)
}

// EncodeFrame encodes f exactly as given, using f.MaskKey when f.Masked is set.
func EncodeFrame(f *Frame) []byte {
	length := len(f.Payload)
	buf := appendFrameHeader(make([]byte, 0, maxFrameHeaderSize+length), f, length)

	start := len(buf)
	buf = append(buf, f.Payload...)
	if f.Masked {
		Mask(f.MaskKey, buf[start:])
	}
	return buf
}

func appendFrameHeader(buf []byte, f *Frame, length int) []byte {
	first := byte(f.Opcode & 0x0F)
	if f.Fin {
		first |= finBit
	}
	if f.Rsv1 {
		first |= rsv1Bit
	}
	if f.Rsv2 {
		first |= rsv2Bit
	}
	if f.Rsv3 {
		first |= rsv3Bit
	}
	buf = append(buf, first)

	var mask byte
	if f.Masked {
		mask = maskBit
	}

	switch {
	case length <= maxShortLength:
		buf = append(buf, byte(length)|mask)
	case length <= maxMediumLength:
		buf = append(buf, 126|mask)
		buf = binary.BigEndian.AppendUint16(buf, uint16(length))
	default:
		buf = append(buf, 127|mask)
		buf = binary.BigEndian.AppendUint64(buf, uint64(length))
	}

	if f.Masked {
		buf = append(buf, f.MaskKey[:]...)
	}
	return buf
}

// Decode parses one frame from the start of raw without a payload limit.
// See DecodeLimit.
func Decode(raw []byte) (*Frame, int, error) {
	return DecodeLimit(raw, 0)
}

// DecodeLimit parses one frame from the start of raw and reports how many
// bytes it occupied. The returned frame never aliases raw.
//
// specs.ErrIncompleteFrame means raw holds only a prefix of a frame; the
// caller should retry with more bytes. A close frame yields
// specs.ErrCloseRequested with n = 2 and its payload is never inspected.
// maxPayload of zero or less disables the size check.
func DecodeLimit(raw []byte, maxPayload int64) (*Frame, int, error) {
	if len(raw) < 2 {
		return nil, 0, specs.ErrIncompleteFrame
	}

	first, second := raw[0], raw[1]
	f := &Frame{
		Fin:    first&finBit != 0,
		Rsv1:   first&rsv1Bit != 0,
		Rsv2:   first&rsv2Bit != 0,
		Rsv3:   first&rsv3Bit != 0,
		Opcode: Opcode(first & 0x0F),
		Masked: second&maskBit != 0,
	}
	if f.Opcode == OpClose {
		return f, 2, specs.ErrCloseRequested
	}

	pos := 2
	length := uint64(second & 0x7F)
	switch length {
	case 126:
		if len(raw) < pos+2 {
			return nil, 0, specs.ErrIncompleteFrame
		}
		length = uint64(binary.BigEndian.Uint16(raw[pos:]))
		pos += 2
	case 127:
		if len(raw) < pos+8 {
			return nil, 0, specs.ErrIncompleteFrame
		}
		length = binary.BigEndian.Uint64(raw[pos:])
		pos += 8
		if length > math.MaxInt64 {
			return nil, 0, fmt.Errorf("%w: payload length has the most significant bit set", specs.ErrProtocol)
		}
	}

	if maxPayload > 0 && length > uint64(maxPayload) {
		return nil, 0, fmt.Errorf("%w: frame payload of %d bytes exceeds %d", specs.ErrTooLarge, length, maxPayload)
	}

	if f.Masked {
		if len(raw) < pos+4 {
			return nil, 0, specs.ErrIncompleteFrame
		}
		copy(f.MaskKey[:], raw[pos:pos+4])
		pos += 4
	}

	if uint64(len(raw)-pos) < length {
		return nil, 0, specs.ErrIncompleteFrame
	}
	end := pos + int(length)

	f.Payload = make([]byte, length)
	copy(f.Payload, raw[pos:end])
	if f.Masked {
		Mask(f.MaskKey, f.Payload)
	}

	if f.Opcode == OpText && !utf8.Valid(f.Payload) {
		return nil, 0, specs.ErrInvalidEncoding
	}
	return f, end, nil
}
