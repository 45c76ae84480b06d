package ws

import "strconv"

// Opcode is the 4-bit frame type tag.
type Opcode uint8

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// IsControl reports whether op is a control frame type (close, ping, pong).
func (op Opcode) IsControl() bool {
	return op&0x8 != 0
}

// IsData reports whether op carries application data.
func (op Opcode) IsData() bool {
	return op == OpText || op == OpBinary
}

// IsValid reports whether op is one of the defined opcodes.
// The reserved values 0x3-0x7 and 0xB-0xF are invalid.
func (op Opcode) IsValid() bool {
	switch op {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	}
	return false
}

func (op Opcode) String() string {
	switch op {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	}
	return "opcode(" + strconv.Itoa(int(op)) + ")"
}
