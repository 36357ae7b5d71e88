package abi

import "strconv"

// StatusCode is the integer status channel of the engine ABI.
type StatusCode int32

const (
	StatusOK StatusCode = iota
	StatusInvalidPosition
	StatusUnsupportedRule
	StatusOutOfContract
	StatusBufferTooSmall
	StatusInvalidState
	StatusCanceled
)

var statusNames = [...]string{
	StatusOK:              "ok",
	StatusInvalidPosition: "invalid_position",
	StatusUnsupportedRule: "unsupported_rule",
	StatusOutOfContract:   "out_of_contract",
	StatusBufferTooSmall:  "buffer_too_small",
	StatusInvalidState:    "invalid_state",
	StatusCanceled:        "canceled",
}

func (c StatusCode) String() string {
	if c >= 0 && int(c) < len(statusNames) {
		return statusNames[c]
	}
	return "status(" + strconv.Itoa(int(c)) + ")"
}

// Normalize maps a raw return value to a StatusCode by magnitude. Unknown
// magnitudes become StatusInvalidState.
func Normalize(raw int32) StatusCode {
	v := int64(raw)
	if v < 0 {
		v = -v
	}
	if v < int64(len(statusNames)) {
		return StatusCode(v)
	}
	return StatusInvalidState
}
