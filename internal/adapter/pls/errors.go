package pls

import "errors"

// Frame-level errors. The adapter reports them as adapter.ErrProtocol.
var (
	// ErrBadFraming is returned when STX or ETX is missing.
	ErrBadFraming = errors.New("pls: bad framing")

	// ErrChecksum is returned when the CRC does not match the frame contents.
	ErrChecksum = errors.New("pls: checksum mismatch")

	// ErrPayloadTooLarge is returned when a payload exceeds MaxPayload.
	ErrPayloadTooLarge = errors.New("pls: payload too large")

	// ErrFieldTooLong is returned when an encoded text field exceeds its limit.
	ErrFieldTooLong = errors.New("pls: field too long")

	// ErrUnexpectedResponse is returned when a response does not match its request.
	ErrUnexpectedResponse = errors.New("pls: unexpected response")

	// ErrInvalidLane is returned when a lane ID is not a number in 1-255.
	ErrInvalidLane = errors.New("pls: invalid lane")

	// ErrInvalidAmount is returned for negative or out-of-range amounts.
	ErrInvalidAmount = errors.New("pls: invalid amount")
)
