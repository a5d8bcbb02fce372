package pls

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sigurn/crc16"
)

const (
	stx byte = 0x02
	etx byte = 0x03

	// headerSize covers cmd, lane and the two length bytes.
	headerSize = 4

	// trailerSize covers the CRC and ETX.
	trailerSize = 3

	// MaxPayload is the largest payload a controller accepts.
	MaxPayload = 1024

	responseFlag byte = 0x80
)

// Command identifies a PLS request.
type Command byte

// PLS commands.
const (
	CmdPing           Command = 0x01
	CmdOpenGate       Command = 0x10
	CmdCloseGate      Command = 0x11
	CmdDisplay        Command = 0x20
	CmdPaymentInfo    Command = 0x30
	CmdPaymentRequest Command = 0x31
	CmdPaymentCancel  Command = 0x32
)

// Response returns the command code a controller answers cmd with.
func (c Command) Response() Command {
	return c | Command(responseFlag)
}

// IsResponse reports whether the response flag is set.
func (c Command) IsResponse() bool {
	return byte(c)&responseFlag != 0
}

// ResultCode is the first payload byte of every response.
type ResultCode byte

// Result codes returned by PLS controllers.
const (
	ResultOK          ResultCode = 0x00
	ResultBusy        ResultCode = 0x01
	ResultUnknownLane ResultCode = 0x02
	ResultUnsupported ResultCode = 0x03
	ResultRejected    ResultCode = 0x04
)

func (r ResultCode) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultBusy:
		return "busy"
	case ResultUnknownLane:
		return "unknown lane"
	case ResultUnsupported:
		return "unsupported"
	case ResultRejected:
		return "rejected"
	default:
		return fmt.Sprintf("result 0x%02X", byte(r))
	}
}

var modbusTable = crc16.MakeTable(crc16.CRC16_MODBUS)

func checksum(data []byte) uint16 {
	return crc16.Checksum(data, modbusTable)
}

// Frame is one PLS message.
type Frame struct {
	Cmd     Command
	Lane    byte
	Payload []byte
}

// Encode serialises the frame including STX, checksum and ETX.
func (f Frame) Encode() ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(f.Payload))
	}

	buf := make([]byte, 1+headerSize, 1+headerSize+len(f.Payload)+trailerSize)
	buf[0] = stx
	buf[1] = byte(f.Cmd)
	buf[2] = f.Lane
	binary.BigEndian.PutUint16(buf[3:], uint16(len(f.Payload)))
	buf = append(buf, f.Payload...)

	sum := checksum(buf[1:])
	buf = binary.LittleEndian.AppendUint16(buf, sum)
	buf = append(buf, etx)
	return buf, nil
}

// Result returns the result code of a response frame.
func (f Frame) Result() (ResultCode, error) {
	if len(f.Payload) == 0 {
		return 0, fmt.Errorf("%w: empty response payload", ErrUnexpectedResponse)
	}
	return ResultCode(f.Payload[0]), nil
}

// ReadFrame reads exactly one frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	head := make([]byte, 1+headerSize)
	if _, err := io.ReadFull(r, head); err != nil {
		return Frame{}, fmt.Errorf("reading header: %w", err)
	}
	if head[0] != stx {
		return Frame{}, fmt.Errorf("%w: leading byte 0x%02X", ErrBadFraming, head[0])
	}

	n := int(binary.BigEndian.Uint16(head[3:]))
	if n > MaxPayload {
		return Frame{}, fmt.Errorf("%w: declared %d bytes", ErrPayloadTooLarge, n)
	}

	rest := make([]byte, n+trailerSize)
	if _, err := io.ReadFull(r, rest); err != nil {
		return Frame{}, fmt.Errorf("reading body: %w", err)
	}
	if rest[n+2] != etx {
		return Frame{}, fmt.Errorf("%w: trailing byte 0x%02X", ErrBadFraming, rest[n+2])
	}

	payload := rest[:n]
	want := binary.LittleEndian.Uint16(rest[n:])
	got := checksum(append(append(make([]byte, 0, headerSize+n), head[1:]...), payload...))
	if got != want {
		return Frame{}, fmt.Errorf("%w: got 0x%04X, frame says 0x%04X", ErrChecksum, got, want)
	}

	return Frame{Cmd: Command(head[1]), Lane: head[2], Payload: payload}, nil
}
