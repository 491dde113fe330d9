package mdc

import (
	"fmt"
	"io"
)

// Frame constants.
const (
	frameHeader   byte = 0xAA
	responseCode  byte = 0xFF
	ackByte       byte = 'A'
	nakByte       byte = 'N'
	maxDataLength      = 255

	// BroadcastID addresses every display on an RS-232 daisy chain.
	BroadcastID byte = 0xFE
)

// Command identifies an MDC command.
type Command byte

// Commands used by the bridge.
const (
	CmdStatus      Command = 0x00
	CmdPower       Command = 0x11
	CmdVolume      Command = 0x12
	CmdMute        Command = 0x13
	CmdInputSource Command = 0x14
	CmdSerialNum   Command = 0x0B
	CmdModelName   Command = 0x8A
)

// String returns the command name used in logs and errors.
func (c Command) String() string {
	switch c {
	case CmdStatus:
		return "status"
	case CmdPower:
		return "power"
	case CmdVolume:
		return "volume"
	case CmdMute:
		return "mute"
	case CmdInputSource:
		return "input_source"
	case CmdSerialNum:
		return "serial_number"
	case CmdModelName:
		return "model_name"
	default:
		return fmt.Sprintf("0x%02X", byte(c))
	}
}

// PowerState is the MDC power value.
type PowerState byte

// Power states. Reboot is reported while the display restarts.
const (
	PowerOff    PowerState = 0x00
	PowerOn     PowerState = 0x01
	PowerReboot PowerState = 0x02
)

// String returns a lowercase name for the power state.
func (p PowerState) String() string {
	switch p {
	case PowerOff:
		return "off"
	case PowerOn:
		return "on"
	case PowerReboot:
		return "reboot"
	default:
		return fmt.Sprintf("unknown(0x%02X)", byte(p))
	}
}

// Valid reports whether p is a known power state.
func (p PowerState) Valid() bool {
	return p <= PowerReboot
}

// Status is the decoded reply to CmdStatus.
type Status struct {
	Power  PowerState
	Volume int
	Muted  bool
	Input  InputSource
	Aspect byte
	// NTimeNF and FTimeNF are the on/off timer flags; not used by the bridge.
	NTimeNF byte
	FTimeNF byte
}

// checksum returns the low byte of the sum of b.
func checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

// encodeFrame builds a request frame.
func encodeFrame(cmd Command, id byte, data []byte) ([]byte, error) {
	if len(data) > maxDataLength {
		return nil, fmt.Errorf("%w: data length %d", ErrInvalidValue, len(data))
	}

	frame := make([]byte, 0, 5+len(data))
	frame = append(frame, frameHeader, byte(cmd), id, byte(len(data)))
	frame = append(frame, data...)
	frame = append(frame, checksum(frame[1:]))
	return frame, nil
}

// response is a decoded reply frame.
type response struct {
	id     byte
	ack    bool
	cmd    Command
	values []byte
}

// readResponse reads one reply frame from r. Bytes before the header are
// discarded; some serial adapters emit line noise after open.
func readResponse(r io.Reader) (*response, error) {
	one := make([]byte, 1)
	for {
		if _, err := io.ReadFull(r, one); err != nil {
			return nil, err
		}
		if one[0] == frameHeader {
			break
		}
	}

	head := make([]byte, 3)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, err
	}
	if head[0] != responseCode {
		return nil, fmt.Errorf("%w: response code 0x%02X", ErrResponse, head[0])
	}

	length := int(head[2])
	body := make([]byte, length+1)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	data, sum := body[:length], body[length]
	if want := checksum(append(head, data...)); sum != want {
		return nil, fmt.Errorf("%w: checksum 0x%02X, want 0x%02X", ErrResponse, sum, want)
	}
	if length < 2 {
		return nil, fmt.Errorf("%w: data length %d", ErrResponse, length)
	}

	resp := &response{
		id:     head[1],
		cmd:    Command(data[1]),
		values: data[2:],
	}
	switch data[0] {
	case ackByte:
		resp.ack = true
	case nakByte:
		resp.ack = false
	default:
		return nil, fmt.Errorf("%w: ack byte 0x%02X", ErrResponse, data[0])
	}
	return resp, nil
}

// decodeStatus parses the values of a CmdStatus reply.
func decodeStatus(values []byte) (Status, error) {
	if len(values) < 4 {
		return Status{}, fmt.Errorf("%w: status has %d values", ErrResponse, len(values))
	}

	power := PowerState(values[0])
	if !power.Valid() {
		return Status{}, fmt.Errorf("%w: power state 0x%02X", ErrResponse, values[0])
	}
	if values[1] > 100 {
		return Status{}, fmt.Errorf("%w: volume %d", ErrResponse, values[1])
	}
	input := InputSource(values[3])
	if !input.Valid() {
		return Status{}, fmt.Errorf("%w: input source 0x%02X", ErrResponse, values[3])
	}

	st := Status{
		Power:  power,
		Volume: int(values[1]),
		Muted:  values[2] == 0x01,
		Input:  input,
	}
	if len(values) >= 7 {
		st.Aspect = values[4]
		st.NTimeNF = values[5]
		st.FTimeNF = values[6]
	}
	return st, nil
}
