package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// Frame delimiters shared by both framings.
const (
	FrameStart byte = 0xAA
	FrameEnd   byte = 0x55
)

// Binary frame sizes.
const (
	// commandHeaderSize covers START, ref(4), id(2), type(1), action(1), plen(2).
	commandHeaderSize = 11

	// responseHeaderSize covers START, ref(4), id(2), status(1), mlen(2).
	responseHeaderSize = 10

	// trailerSize covers checksum(2) and END.
	trailerSize = 3

	// MinCommandFrameSize is the size of a command frame with no params.
	MinCommandFrameSize = commandHeaderSize + trailerSize

	// MinResponseFrameSize is the size of a response frame with an empty
	// message and no data.
	MinResponseFrameSize = responseHeaderSize + 2 + trailerSize
)

// CommandFrame is the wire-level view of a decoded binary command.
// Only the fields the frame actually carries are present.
type CommandFrame struct {
	CommandRef   [4]byte
	DeviceNumber uint16
	DeviceType   DeviceType
	Action       Action
	Params       map[string]any
}

// Checksum16 is the binary frame checksum: the sum of every byte,
// truncated to 16 bits.
func Checksum16(b []byte) uint16 {
	var sum uint16
	for _, v := range b {
		sum += uint16(v)
	}
	return sum
}

// Encode encodes a Command into a binary frame.
//
// Known parameters are validated and brightness is clamped to [0,100]
// before serialisation.
//
// Parameters:
//   - cmd: Command to encode
//
// Returns:
//   - []byte: Complete frame including checksum and END marker
//   - error: ErrInvalidDeviceID, ErrUnknownDeviceType, ErrUnknownAction or ErrInvalidParam
func Encode(cmd Command) ([]byte, error) {
	num, err := DeviceNumber(cmd.DeviceID)
	if err != nil {
		return nil, err
	}
	typeCode, err := cmd.DeviceType.Code()
	if err != nil {
		return nil, err
	}
	actionCode, err := cmd.Action.Code()
	if err != nil {
		return nil, err
	}
	params, err := normalizeParams(cmd.Params)
	if err != nil {
		return nil, err
	}

	var paramBytes []byte
	if len(params) > 0 {
		paramBytes, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal: %w", ErrInvalidParam, err)
		}
	}
	if len(paramBytes) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: params exceed %d bytes", ErrInvalidParam, math.MaxUint16)
	}

	buf := make([]byte, commandHeaderSize+len(paramBytes)+trailerSize)
	buf[0] = FrameStart
	ref := cmd.Ref()
	copy(buf[1:5], ref[:])
	binary.BigEndian.PutUint16(buf[5:7], num)
	buf[7] = typeCode
	buf[8] = actionCode
	binary.BigEndian.PutUint16(buf[9:11], uint16(len(paramBytes))) //nolint:gosec // bounded above
	copy(buf[commandHeaderSize:], paramBytes)

	body := commandHeaderSize + len(paramBytes)
	binary.BigEndian.PutUint16(buf[body:body+2], Checksum16(buf[:body]))
	buf[body+2] = FrameEnd

	return buf, nil
}

// DecodeCommand decodes a binary command frame.
//
// Returns:
//   - CommandFrame: Fields carried by the frame
//   - error: Wraps ErrInvalidFrame on any framing or checksum violation
func DecodeCommand(b []byte) (CommandFrame, error) {
	if err := verifyEnvelope(b, MinCommandFrameSize); err != nil {
		return CommandFrame{}, err
	}

	paramLen := int(binary.BigEndian.Uint16(b[9:11]))
	if commandHeaderSize+paramLen+trailerSize != len(b) {
		return CommandFrame{}, fmt.Errorf("%w: %w: params declared %d bytes, frame has %d",
			ErrInvalidFrame, ErrLengthMismatch, paramLen, len(b)-MinCommandFrameSize)
	}

	deviceType, err := DeviceTypeFromCode(b[7])
	if err != nil {
		return CommandFrame{}, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	action, err := ActionFromCode(b[8])
	if err != nil {
		return CommandFrame{}, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}

	var params map[string]any
	if paramLen > 0 {
		if err := json.Unmarshal(b[commandHeaderSize:commandHeaderSize+paramLen], &params); err != nil {
			return CommandFrame{}, fmt.Errorf("%w: params: %w", ErrInvalidFrame, err)
		}
	}

	frame := CommandFrame{
		DeviceNumber: binary.BigEndian.Uint16(b[5:7]),
		DeviceType:   deviceType,
		Action:       action,
		Params:       params,
	}
	copy(frame.CommandRef[:], b[1:5])
	return frame, nil
}

// EncodeResponse encodes a Response into a binary frame.
func EncodeResponse(r Response) ([]byte, error) {
	status, err := r.Status.Code()
	if err != nil {
		return nil, err
	}

	var data []byte
	if len(r.Data) > 0 {
		data, err = json.Marshal(r.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal data: %w", ErrInvalidParam, err)
		}
	}
	if len(r.Message) > math.MaxUint16 || len(data) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: response field exceeds %d bytes", ErrInvalidParam, math.MaxUint16)
	}

	size := responseHeaderSize + len(r.Message) + 2 + len(data) + trailerSize
	buf := make([]byte, size)
	buf[0] = FrameStart
	copy(buf[1:5], r.CommandRef[:])
	binary.BigEndian.PutUint16(buf[5:7], r.DeviceNumber)
	buf[7] = status
	binary.BigEndian.PutUint16(buf[8:10], uint16(len(r.Message))) //nolint:gosec // bounded above
	off := responseHeaderSize
	off += copy(buf[off:], r.Message)
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(len(data))) //nolint:gosec // bounded above
	off += 2
	off += copy(buf[off:], data)
	binary.BigEndian.PutUint16(buf[off:off+2], Checksum16(buf[:off]))
	buf[off+2] = FrameEnd

	return buf, nil
}

// DecodeResponse decodes a binary response frame.
//
// The checksum is verified before any field is read. On error the returned
// Response is always the zero value.
func DecodeResponse(b []byte) (Response, error) {
	if err := verifyEnvelope(b, MinResponseFrameSize); err != nil {
		return Response{}, err
	}

	status, ok := statusFromCode(b[7])
	if !ok {
		return Response{}, fmt.Errorf("%w: unknown status code 0x%02X", ErrInvalidFrame, b[7])
	}

	bodyEnd := len(b) - trailerSize
	msgLen := int(binary.BigEndian.Uint16(b[8:10]))
	dataLenAt := responseHeaderSize + msgLen
	if dataLenAt+2 > bodyEnd {
		return Response{}, fmt.Errorf("%w: %w: message declared %d bytes", ErrInvalidFrame, ErrLengthMismatch, msgLen)
	}
	dataLen := int(binary.BigEndian.Uint16(b[dataLenAt : dataLenAt+2]))
	if dataLenAt+2+dataLen != bodyEnd {
		return Response{}, fmt.Errorf("%w: %w: data declared %d bytes", ErrInvalidFrame, ErrLengthMismatch, dataLen)
	}

	var data map[string]any
	if dataLen > 0 {
		if err := json.Unmarshal(b[dataLenAt+2:bodyEnd], &data); err != nil {
			return Response{}, fmt.Errorf("%w: data: %w", ErrInvalidFrame, err)
		}
	}

	resp := Response{
		DeviceNumber: binary.BigEndian.Uint16(b[5:7]),
		Status:       status,
		Message:      string(b[responseHeaderSize:dataLenAt]),
		Data:         data,
	}
	copy(resp.CommandRef[:], b[1:5])
	return resp, nil
}

// verifyEnvelope checks size, delimiters and the 16-bit checksum.
func verifyEnvelope(b []byte, minSize int) error {
	if len(b) < minSize {
		return fmt.Errorf("%w: %w: %d bytes, need at least %d", ErrInvalidFrame, ErrFrameTooShort, len(b), minSize)
	}
	if b[0] != FrameStart {
		return fmt.Errorf("%w: %w: start 0x%02X", ErrInvalidFrame, ErrBadDelimiter, b[0])
	}
	if b[len(b)-1] != FrameEnd {
		return fmt.Errorf("%w: %w: end 0x%02X", ErrInvalidFrame, ErrBadDelimiter, b[len(b)-1])
	}
	body := len(b) - trailerSize
	want := binary.BigEndian.Uint16(b[body : body+2])
	if got := Checksum16(b[:body]); got != want {
		return fmt.Errorf("%w: %w: computed 0x%04X, frame 0x%04X", ErrInvalidFrame, ErrChecksumMismatch, got, want)
	}
	return nil
}
