package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Hex-string frame markers.
const (
	hexSingle     = "AA"
	hexBatch      = "BB"
	hexStatus     = "CC"
	hexTerminator = "55"

	// statusQueryBody is the fixed status query frame without its checksum.
	statusQueryBody = "CC000000000055"

	// singleFrameLen is AA + id(4) + cmd(2) + param(2) + 55 + sum(2).
	singleFrameLen = 14

	// minHexFrameLen is a batch for one device: BB + id(4) + cmd(2) + 55 + sum(2).
	minHexFrameLen = 12
)

// HexFrameKind distinguishes the three hex-string frame shapes.
type HexFrameKind string

// HexFrameKind constants.
const (
	HexFrameSingle HexFrameKind = "single"
	HexFrameBatch  HexFrameKind = "batch"
	HexFrameStatus HexFrameKind = "status"
)

// HexFrame is a parsed hex-string frame.
type HexFrame struct {
	Kind          HexFrameKind
	DeviceNumbers []uint16
	Action        Action
	Param         byte
}

// HexChecksum returns the hex-string checksum of s: the sum of the ASCII
// values of its characters mod 256, as two upper-case hex digits.
// This is not interchangeable with Checksum16.
func HexChecksum(s string) string {
	var sum byte
	for i := range len(s) {
		sum += s[i]
	}
	return fmt.Sprintf("%02X", sum)
}

// EncodeHex builds the single-device hex-string frame for cmd.
//
// Lighting TurnOn carries the brightness (default 100) as its parameter
// byte; every other combination sends 00.
//
// Parameters:
//   - cmd: Command to encode
//
// Returns:
//   - string: Upper-case hex frame with trailing checksum
//   - error: ErrInvalidDeviceID, ErrUnknownAction or ErrInvalidParam
func EncodeHex(cmd Command) (string, error) {
	num, err := DeviceNumber(cmd.DeviceID)
	if err != nil {
		return "", err
	}
	code, err := cmd.Action.Code()
	if err != nil {
		return "", err
	}

	var param byte
	if cmd.DeviceType == DeviceTypeLighting && cmd.Action == ActionTurnOn {
		level, err := brightnessOf(cmd.Params)
		if err != nil {
			return "", err
		}
		param = byte(level) //nolint:gosec // clamped to [0,100]
	}

	body := fmt.Sprintf("%s%04X%02X%02X%s", hexSingle, num, code, param, hexTerminator)
	return body + HexChecksum(body), nil
}

// EncodeBatchHex builds one hex-string frame addressing every listed device.
func EncodeBatchHex(deviceIDs []string, action Action) (string, error) {
	if len(deviceIDs) == 0 {
		return "", ErrEmptyBatch
	}
	code, err := action.Code()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(hexBatch)
	for _, id := range deviceIDs {
		num, err := DeviceNumber(id)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%04X", num)
	}
	fmt.Fprintf(&b, "%02X%s", code, hexTerminator)

	body := b.String()
	return body + HexChecksum(body), nil
}

// StatusQueryHex returns the fixed status query frame.
func StatusQueryHex() string {
	return statusQueryBody + HexChecksum(statusQueryBody)
}

// NormalizeHex strips spaces and 0x prefixes and upper-cases s.
func NormalizeHex(s string) string {
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "0x", "")
	s = strings.ReplaceAll(s, "0X", "")
	return strings.ToUpper(s)
}

// HexToBytes converts a hex string to raw bytes.
// Spaces and 0x prefixes are ignored; odd lengths and non-hex characters fail.
func HexToBytes(s string) ([]byte, error) {
	norm := NormalizeHex(s)
	if norm == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidHex)
	}
	if len(norm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd length %d", ErrInvalidHex, len(norm))
	}
	b, err := hex.DecodeString(norm)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHex, err)
	}
	return b, nil
}

// BytesToHex renders bytes as an upper-case hex string.
func BytesToHex(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// ParseHexFrame verifies and parses a hex-string frame.
//
// The trailing checksum is checked before the frame body is interpreted.
func ParseHexFrame(s string) (HexFrame, error) {
	norm := NormalizeHex(s)
	if len(norm) < minHexFrameLen {
		return HexFrame{}, fmt.Errorf("%w: %w: %d chars", ErrInvalidFrame, ErrFrameTooShort, len(norm))
	}

	body, sum := norm[:len(norm)-2], norm[len(norm)-2:]
	if got := HexChecksum(body); got != sum {
		return HexFrame{}, fmt.Errorf("%w: %w: computed %s, frame %s", ErrInvalidFrame, ErrChecksumMismatch, got, sum)
	}
	if !strings.HasSuffix(body, hexTerminator) {
		return HexFrame{}, fmt.Errorf("%w: %w: missing terminator", ErrInvalidFrame, ErrBadDelimiter)
	}
	if _, err := hex.DecodeString(body); err != nil {
		return HexFrame{}, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}

	switch body[:2] {
	case hexSingle:
		return parseSingleHex(body)
	case hexBatch:
		return parseBatchHex(body)
	case hexStatus:
		if body != statusQueryBody {
			return HexFrame{}, fmt.Errorf("%w: %w: status frame %s", ErrInvalidFrame, ErrLengthMismatch, body)
		}
		return HexFrame{Kind: HexFrameStatus, Action: ActionStatusQuery}, nil
	default:
		return HexFrame{}, fmt.Errorf("%w: %w: start %s", ErrInvalidFrame, ErrBadDelimiter, body[:2])
	}
}

// VerifyHexFrame reports whether s is a well-formed hex-string frame with a
// matching checksum.
func VerifyHexFrame(s string) error {
	_, err := ParseHexFrame(s)
	return err
}

// ParseHexFrameBytes parses raw bytes that carry a hex-string frame.
func ParseHexFrameBytes(b []byte) (HexFrame, error) {
	return ParseHexFrame(BytesToHex(b))
}

func parseSingleHex(body string) (HexFrame, error) {
	if len(body) != singleFrameLen-2 {
		return HexFrame{}, fmt.Errorf("%w: %w: single frame is %d chars", ErrInvalidFrame, ErrLengthMismatch, len(body))
	}
	raw, _ := hex.DecodeString(body[2:10])
	action, err := ActionFromCode(raw[2])
	if err != nil {
		return HexFrame{}, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	return HexFrame{
		Kind:          HexFrameSingle,
		DeviceNumbers: []uint16{uint16(raw[0])<<8 | uint16(raw[1])},
		Action:        action,
		Param:         raw[3],
	}, nil
}

func parseBatchHex(body string) (HexFrame, error) {
	// BB + ids + cmd(2) + 55
	ids := body[2 : len(body)-4]
	if len(ids) == 0 || len(ids)%4 != 0 {
		return HexFrame{}, fmt.Errorf("%w: %w: batch id block is %d chars", ErrInvalidFrame, ErrLengthMismatch, len(ids))
	}
	raw, _ := hex.DecodeString(ids)
	nums := make([]uint16, 0, len(raw)/2)
	for i := 0; i < len(raw); i += 2 {
		nums = append(nums, uint16(raw[i])<<8|uint16(raw[i+1]))
	}
	codeRaw, _ := hex.DecodeString(body[len(body)-4 : len(body)-2])
	action, err := ActionFromCode(codeRaw[0])
	if err != nil {
		return HexFrame{}, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	return HexFrame{Kind: HexFrameBatch, DeviceNumbers: nums, Action: action}, nil
}
