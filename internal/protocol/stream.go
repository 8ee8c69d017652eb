package protocol

import "encoding/binary"

// Stream limits.
const (
	// MaxBatchDevices is the largest device count a batch frame read from a
	// stream may address.
	MaxBatchDevices = 255

	// MaxStreamFrameSize bounds any frame SplitFrames will wait for. Longer
	// candidates are treated as noise.
	MaxStreamFrameSize = 4096

	hexStatusStart  byte = 0xCC
	hexBatchStart   byte = 0xBB
	singleFrameSize      = singleFrameLen / 2
	statusFrameSize      = len(statusQueryBody)/2 + 1
	minBatchSize         = minHexFrameLen / 2
	maxBatchSize         = minBatchSize + 2*(MaxBatchDevices-1)
)

// SplitFrames is a bufio.SplitFunc that cuts a controller byte stream into
// frames. It recognises hex-string frames (AA, BB and CC) and binary
// response frames. Bytes that cannot start a valid frame are skipped one at
// a time until the stream is back in step. A candidate still waiting for
// bytes is abandoned once a complete frame starts after it. A truncated
// frame at EOF is discarded.
//
// Every returned token parses with ParseHexFrameBytes or DecodeResponse.
func SplitFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if len(data) == 0 {
		return 0, nil, nil
	}

	start := nextStart(data, 0)
	switch {
	case start < 0:
		return len(data), nil, nil
	case start > 0:
		return start, nil, nil
	}

	n, more := frameAt(data)
	switch {
	case n > 0:
		return n, data[:n], nil
	case more && !atEOF:
		if completeFrameAfter(data) {
			return 1, nil, nil
		}
		return 0, nil, nil
	case more:
		return len(data), nil, nil
	default:
		return 1, nil, nil
	}
}

// nextStart returns the index of the first possible frame start at or
// after from, or -1.
func nextStart(data []byte, from int) int {
	for i := from; i < len(data); i++ {
		if b := data[i]; b == FrameStart || b == hexBatchStart || b == hexStatusStart {
			return i
		}
	}
	return -1
}

func completeFrameAfter(data []byte) bool {
	for i := nextStart(data, 1); i > 0; i = nextStart(data, i+1) {
		if n, _ := frameAt(data[i:]); n > 0 {
			return true
		}
	}
	return false
}

// frameAt reports the size of the frame at the start of data. When it
// returns 0, more tells whether additional bytes could still complete one.
func frameAt(data []byte) (n int, more bool) {
	switch data[0] {
	case hexStatusStart:
		return hexFrameAt(data, statusFrameSize, statusFrameSize)
	case hexBatchStart:
		return hexFrameAt(data, minBatchSize, maxBatchSize)
	case FrameStart:
		n, moreHex := hexFrameAt(data, singleFrameSize, singleFrameSize)
		if n > 0 {
			return n, false
		}
		n, moreBin := responseAt(data)
		if n > 0 {
			return n, false
		}
		return 0, moreHex || moreBin
	}
	return 0, false
}

// hexFrameAt tries every hex-string frame size in [minSize, maxSize]. A
// candidate ends with the terminator followed by one checksum byte.
func hexFrameAt(data []byte, minSize, maxSize int) (int, bool) {
	for size := minSize; size <= maxSize; size++ {
		if size > len(data) {
			return 0, true
		}
		if data[size-2] != FrameEnd {
			continue
		}
		if _, err := ParseHexFrameBytes(data[:size]); err == nil {
			return size, false
		}
	}
	return 0, false
}

// responseAt sizes a binary response from its declared field lengths.
func responseAt(data []byte) (int, bool) {
	if len(data) < responseHeaderSize {
		return 0, true
	}
	dataLenAt := responseHeaderSize + int(binary.BigEndian.Uint16(data[8:10]))
	if dataLenAt+2+trailerSize > MaxStreamFrameSize {
		return 0, false
	}
	if len(data) < dataLenAt+2 {
		return 0, true
	}
	size := dataLenAt + 2 + int(binary.BigEndian.Uint16(data[dataLenAt:dataLenAt+2])) + trailerSize
	if size > MaxStreamFrameSize {
		return 0, false
	}
	if len(data) < size {
		return 0, true
	}
	if _, err := DecodeResponse(data[:size]); err != nil {
		return 0, false
	}
	return size, false
}

// FrameBuffer reassembles frames from chunks read off a stream. A frame may
// be split across chunks and one chunk may carry several frames.
//
// FrameBuffer is not safe for concurrent use.
type FrameBuffer struct {
	buf       []byte
	discarded int
}

// Feed appends chunk and returns every frame now complete, oldest first.
// A partial frame stays buffered until the next call.
func (f *FrameBuffer) Feed(chunk []byte) [][]byte {
	f.buf = append(f.buf, chunk...)

	var frames [][]byte
	consumed := 0
	for consumed < len(f.buf) {
		advance, token, _ := SplitFrames(f.buf[consumed:], false)
		if advance == 0 {
			break
		}
		if token != nil {
			frames = append(frames, append([]byte(nil), token...))
		} else {
			f.discarded += advance
		}
		consumed += advance
	}

	if consumed > 0 {
		f.buf = append(f.buf[:0:0], f.buf[consumed:]...)
	}
	return frames
}

// Buffered returns the number of bytes held for an incomplete frame.
func (f *FrameBuffer) Buffered() int {
	return len(f.buf)
}

// Discarded returns the number of bytes skipped as noise so far.
func (f *FrameBuffer) Discarded() int {
	return f.discarded
}

// Reset drops any partial frame.
func (f *FrameBuffer) Reset() {
	f.buf = nil
}
