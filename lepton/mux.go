package lepton

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Chunk headers hold the channel in the low nibble and the size class in
// the high nibble. Class 0 is followed by the chunk length minus one as a
// little endian uint16.
const (
	sizeExplicit = 0
	size256      = 1
	size4096     = 2
	size65536    = 3
)

var classSize = [...]int{size256: 256, size4096: 4096, size65536: 65536}

// chunkLimit returns the largest chunk written for a channel that already
// has offset bytes written.
func chunkLimit(offset int) int {
	switch offset {
	case 0:
		return 256
	case 256:
		return 4096
	default:
		return 65536
	}
}

// mux interleaves the channels into chunks, round robin in channel order.
// A single channel is written as is.
func mux(dst []byte, channels [][]byte) []byte {
	if len(channels) == 1 {
		return append(dst, channels[0]...)
	}

	offsets := make([]int, len(channels))
	for written := true; written; {
		written = false
		for id, data := range channels {
			remaining := len(data) - offsets[id]
			if remaining <= 0 {
				continue
			}
			written = true

			n := min(chunkLimit(offsets[id]), remaining)
			switch n {
			case 256:
				dst = append(dst, byte(id)|size256<<4)
			case 4096:
				dst = append(dst, byte(id)|size4096<<4)
			case 65536:
				dst = append(dst, byte(id)|size65536<<4)
			default:
				dst = append(dst, byte(id)|sizeExplicit<<4)
				dst = binary.LittleEndian.AppendUint16(dst, uint16(n-1))
			}
			dst = append(dst, data[offsets[id]:offsets[id]+n]...)
			offsets[id] += n
		}
	}
	return dst
}

// demux splits data into count channels.
func demux(data []byte, count int) ([][]byte, error) {
	channels := make([][]byte, count)
	if count == 1 {
		channels[0] = data
		return channels, nil
	}

	for len(data) > 0 {
		header := data[0]
		data = data[1:]

		id, class := int(header&0xF), int(header>>4)
		if id >= count {
			return nil, fmt.Errorf("%w: chunk for channel %d of %d", ErrCorrupt, id, count)
		}

		var n int
		switch class {
		case sizeExplicit:
			if len(data) < 2 {
				return nil, fmt.Errorf("%w: truncated chunk length", ErrCorrupt)
			}
			n = int(binary.LittleEndian.Uint16(data)) + 1
			data = data[2:]
		case size256, size4096, size65536:
			n = classSize[class]
		default:
			return nil, fmt.Errorf("%w: chunk size class %d", ErrCorrupt, class)
		}
		if n > len(data) {
			return nil, fmt.Errorf("%w: chunk of %d bytes with %d left", ErrCorrupt, n, len(data))
		}

		channels[id] = append(channels[id], data[:n]...)
		data = data[n:]
	}
	return channels, nil
}

// trailerSize is the size of the stream size trailer.
const trailerSize = 4

// appendTrailer appends the total stream size, trailer included.
func appendTrailer(stream []byte) ([]byte, error) {
	size := int64(len(stream)) + trailerSize
	if size > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrStreamTooLarge, size)
	}
	return binary.LittleEndian.AppendUint32(stream, uint32(size)), nil
}

// splitTrailer checks the trailer and returns the data before it.
func splitTrailer(stream []byte) ([]byte, error) {
	if len(stream) < trailerSize {
		return nil, fmt.Errorf("%w: missing trailer", ErrCorrupt)
	}
	body := stream[:len(stream)-trailerSize]
	size := binary.LittleEndian.Uint32(stream[len(body):])
	if int64(size) != int64(len(stream)) {
		return nil, fmt.Errorf("%w: trailer says %d bytes, got %d", ErrCorrupt, size, len(stream))
	}
	return body, nil
}
