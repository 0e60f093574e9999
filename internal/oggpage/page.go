// Package oggpage implements Ogg page framing: parsing, encoding, segment
// tables and the Ogg CRC-32. It lets icesgo inspect or rebuild page
// boundaries without invoking the full libvorbis codec; the playlist input
// module uses it to read Ogg files page by page.
//
// Grounded on thesyncim-gopus/container/ogg/page.go and crc.go.
package oggpage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
)

// Page header flag constants.
const (
	FlagContinuation = 0x01
	FlagBOS          = 0x02
	FlagEOS          = 0x04
)

const (
	headerSize = 27
	magic      = "OggS"
)

var (
	ErrInvalidPage = errors.New("oggpage: invalid or truncated page")
	ErrBadCRC      = errors.New("oggpage: CRC mismatch")
)

// Page represents a single Ogg page.
type Page struct {
	Version      byte
	HeaderType   byte
	GranulePos   uint64
	SerialNumber uint32
	PageSequence uint32
	Segments     []byte
	Payload      []byte
}

// IsBOS reports whether this is the first page of a logical bitstream.
func (p *Page) IsBOS() bool { return p.HeaderType&FlagBOS != 0 }

// IsEOS reports whether this is the last page of a logical bitstream.
func (p *Page) IsEOS() bool { return p.HeaderType&FlagEOS != 0 }

// IsContinuation reports whether this page continues a packet begun on a
// previous page.
func (p *Page) IsContinuation() bool { return p.HeaderType&FlagContinuation != 0 }

// BuildSegmentTable returns the segment table for a single packet of the
// given length.
func BuildSegmentTable(packetLen int) []byte {
	if packetLen == 0 {
		return []byte{0}
	}

	numSegments := packetLen / 255
	remainder := packetLen % 255

	if remainder == 0 {
		numSegments++
		segments := make([]byte, numSegments)
		for i := 0; i < numSegments-1; i++ {
			segments[i] = 255
		}
		return segments
	}

	segments := make([]byte, numSegments+1)
	for i := 0; i < numSegments; i++ {
		segments[i] = 255
	}
	segments[numSegments] = byte(remainder)
	return segments
}

// ParseSegmentTable extracts packet lengths from a segment table. A value
// of 255 continues the packet into the next segment; the packet ends at
// the first segment shorter than 255.
func ParseSegmentTable(segments []byte) []int {
	if len(segments) == 0 {
		return nil
	}

	var lengths []int
	current := 0
	for _, seg := range segments {
		current += int(seg)
		if seg < 255 {
			lengths = append(lengths, current)
			current = 0
		}
	}
	return lengths
}

// PacketLengths extracts packet lengths from the page's segment table.
func (p *Page) PacketLengths() []int {
	return ParseSegmentTable(p.Segments)
}

// Packets splits the page's payload into individual packets. A packet whose
// last segment is 255 (i.e. the page's last packet spans into the next page)
// is not returned. If the payload is shorter than the segment table
// declares, the last packet returned is truncated to the bytes present.
func (p *Page) Packets() [][]byte {
	lengths := p.PacketLengths()
	if len(lengths) == 0 {
		return nil
	}

	packets := make([][]byte, len(lengths))
	offset := 0
	for i, length := range lengths {
		if offset+length > len(p.Payload) {
			packets[i] = p.Payload[offset:]
			break
		}
		packets[i] = p.Payload[offset : offset+length]
		offset += length
	}
	return packets
}

// Encode serializes the page, computing and filling in the CRC.
func (p *Page) Encode() []byte {
	headerTotal := headerSize + len(p.Segments)
	totalSize := headerTotal + len(p.Payload)
	data := make([]byte, totalSize)

	copy(data[0:4], magic)
	data[4] = p.Version
	data[5] = p.HeaderType
	binary.LittleEndian.PutUint64(data[6:14], p.GranulePos)
	binary.LittleEndian.PutUint32(data[14:18], p.SerialNumber)
	binary.LittleEndian.PutUint32(data[18:22], p.PageSequence)
	data[26] = byte(len(p.Segments))

	copy(data[27:], p.Segments)
	copy(data[headerTotal:], p.Payload)

	crc := crc32Ogg(data)
	binary.LittleEndian.PutUint32(data[22:26], crc)

	return data
}

// Parse parses a single Ogg page from the front of data, returning the
// number of bytes consumed.
func Parse(data []byte) (*Page, int, error) {
	if len(data) < headerSize {
		return nil, 0, ErrInvalidPage
	}
	if string(data[0:4]) != magic {
		return nil, 0, ErrInvalidPage
	}

	p := &Page{
		Version:      data[4],
		HeaderType:   data[5],
		GranulePos:   binary.LittleEndian.Uint64(data[6:14]),
		SerialNumber: binary.LittleEndian.Uint32(data[14:18]),
		PageSequence: binary.LittleEndian.Uint32(data[18:22]),
	}
	storedCRC := binary.LittleEndian.Uint32(data[22:26])
	numSegments := int(data[26])

	headerTotal := headerSize + numSegments
	if len(data) < headerTotal {
		return nil, 0, ErrInvalidPage
	}
	p.Segments = append([]byte(nil), data[27:headerTotal]...)

	payloadSize := 0
	for _, seg := range p.Segments {
		payloadSize += int(seg)
	}

	totalSize := headerTotal + payloadSize
	if len(data) < totalSize {
		return nil, 0, ErrInvalidPage
	}
	p.Payload = append([]byte(nil), data[headerTotal:totalSize]...)

	check := make([]byte, totalSize)
	copy(check, data[:totalSize])
	check[22], check[23], check[24], check[25] = 0, 0, 0, 0
	if crc32Ogg(check) != storedCRC {
		return nil, 0, ErrBadCRC
	}

	return p, totalSize, nil
}

// ReadPage reads exactly one Ogg page from r, resyncing past any leading
// garbage the way a tolerant Ogg demuxer does: it scans for the "OggS"
// capture pattern rather than assuming the reader is already page-aligned.
func ReadPage(r *bufio.Reader) (*Page, error) {
	for {
		b, err := r.Peek(1)
		if err != nil {
			return nil, err
		}
		if b[0] != 'O' {
			r.Discard(1)
			continue
		}

		head, err := r.Peek(headerSize)
		if err == bufio.ErrBufferFull || (err != nil && len(head) < headerSize) {
			return nil, io.ErrUnexpectedEOF
		}
		if err != nil {
			return nil, err
		}
		if string(head[0:4]) != magic {
			r.Discard(1)
			continue
		}

		numSegments := int(head[26])
		full := headerSize + numSegments
		segHeader, err := r.Peek(full)
		if err != nil {
			return nil, io.ErrUnexpectedEOF
		}
		payloadSize := 0
		for _, seg := range segHeader[27:full] {
			payloadSize += int(seg)
		}

		total := full + payloadSize
		buf := make([]byte, total)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		page, _, err := Parse(buf)
		if err != nil {
			return nil, err
		}
		return page, nil
	}
}

func crc32Ogg(data []byte) uint32 {
	return crc32OggUpdate(0, data)
}

func crc32OggUpdate(crc uint32, data []byte) uint32 {
	for _, b := range data {
		crc = (crc << 8) ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}

var crcTable [256]uint32

func init() {
	const poly = uint32(0x04C11DB7)
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		crcTable[i] = crc
	}
}
