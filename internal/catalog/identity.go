package catalog

import "encoding/binary"

const (
	identitySize = 128
	// identity blobs carry "MSC" as manufacturer and 0x5a1e as product code
	manufacturerID = uint16(('M'-'@')<<10 | ('S'-'@')<<5 | ('C' - '@'))
	productCode    = uint16(0x5a1e)
)

var identityHeader = [8]byte{0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00}

// NewIdentity builds an EDID shaped base block for a fabricated panel. The
// serial is derived from the display handle so every panel is distinct.
func NewIdentity(serial uint32) []byte {
	blob := make([]byte, identitySize)
	copy(blob, identityHeader[:])
	binary.BigEndian.PutUint16(blob[8:10], manufacturerID)
	binary.LittleEndian.PutUint16(blob[10:12], productCode)
	binary.LittleEndian.PutUint32(blob[12:16], serial)
	blob[16] = 1
	blob[17] = 2026 - 1990
	// structure version 1.4, digital input
	blob[18] = 1
	blob[19] = 4
	blob[20] = 0x80
	blob[identitySize-1] = checksum(blob[:identitySize-1])
	return blob
}

// FitIdentity truncates or zero pads payload to size. A full sized base
// block gets its checksum fixed.
func FitIdentity(payload []byte, size int) []byte {
	if size <= 0 {
		size = identitySize
	}
	blob := make([]byte, size)
	copy(blob, payload)
	if size == identitySize {
		blob[size-1] = checksum(blob[:size-1])
	}
	return blob
}

// ValidIdentity reports whether blob starts with an EDID base block whose
// bytes sum to zero.
func ValidIdentity(blob []byte) bool {
	if len(blob) < identitySize || [8]byte(blob[:8]) != identityHeader {
		return false
	}
	var sum byte
	for _, b := range blob[:identitySize] {
		sum += b
	}
	return sum == 0
}

func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return byte(0x100 - int(sum))
}
