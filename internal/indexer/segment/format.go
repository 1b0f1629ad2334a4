package segment

import (
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// MagicBytes identifies a saved BM25 index ("BM25").
const (
	MagicBytes    uint32 = 0x424D3235
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	DigestSize    int    = 32
)

// Compression identifies how the payload following the header is packed.
// Values are stored in the header and must not change.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a configured compression name.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

// Header is the fixed 64-byte prefix of an index file:
//
//	0:4    magic
//	4:8    format version
//	8      compression
//	9:16   reserved, zero
//	16:24  stored payload length
//	24:32  uncompressed payload length
//	32:64  BLAKE3-256 of the uncompressed payload
type Header struct {
	Magic          uint32
	Version        uint32
	Compression    Compression
	PayloadSize    uint64
	RawPayloadSize uint64
	Digest         [DigestSize]byte
}

func (h *Header) marshal() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	buf[8] = byte(h.Compression)
	binary.LittleEndian.PutUint64(buf[16:24], h.PayloadSize)
	binary.LittleEndian.PutUint64(buf[24:32], h.RawPayloadSize)
	copy(buf[32:64], h.Digest[:])
	return buf
}

func unmarshalHeader(buf []byte) Header {
	var h Header
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.Version = binary.LittleEndian.Uint32(buf[4:8])
	h.Compression = Compression(buf[8])
	h.PayloadSize = binary.LittleEndian.Uint64(buf[16:24])
	h.RawPayloadSize = binary.LittleEndian.Uint64(buf[24:32])
	copy(h.Digest[:], buf[32:64])
	return h
}

// payload is the CBOR body. Doc IDs inside each posting list are stored as
// gaps from the previous ID, which CBOR then packs into small integers.
type payload struct {
	Config      configPayload     `cbor:"config"`
	Stats       statsPayload      `cbor:"stats"`
	Terms       []string          `cbor:"terms"`
	DocLengths  []uint32          `cbor:"docLengths"`
	Postings    []postingsPayload `cbor:"postings"`
	ExternalIDs []uint64          `cbor:"externalIds,omitempty"`
}

type configPayload struct {
	K1        float64 `cbor:"k1"`
	B         float64 `cbor:"b"`
	Lowercase bool    `cbor:"lowercase"`
	Tokenizer string  `cbor:"tokenizer"`
	BlockSize int     `cbor:"blockSize"`
}

type statsPayload struct {
	DocCount     int     `cbor:"n"`
	TotalLength  uint64  `cbor:"total"`
	AvgDocLength float64 `cbor:"avgdl"`
}

type postingsPayload struct {
	Gaps  []uint32 `cbor:"g"`
	Freqs []uint32 `cbor:"f"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("segment: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		MaxArrayElements:  2147483647,
		MaxMapPairs:       2147483647,
		DefaultMapType:    reflect.TypeOf(map[string]any(nil)),
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic("segment: CBOR decoder initialization failed: " + err.Error())
	}
}
