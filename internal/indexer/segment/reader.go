package segment

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/errors"
)

// Decode reads one encoded image from r. Malformed input of any kind is
// reported as ErrCorruptData, an unknown format version as
// ErrVersionMismatch. Nothing is returned unless the whole image validated.
func Decode(r io.Reader) (*Image, *Header, error) {
	headerBytes := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, nil, readError("reading header", err)
	}
	header := unmarshalHeader(headerBytes)
	if header.Magic != MagicBytes {
		return nil, nil, apperrors.Corruptf("bad magic bytes %x", header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, nil, fmt.Errorf("%w: file has version %d, this build reads version %d",
			apperrors.ErrVersionMismatch, header.Version, FormatVersion)
	}
	if header.PayloadSize > math.MaxInt32 || header.RawPayloadSize > math.MaxInt32 {
		return nil, nil, apperrors.Corruptf("payload size %d/%d out of range", header.PayloadSize, header.RawPayloadSize)
	}

	packed := make([]byte, header.PayloadSize)
	if _, err := io.ReadFull(r, packed); err != nil {
		return nil, nil, readError("reading payload", err)
	}
	var extra [1]byte
	if n, _ := r.Read(extra[:]); n != 0 {
		return nil, nil, apperrors.Corruptf("trailing bytes after payload")
	}

	raw, err := decompress(packed, header.Compression, int(header.RawPayloadSize))
	if err != nil {
		return nil, nil, err
	}
	if blake3.Sum256(raw) != header.Digest {
		return nil, nil, apperrors.Corruptf("payload digest mismatch")
	}

	var p payload
	if err := decMode.Unmarshal(raw, &p); err != nil {
		return nil, nil, apperrors.Corruptf("decoding payload: %v", err)
	}
	img, err := fromPayload(&p)
	if err != nil {
		return nil, nil, err
	}
	return img, &header, nil
}

// ReadFile opens, decodes and closes the index file at path.
func ReadFile(path string) (*Image, *Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: opening index file: %w", apperrors.ErrIO, err)
	}
	defer f.Close()
	return Decode(f)
}

func readError(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return apperrors.Corruptf("%s: truncated file", what)
	}
	return fmt.Errorf("%w: %s: %w", apperrors.ErrIO, what, err)
}

func decompress(packed []byte, compression Compression, rawSize int) ([]byte, error) {
	var raw []byte
	switch compression {
	case CompressionNone:
		raw = packed
	case CompressionLZ4:
		out, err := readLimited(lz4.NewReader(bytes.NewReader(packed)), rawSize)
		if err != nil {
			return nil, apperrors.Corruptf("lz4 payload: %v", err)
		}
		raw = out
	case CompressionZstd:
		dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(rawSize)+1))
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(packed, make([]byte, 0, rawSize))
		if err != nil {
			return nil, apperrors.Corruptf("zstd payload: %v", err)
		}
		raw = out
	default:
		return nil, apperrors.Corruptf("unknown compression %s", compression)
	}
	if len(raw) != rawSize {
		return nil, apperrors.Corruptf("payload is %d bytes, header says %d", len(raw), rawSize)
	}
	return raw, nil
}

// readLimited reads at most limit+1 bytes so an oversized stream is caught
// without decompressing all of it.
func readLimited(r io.Reader, limit int) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, limit))
	if _, err := io.Copy(buf, io.LimitReader(r, int64(limit)+1)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fromPayload(p *payload) (*Image, error) {
	numDocs := len(p.DocLengths)
	if len(p.Postings) != len(p.Terms) {
		return nil, apperrors.Corruptf("term count %d does not match posting list count %d", len(p.Terms), len(p.Postings))
	}
	postings := make([]index.PostingList, len(p.Postings))
	for termID, pp := range p.Postings {
		if len(pp.Gaps) != len(pp.Freqs) {
			return nil, apperrors.Corruptf("term %d: %d gaps but %d frequencies", termID, len(pp.Gaps), len(pp.Freqs))
		}
		list := make(index.PostingList, len(pp.Gaps))
		var docID uint64
		for i, gap := range pp.Gaps {
			if i > 0 && gap == 0 {
				return nil, apperrors.Corruptf("term %d: repeated document", termID)
			}
			docID += uint64(gap)
			if docID >= uint64(numDocs) {
				return nil, apperrors.Corruptf("term %d: document %d out of range", termID, docID)
			}
			list[i] = index.Posting{DocID: uint32(docID), Frequency: pp.Freqs[i]}
		}
		postings[termID] = list
	}

	idx, err := index.FromParts(p.Terms, postings, p.DocLengths)
	if err != nil {
		return nil, err
	}
	if idx.Stats.DocCount != p.Stats.DocCount ||
		idx.Stats.TotalLength != p.Stats.TotalLength ||
		idx.Stats.AvgDocLength != p.Stats.AvgDocLength {
		return nil, apperrors.Corruptf("stored corpus statistics do not match document lengths")
	}
	if p.ExternalIDs != nil && len(p.ExternalIDs) != numDocs {
		return nil, apperrors.Corruptf("%d external ids for %d documents", len(p.ExternalIDs), numDocs)
	}
	if !(p.Config.K1 >= 0) || !(p.Config.B >= 0 && p.Config.B <= 1) || p.Config.BlockSize < 1 {
		return nil, apperrors.Corruptf("invalid settings k1=%v b=%v blockSize=%d", p.Config.K1, p.Config.B, p.Config.BlockSize)
	}
	return &Image{
		Settings: Settings{
			K1:        p.Config.K1,
			B:         p.Config.B,
			Lowercase: p.Config.Lowercase,
			Tokenizer: p.Config.Tokenizer,
			BlockSize: p.Config.BlockSize,
		},
		Index:       idx,
		ExternalIDs: p.ExternalIDs,
	}, nil
}
