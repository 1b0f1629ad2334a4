package segment

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/errors"
)

// Settings are the model parameters persisted next to the index.
type Settings struct {
	K1        float64
	B         float64
	Lowercase bool
	Tokenizer string
	BlockSize int
}

// Image is everything needed to restore a fitted engine. ExternalIDs is nil
// when documents are identified by their position.
type Image struct {
	Settings    Settings
	Index       *index.Index
	ExternalIDs []uint64
}

// Encode writes img to w and returns the header that was written.
func Encode(w io.Writer, img *Image, compression Compression) (*Header, error) {
	raw, err := encMode.Marshal(toPayload(img))
	if err != nil {
		return nil, fmt.Errorf("encoding index payload: %w", err)
	}
	packed, err := compress(raw, compression)
	if err != nil {
		return nil, fmt.Errorf("compressing index payload: %w", err)
	}
	header := &Header{
		Magic:          MagicBytes,
		Version:        FormatVersion,
		Compression:    compression,
		PayloadSize:    uint64(len(packed)),
		RawPayloadSize: uint64(len(raw)),
		Digest:         blake3.Sum256(raw),
	}
	if _, err := w.Write(header.marshal()); err != nil {
		return nil, fmt.Errorf("%w: writing header: %w", apperrors.ErrIO, err)
	}
	if _, err := w.Write(packed); err != nil {
		return nil, fmt.Errorf("%w: writing payload: %w", apperrors.ErrIO, err)
	}
	return header, nil
}

// Fingerprint is the digest Encode would store for img. It identifies the
// index contents independently of compression, so a freshly fitted index and
// the same index loaded from disk share a fingerprint.
func Fingerprint(img *Image) ([DigestSize]byte, error) {
	raw, err := encMode.Marshal(toPayload(img))
	if err != nil {
		return [DigestSize]byte{}, fmt.Errorf("encoding index payload: %w", err)
	}
	return blake3.Sum256(raw), nil
}

// WriteFile atomically replaces path with the encoded image. It writes to a
// .tmp file first and renames on success.
func WriteFile(path string, img *Image, compression Compression) (*Header, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: creating index directory: %w", apperrors.ErrIO, err)
		}
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("%w: creating temp index file: %w", apperrors.ErrIO, err)
	}
	committed := false
	defer func() {
		f.Close()
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	header, err := Encode(f, img, compression)
	if err != nil {
		return nil, err
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("%w: syncing index file: %w", apperrors.ErrIO, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("%w: closing index file: %w", apperrors.ErrIO, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return nil, fmt.Errorf("%w: renaming index file: %w", apperrors.ErrIO, err)
	}
	committed = true
	return header, nil
}

func toPayload(img *Image) *payload {
	idx := img.Index
	p := &payload{
		Config: configPayload{
			K1:        img.Settings.K1,
			B:         img.Settings.B,
			Lowercase: img.Settings.Lowercase,
			Tokenizer: img.Settings.Tokenizer,
			BlockSize: img.Settings.BlockSize,
		},
		Stats: statsPayload{
			DocCount:     idx.Stats.DocCount,
			TotalLength:  idx.Stats.TotalLength,
			AvgDocLength: idx.Stats.AvgDocLength,
		},
		Terms:       idx.Dict.Terms(),
		DocLengths:  idx.DocLengths,
		Postings:    make([]postingsPayload, len(idx.Postings)),
		ExternalIDs: img.ExternalIDs,
	}
	for termID, list := range idx.Postings {
		pp := postingsPayload{
			Gaps:  make([]uint32, len(list)),
			Freqs: make([]uint32, len(list)),
		}
		prev := uint32(0)
		for i, posting := range list {
			pp.Gaps[i] = posting.DocID - prev
			pp.Freqs[i] = posting.Frequency
			prev = posting.DocID
		}
		p.Postings[termID] = pp
	}
	return p
}

func compress(raw []byte, compression Compression) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return raw, nil
	case CompressionLZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(raw, make([]byte, 0, len(raw)/3)), nil
	default:
		return nil, fmt.Errorf("unsupported compression %s", compression)
	}
}
