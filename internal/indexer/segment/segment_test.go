package segment

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/zeebo/blake3"

	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/errors"
)

func testImage(t *testing.T, ids []uint64) *Image {
	t.Helper()
	docs := []string{
		"the cat sat on the mat",
		"the dog ran",
		"cats and dogs and cats",
		"",
		"a very long document about the cat and the dog and nothing else",
	}
	idx, err := index.Build(context.Background(), docs, tokenizer.Unicode{}, 2)
	if err != nil {
		t.Fatal(err)
	}
	return &Image{
		Settings:    Settings{K1: 1.2, B: 0.6, Lowercase: true, Tokenizer: "unicode", BlockSize: 2},
		Index:       idx,
		ExternalIDs: ids,
	}
}

func encode(t *testing.T, img *Image, c Compression) []byte {
	t.Helper()
	var buf bytes.Buffer
	if _, err := Encode(&buf, img, c); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		for _, ids := range [][]uint64{nil, {10, 20, 30, 40, 1 << 40}} {
			t.Run(c.String(), func(t *testing.T) {
				img := testImage(t, ids)
				data := encode(t, img, c)
				got, header, err := Decode(bytes.NewReader(data))
				if err != nil {
					t.Fatalf("Decode: %v", err)
				}
				if header.Compression != c || header.Version != FormatVersion {
					t.Errorf("header = %+v", header)
				}
				if got.Settings != img.Settings {
					t.Errorf("settings = %+v, want %+v", got.Settings, img.Settings)
				}
				if !reflect.DeepEqual(got.Index.Dict.Terms(), img.Index.Dict.Terms()) {
					t.Error("terms differ")
				}
				if !reflect.DeepEqual(got.Index.Postings, img.Index.Postings) {
					t.Error("postings differ")
				}
				if !reflect.DeepEqual(got.Index.DocLengths, img.Index.DocLengths) {
					t.Error("doc lengths differ")
				}
				if got.Index.Stats != img.Index.Stats {
					t.Errorf("stats = %+v, want %+v", got.Index.Stats, img.Index.Stats)
				}
				if !reflect.DeepEqual(got.ExternalIDs, ids) {
					t.Errorf("external ids = %v, want %v", got.ExternalIDs, ids)
				}
			})
		}
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	img := testImage(t, nil)
	a := encode(t, img, CompressionNone)
	b := encode(t, img, CompressionNone)
	if !bytes.Equal(a, b) {
		t.Error("encoding the same image twice produced different bytes")
	}
}

func TestDecode_Truncated(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionZstd} {
		data := encode(t, testImage(t, nil), c)
		for n := 0; n < len(data); n += 7 {
			_, _, err := Decode(bytes.NewReader(data[:n]))
			if !errors.Is(err, apperrors.ErrCorruptData) {
				t.Fatalf("%s: truncated to %d bytes: err = %v, want ErrCorruptData", c, n, err)
			}
		}
	}
}

func TestDecode_TrailingBytes(t *testing.T) {
	data := append(encode(t, testImage(t, nil), CompressionNone), 0)
	if _, _, err := Decode(bytes.NewReader(data)); !errors.Is(err, apperrors.ErrCorruptData) {
		t.Fatalf("err = %v, want ErrCorruptData", err)
	}
}

func TestDecode_VersionMismatch(t *testing.T) {
	data := encode(t, testImage(t, nil), CompressionNone)
	binary.LittleEndian.PutUint32(data[4:8], FormatVersion+1)
	_, _, err := Decode(bytes.NewReader(data))
	if !errors.Is(err, apperrors.ErrVersionMismatch) {
		t.Fatalf("err = %v, want ErrVersionMismatch", err)
	}
	if errors.Is(err, apperrors.ErrCorruptData) {
		t.Fatal("a version mismatch must not also report corruption")
	}
}

func TestDecode_BadMagic(t *testing.T) {
	data := encode(t, testImage(t, nil), CompressionNone)
	data[0] ^= 0xff
	if _, _, err := Decode(bytes.NewReader(data)); !errors.Is(err, apperrors.ErrCorruptData) {
		t.Fatalf("err = %v, want ErrCorruptData", err)
	}
}

func TestDecode_FlippedPayloadByte(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		data := encode(t, testImage(t, nil), c)
		for _, offset := range []int{HeaderSize, (HeaderSize + len(data)) / 2} {
			corrupted := append([]byte(nil), data...)
			corrupted[offset] ^= 0x01
			if _, _, err := Decode(bytes.NewReader(corrupted)); !errors.Is(err, apperrors.ErrCorruptData) {
				t.Fatalf("%s offset %d: err = %v, want ErrCorruptData", c, offset, err)
			}
		}
	}
}

func TestDecode_UnknownCompression(t *testing.T) {
	data := encode(t, testImage(t, nil), CompressionNone)
	data[8] = 9
	if _, _, err := Decode(bytes.NewReader(data)); !errors.Is(err, apperrors.ErrCorruptData) {
		t.Fatalf("err = %v, want ErrCorruptData", err)
	}
}

// rawFile frames an arbitrary payload with a valid header and digest, so
// the structural checks behind the digest are exercised.
func rawFile(raw []byte) []byte {
	h := Header{
		Magic:          MagicBytes,
		Version:        FormatVersion,
		PayloadSize:    uint64(len(raw)),
		RawPayloadSize: uint64(len(raw)),
		Digest:         blake3.Sum256(raw),
	}
	return append(h.marshal(), raw...)
}

func TestDecode_InvalidStructure(t *testing.T) {
	valid := toPayload(testImage(t, nil))
	tests := []struct {
		name   string
		mutate func(p *payload)
	}{
		{"stats mismatch", func(p *payload) { p.Stats.AvgDocLength++ }},
		{"missing postings", func(p *payload) { p.Postings = p.Postings[:1] }},
		{"doc out of range", func(p *payload) { p.Postings[0].Gaps[0] = 99 }},
		{"repeated doc", func(p *payload) {
			p.Postings[0].Gaps = append(p.Postings[0].Gaps, 0)
			p.Postings[0].Freqs = append(p.Postings[0].Freqs, 1)
		}},
		{"gap/freq mismatch", func(p *payload) { p.Postings[0].Freqs = nil }},
		{"external id count", func(p *payload) { p.ExternalIDs = []uint64{1} }},
		{"negative b", func(p *payload) { p.Config.B = -1 }},
		{"zero block size", func(p *payload) { p.Config.BlockSize = 0 }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p := cloneValid(t, valid)
			test.mutate(p)
			raw, err := encMode.Marshal(p)
			if err != nil {
				t.Fatal(err)
			}
			if _, _, err := Decode(bytes.NewReader(rawFile(raw))); !errors.Is(err, apperrors.ErrCorruptData) {
				t.Fatalf("err = %v, want ErrCorruptData", err)
			}
		})
	}

	if _, _, err := Decode(bytes.NewReader(rawFile([]byte{0xff, 0x00, 0x13}))); !errors.Is(err, apperrors.ErrCorruptData) {
		t.Fatalf("garbage payload: err = %v, want ErrCorruptData", err)
	}
}

func cloneValid(t *testing.T, p *payload) *payload {
	t.Helper()
	raw, err := encMode.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	var out payload
	if err := decMode.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	return &out
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "index.bm25")
	img := testImage(t, nil)
	written, err := WriteFile(path, img, CompressionZstd)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
	got, read, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if read.Digest != written.Digest {
		t.Error("digest changed across write and read")
	}
	if !reflect.DeepEqual(got.Index.Postings, img.Index.Postings) {
		t.Error("postings differ")
	}
}

func TestFingerprint(t *testing.T) {
	img := testImage(t, nil)
	want, err := Fingerprint(img)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		_, header, err := Decode(bytes.NewReader(encode(t, img, c)))
		if err != nil {
			t.Fatal(err)
		}
		if header.Digest != want {
			t.Errorf("%s: header digest differs from Fingerprint", c)
		}
	}
	img.Settings.K1 = 2
	if other, _ := Fingerprint(img); other == want {
		t.Error("changing settings should change the fingerprint")
	}
}

func TestReadFile_Missing(t *testing.T) {
	_, _, err := ReadFile(filepath.Join(t.TempDir(), "absent.bm25"))
	if !errors.Is(err, apperrors.ErrIO) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want ErrIO wrapping ErrNotExist", err)
	}
}

func TestParseCompression(t *testing.T) {
	for _, name := range []string{"", "none", "lz4", "zstd"} {
		if _, err := ParseCompression(name); err != nil {
			t.Errorf("ParseCompression(%q): %v", name, err)
		}
	}
	if _, err := ParseCompression("brotli"); err == nil {
		t.Error("ParseCompression(brotli) should fail")
	}
}
