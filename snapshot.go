package celldb

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/celltrace/celldb/blobstore"
	"github.com/celltrace/celldb/cellid"
	"github.com/celltrace/celldb/codec"
	"github.com/celltrace/celldb/geo"
)

// Compression selects how a snapshot's payload is compressed on disk.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// snapshotMagic identifies a celldb snapshot and its format version.
var snapshotMagic = []byte("CELLDB\x00\x01")

// snapshotRecord is the serialized form of one record. The identity is
// carried as its canonical spec string so the format stays independent of
// the in-memory layout.
type snapshotRecord struct {
	Cell    string            `json:"cell"`
	Start   *time.Time        `json:"date_start,omitempty"`
	End     *time.Time        `json:"date_end,omitempty"`
	Lat     float64           `json:"lat"`
	Lon     float64           `json:"lon"`
	Azimuth *float64          `json:"azimuth,omitempty"`
	Extra   map[string]string `json:"extra,omitempty"`
}

type snapshotPayload struct {
	Records []snapshotRecord `json:"records"`
}

// WriteSnapshot serializes the database to w. The stream is self-
// describing: a magic header, the compression scheme, the codec name and
// the encoded payload. Views snapshot only their own records, so a
// narrowed database round-trips to a database with the same contents.
func (db *Database) WriteSnapshot(ctx context.Context, w io.Writer, comp Compression) error {
	start := time.Now()
	err := db.writeSnapshot(w, comp)
	db.opts.metrics.RecordSnapshot("save", db.Len(), time.Since(start), err)
	db.opts.logger.LogSnapshot(ctx, "save", db.Len(), err)
	return err
}

func (db *Database) writeSnapshot(w io.Writer, comp Compression) error {
	payload := snapshotPayload{Records: make([]snapshotRecord, 0, db.Len())}
	for rec := range db.Records() {
		sr := snapshotRecord{
			Cell:  rec.Identity.String(),
			Lat:   rec.Position.Lat,
			Lon:   rec.Position.Lon,
			Extra: rec.Extra,
		}
		if !rec.Interval.Start.IsZero() {
			t := rec.Interval.Start
			sr.Start = &t
		}
		if !rec.Interval.End.IsZero() {
			t := rec.Interval.End
			sr.End = &t
		}
		if rec.Azimuth != nil {
			deg := rec.Azimuth.Degrees()
			sr.Azimuth = &deg
		}
		payload.Records = append(payload.Records, sr)
	}

	data, err := db.opts.codec.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	data, err = compress(data, comp)
	if err != nil {
		return err
	}

	name := db.opts.codec.Name()
	header := make([]byte, 0, len(snapshotMagic)+2+len(name))
	header = append(header, snapshotMagic...)
	header = append(header, byte(comp), byte(len(name)))
	header = append(header, name...)
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write snapshot header: %w", err)
	}
	var sz [8]byte
	binary.BigEndian.PutUint64(sz[:], uint64(len(data)))
	if _, err := w.Write(sz[:]); err != nil {
		return fmt.Errorf("write snapshot header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write snapshot payload: %w", err)
	}
	return nil
}

// ReadSnapshot rebuilds a database from a snapshot stream. Records are
// re-imported under the Strict policy, so a corrupted or hand-edited
// snapshot that violates the non-overlap invariant is rejected instead of
// silently repaired.
func ReadSnapshot(ctx context.Context, r io.Reader, optFns ...Option) (*Database, error) {
	opts := applyOptions(optFns)
	start := time.Now()
	db, err := readSnapshot(ctx, r, opts)
	records := 0
	if db != nil {
		records = db.Len()
	}
	opts.metrics.RecordSnapshot("load", records, time.Since(start), err)
	opts.logger.LogSnapshot(ctx, "load", records, err)
	return db, err
}

func readSnapshot(ctx context.Context, r io.Reader, opts options) (*Database, error) {
	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("read snapshot header: %w", err)
	}
	if !bytes.Equal(magic, snapshotMagic) {
		return nil, fmt.Errorf("not a celldb snapshot (bad magic %q)", magic)
	}
	var meta [2]byte
	if _, err := io.ReadFull(r, meta[:]); err != nil {
		return nil, fmt.Errorf("read snapshot header: %w", err)
	}
	comp := Compression(meta[0])
	nameBuf := make([]byte, meta[1])
	if _, err := io.ReadFull(r, nameBuf); err != nil {
		return nil, fmt.Errorf("read snapshot header: %w", err)
	}
	c, ok := codec.ByName(string(nameBuf))
	if !ok {
		return nil, fmt.Errorf("unknown snapshot codec %q", nameBuf)
	}
	var sz [8]byte
	if _, err := io.ReadFull(r, sz[:]); err != nil {
		return nil, fmt.Errorf("read snapshot header: %w", err)
	}
	// The size field is untrusted input: read through a limit and grow
	// incrementally instead of allocating whatever the header claims.
	n := binary.BigEndian.Uint64(sz[:])
	if n > math.MaxInt64 {
		return nil, fmt.Errorf("corrupt snapshot: payload size %d", n)
	}
	data, err := io.ReadAll(io.LimitReader(r, int64(n)))
	if err != nil {
		return nil, fmt.Errorf("read snapshot payload: %w", err)
	}
	if uint64(len(data)) != n {
		return nil, fmt.Errorf("truncated snapshot payload: %d of %d bytes", len(data), n)
	}
	data, err = decompress(data, comp)
	if err != nil {
		return nil, err
	}

	var payload snapshotPayload
	if err := c.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	im := newImporter(Strict, opts)
	for i, sr := range payload.Records {
		id, err := cellid.Parse(sr.Cell)
		if err != nil {
			return nil, fmt.Errorf("snapshot record %d: %w", i, err)
		}
		rec := Record{
			Identity: id,
			Position: geo.Point{Lat: sr.Lat, Lon: sr.Lon},
			Extra:    sr.Extra,
		}
		if sr.Start != nil {
			rec.Interval.Start = *sr.Start
		}
		if sr.End != nil {
			rec.Interval.End = *sr.End
		}
		if sr.Azimuth != nil {
			a := geo.NewAngle(*sr.Azimuth)
			rec.Azimuth = &a
		}
		im.rowIdx++
		if err := im.addRecord(ctx, i, rec); err != nil {
			return nil, fmt.Errorf("snapshot record %d: %w", i, err)
		}
	}
	return im.finish(ctx, nil)
}

// SaveSnapshot writes a snapshot as blob name in the store.
func (db *Database) SaveSnapshot(ctx context.Context, store blobstore.BlobStore, name string, comp Compression) error {
	var buf bytes.Buffer
	if err := db.WriteSnapshot(ctx, &buf, comp); err != nil {
		return err
	}
	return store.Put(ctx, name, buf.Bytes())
}

// LoadSnapshot rebuilds a database from blob name in the store.
func LoadSnapshot(ctx context.Context, store blobstore.BlobStore, name string, optFns ...Option) (*Database, error) {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer blob.Close()
	return ReadSnapshot(ctx, blob, optFns...)
}

func compress(data []byte, comp Compression) ([]byte, error) {
	switch comp {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, fmt.Errorf("lz4: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("lz4: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown compression scheme %d", comp)
	}
}

func decompress(data []byte, comp Compression) ([]byte, error) {
	switch comp {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return out, nil
	case CompressionLZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("lz4: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown compression scheme %d", comp)
	}
}
