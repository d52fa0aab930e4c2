package celldb_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	celldb "github.com/celltrace/celldb"
	"github.com/celltrace/celldb/blobstore"
	"github.com/celltrace/celldb/cellid"
)

func snapshotFixture(t *testing.T) *celldb.Database {
	t.Helper()

	az := 135.0
	rows := []celldb.Row{
		gsmRow(1, hours(0), hours(10), 52.0905, 5.1214),
		gsmRow(1, hours(10), hours(20), 52.0907, 5.1216),
		lteRow(0x1234567, hours(0), hours(10), 52.0910, 5.1220),
		{
			Radio: "NR", MCC: 204, MNC: 16, ECI: intp(0x200),
			Lat: 52.1, Lon: 5.2, Azimuth: &az,
			Extra: map[string]string{"site": "UT-0042"},
		},
	}
	db, err := celldb.Import(context.Background(), rows, celldb.Strict)
	require.NoError(t, err)
	return db
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := snapshotFixture(t)

	for _, comp := range []celldb.Compression{
		celldb.CompressionNone,
		celldb.CompressionZstd,
		celldb.CompressionLZ4,
	} {
		t.Run(comp.String(), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, db.WriteSnapshot(ctx, &buf, comp))

			loaded, err := celldb.ReadSnapshot(ctx, &buf)
			require.NoError(t, err)
			require.Equal(t, db.Len(), loaded.Len())

			// Lookups behave identically on the restored database.
			rec, ok := loaded.Get(cellid.NewGSM(204, 8, 1234, 1), hours(15))
			require.True(t, ok)
			assert.Equal(t, 52.0907, rec.Position.Lat)

			rec, ok = loaded.Get(cellid.NewNR(204, 16, 0x200), hours(100))
			require.True(t, ok, "open-ended interval survives the round trip")
			require.NotNil(t, rec.Azimuth)
			assert.Equal(t, 135.0, rec.Azimuth.Degrees())
			assert.Equal(t, "UT-0042", rec.Extra["site"])
		})
	}
}

func TestSnapshotOfSearchResult(t *testing.T) {
	ctx := context.Background()
	db := snapshotFixture(t)

	view, err := db.Search().Radio(cellid.GSM).Execute(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, view.Len())

	var buf bytes.Buffer
	require.NoError(t, view.WriteSnapshot(ctx, &buf, celldb.CompressionNone))

	loaded, err := celldb.ReadSnapshot(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Len(), "a view snapshots only its own records")

	_, ok := loaded.Get(cellid.NewNR(204, 16, 0x200), hours(5))
	assert.False(t, ok)
}

func TestReadSnapshotRejectsGarbage(t *testing.T) {
	ctx := context.Background()

	t.Run("bad magic", func(t *testing.T) {
		_, err := celldb.ReadSnapshot(ctx, bytes.NewReader([]byte("PGDUMP\x00\x01 something else")))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad magic")
	})

	t.Run("lying size field", func(t *testing.T) {
		// A corrupted header claiming a giant payload must fail on the
		// actual stream length, not allocate the claimed size up front.
		var buf bytes.Buffer
		buf.WriteString("CELLDB\x00\x01")
		buf.WriteByte(0) // no compression
		buf.WriteByte(4)
		buf.WriteString("json")
		var sz [8]byte
		binary.BigEndian.PutUint64(sz[:], 1<<40)
		buf.Write(sz[:])
		buf.WriteString(`{"records":[]}`)

		_, err := celldb.ReadSnapshot(ctx, &buf)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "truncated snapshot payload")
	})

	t.Run("truncated stream", func(t *testing.T) {
		var buf bytes.Buffer
		db := snapshotFixture(t)
		require.NoError(t, db.WriteSnapshot(ctx, &buf, celldb.CompressionZstd))

		_, err := celldb.ReadSnapshot(ctx, bytes.NewReader(buf.Bytes()[:buf.Len()/2]))
		require.Error(t, err)
	})
}

func TestSnapshotBlobStore(t *testing.T) {
	ctx := context.Background()
	db := snapshotFixture(t)

	local, err := blobstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	stores := map[string]blobstore.BlobStore{
		"memory": blobstore.NewMemoryStore(),
		"local":  local,
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.SaveSnapshot(ctx, store, "snapshots/utrecht.celldb", celldb.CompressionZstd))

			loaded, err := celldb.LoadSnapshot(ctx, store, "snapshots/utrecht.celldb")
			require.NoError(t, err)
			assert.Equal(t, db.Len(), loaded.Len())

			_, err = celldb.LoadSnapshot(ctx, store, "snapshots/missing.celldb")
			require.ErrorIs(t, err, blobstore.ErrNotFound)
		})
	}
}
