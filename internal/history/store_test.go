package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/celergeo/internal/geo"
	"github.com/mattjoyce/celergeo/internal/model"
	"github.com/mattjoyce/celergeo/internal/storage"
)

func openStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db), db
}

func sampleResult(id string, data []byte) *geo.TraceResult {
	g := model.Orange
	m := model.Host
	return &geo.TraceResult{
		ID: id,
		Output: model.TraceOutput{
			Trace: model.TraceSetup{Cmd: model.CmdTrace, Geometry: &g, Memspace: &m, Volumes: true, BinFile: "/tmp/x.bin"},
			Image: model.ImageParams{
				Origin:     model.Real3{0, 1, 0},
				Down:       model.Real3{0, -1, 0},
				Right:      model.Real3{1, 0, 0},
				PixelWidth: 0.5,
				Dims:       model.Size2{2, 1},
				Units:      model.CGS,
			},
			Volumes:   []string{"world", "inner"},
			SizeofInt: 4,
		},
		Image:    geo.Image{Data: data, Width: 2, Height: 1, SizeofInt: 4},
		Duration: 1500 * time.Millisecond,
	}
}

func TestRecordAndGet(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	setup := model.ModelSetup{GeometryFile: "/data/two-boxes.gdml"}
	require.NoError(t, store.StartSession(ctx, "session-1", setup))

	data := []byte{0, 0, 0, 0, 1, 0, 0, 0}
	rec, err := store.Record(ctx, "session-1", sampleResult("trace-1", data))
	require.NoError(t, err)
	assert.Equal(t, Digest(data), rec.ImageDigest)

	got, err := store.Get(ctx, "trace-1")
	require.NoError(t, err)
	assert.Equal(t, "session-1", got.SessionID)
	assert.Equal(t, model.Orange, got.Geometry)
	assert.Equal(t, "host", got.Memspace)
	assert.Equal(t, 2, got.Width)
	assert.Equal(t, 1, got.Height)
	assert.Equal(t, model.CGS, got.Units)
	assert.Equal(t, 1500*time.Millisecond, got.Duration)

	var out model.TraceOutput
	require.NoError(t, json.Unmarshal(got.Output, &out))
	assert.Equal(t, []string{"world", "inner"}, out.Volumes)

	img, imgRec, err := store.Image(ctx, "trace-1")
	require.NoError(t, err)
	assert.Equal(t, data, img)
	assert.Equal(t, got.ImageDigest, imgRec.ImageDigest)
}

func TestRecordRequiresGeometry(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	require.NoError(t, store.StartSession(ctx, "session-1", model.ModelSetup{GeometryFile: "/data/two-boxes.gdml"}))

	result := sampleResult("trace-1", []byte{0, 0, 0, 0, 1, 0, 0, 0})
	result.Output.Trace.Geometry = nil
	_, err := store.Record(ctx, "session-1", result)
	require.ErrorIs(t, err, ErrNoGeometry)

	_, err = store.Get(ctx, "trace-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordRoundTripsAsJSON(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	require.NoError(t, store.StartSession(ctx, "session-1", model.ModelSetup{GeometryFile: "/data/two-boxes.gdml"}))
	_, err := store.Record(ctx, "session-1", sampleResult("trace-1", []byte{0, 0, 0, 0, 1, 0, 0, 0}))
	require.NoError(t, err)

	recs, err := store.List(ctx, 0)
	require.NoError(t, err)
	data, err := json.Marshal(recs)
	require.NoError(t, err)

	var decoded []*TraceRecord
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, model.Orange, decoded[0].Geometry)
}

func TestGetMissing(t *testing.T) {
	store, _ := openStore(t)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = store.Image(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(context.Background(), " ")
	assert.Error(t, err)
}

func TestRecordRequiresSession(t *testing.T) {
	store, _ := openStore(t)

	_, err := store.Record(context.Background(), "unknown-session", sampleResult("trace-x", []byte{0, 0, 0, 0}))
	assert.Error(t, err)
}

func TestListNewestFirst(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	require.NoError(t, store.StartSession(ctx, "s", model.ModelSetup{GeometryFile: "a.gdml"}))

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, id := range []string{"t1", "t2", "t3"} {
		at := base.Add(time.Duration(i) * time.Minute)
		store.now = func() time.Time { return at }
		_, err := store.Record(ctx, "s", sampleResult(id, []byte{byte(i), 0, 0, 0, 0, 0, 0, 0}))
		require.NoError(t, err)
	}

	list, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "t3", list[0].ID)
	assert.Equal(t, "t2", list[1].ID)

	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestImageDigestMismatch(t *testing.T) {
	store, db := openStore(t)
	ctx := context.Background()
	require.NoError(t, store.StartSession(ctx, "s", model.ModelSetup{GeometryFile: "a.gdml"}))
	_, err := store.Record(ctx, "s", sampleResult("t", []byte{1, 2, 3, 4, 5, 6, 7, 8}))
	require.NoError(t, err)

	_, err = db.Exec(`UPDATE trace_log SET image = ? WHERE id = ?;`, []byte{9, 9, 9, 9, 9, 9, 9, 9}, "t")
	require.NoError(t, err)

	_, _, err = store.Image(ctx, "t")
	assert.True(t, errors.Is(err, ErrDigestMismatch))
}

func TestSessionLifecycle(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.StartSession(ctx, "s", model.ModelSetup{GeometryFile: "a.gdml"}))
	require.NoError(t, store.EndSession(ctx, "s", 0, "closing"))

	rec, err := store.GetSession(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "a.gdml", rec.GeometryFile)
	require.NotNil(t, rec.ClosedAt)
	require.NotNil(t, rec.ExitCode)
	assert.Equal(t, 0, *rec.ExitCode)
	require.NotNil(t, rec.FinalOutput)
	assert.Equal(t, `"closing"`, *rec.FinalOutput)

	assert.ErrorIs(t, store.EndSession(ctx, "missing", 0, nil), ErrNotFound)
	_, err = store.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
