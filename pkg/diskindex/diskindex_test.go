package diskindex

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuro-ml/connectome/pkg/hashvalue"
)

func TestLevelsSplit(t *testing.T) {
	l := Levels{1, 3, 4}
	digest := "abcdefgh"
	assert.Equal(t, []string{"a", "bcd", "efgh"}, l.Split(digest))
}

func TestPrepareWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ix, err := New(dir)
	require.NoError(t, err)

	v := hashvalue.Leaf{Payload: []byte("dataset-key")}
	digest, ctx, err := ix.Prepare(v)
	require.NoError(t, err)

	require.NoError(t, ix.Write(digest, map[string]any{"x": float64(1)}, ctx))

	got, ok, err := ix.Read(digest, ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"x": float64(1)}, got)
	assert.True(t, ix.Contains(digest))
}

func TestReadMissReportsNotOK(t *testing.T) {
	dir := t.TempDir()
	ix, err := New(dir)
	require.NoError(t, err)

	_, ok, err := ix.Read("0000000000000000000000000000000000000000000000000000000000000000", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCollisionMismatchEvictsLeafAndReportsMiss(t *testing.T) {
	dir := t.TempDir()
	ix, err := New(dir)
	require.NoError(t, err)

	v := hashvalue.Leaf{Payload: []byte("a")}
	digest, ctx, err := ix.Prepare(v)
	require.NoError(t, err)
	require.NoError(t, ix.Write(digest, "value", ctx))

	other := hashvalue.Leaf{Payload: []byte("b")}
	_, ctx2, err := ix.Prepare(other)
	require.NoError(t, err)

	_, ok, err := ix.Read(digest, ctx2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, ix.Contains(digest))
}

func TestSetGetReservationCycle(t *testing.T) {
	dir := t.TempDir()
	ix, err := New(dir, WithLocker(NewThreadLocker()))
	require.NoError(t, err)

	v := hashvalue.Leaf{Payload: []byte("k")}
	digest, _, err := ix.Prepare(v)
	require.NoError(t, err)

	assert.True(t, ix.ReserveWriteOrRead(digest))
	require.NoError(t, ix.Set(digest, "hello"))

	assert.False(t, ix.ReserveWriteOrRead(digest))
	got, err := ix.Get(digest)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestThreadLockerExcludesWriterFromReaders(t *testing.T) {
	l := NewThreadLocker()
	assert.True(t, l.StartWriting("k"))
	assert.False(t, l.StartReading("k"))
	l.StopWriting("k")
	assert.True(t, l.StartReading("k"))
}

func TestRemoteFetchPopulatesLocalOnMiss(t *testing.T) {
	dir := t.TempDir()
	ix, err := New(dir, WithLevels(Levels{2, 6}), WithRemote(fakeRemote{key: "deadbeef", payload: "remote-value"}))
	require.NoError(t, err)

	value, ok, err := ix.Read("deadbeef", nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "remote-value", value)
	assert.True(t, ix.Contains("deadbeef"))
}

type fakeRemote struct {
	key     string
	payload any
}

func (r fakeRemote) Fetch(key string) ([]byte, bool, error) {
	if key != r.key {
		return nil, false, nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&r.payload); err != nil {
		return nil, false, err
	}
	return buf.Bytes(), true, nil
}

func TestNewPersistsAndReloadsFileConfig(t *testing.T) {
	dir := t.TempDir()
	ix, err := New(dir, WithLevels(Levels{2, 62}))
	require.NoError(t, err)
	assert.Equal(t, Levels{2, 62}, ix.cfg.levels)

	reopened, err := New(dir)
	require.NoError(t, err)
	assert.Equal(t, Levels{2, 62}, reopened.cfg.levels)
}

func TestBlobDigestDetectsTamperedData(t *testing.T) {
	dir := t.TempDir()
	ix, err := New(dir)
	require.NoError(t, err)

	v := hashvalue.Leaf{Payload: []byte("tamper-me")}
	digest, ctx, err := ix.Prepare(v)
	require.NoError(t, err)
	require.NoError(t, ix.Write(digest, "original", ctx))

	leaf := ix.leafDir(digest)
	require.NoError(t, os.Chmod(filepath.Join(dataPath(leaf), jsonFilenameForTest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dataPath(leaf), jsonFilenameForTest), []byte(`"tampered"`), 0o644))

	_, ok, err := ix.Read(digest, ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, ix.Contains(digest))
}

const jsonFilenameForTest = "value.json"

func TestTouchTimeCreatesFileIfMissing(t *testing.T) {
	dir := t.TempDir()
	leaf := filepath.Join(dir, "leaf")
	require.NoError(t, os.MkdirAll(leaf, 0o755))
	require.NoError(t, touchTime(leaf))
	_, err := os.Stat(timePath(leaf))
	require.NoError(t, err)
}
