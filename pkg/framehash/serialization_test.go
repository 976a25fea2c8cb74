package framehash_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"framehash/pkg/config"
	"framehash/pkg/framehash"
	"framehash/pkg/wordio"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serialize writes fh to a buffer and returns the stream.
func serialize(t *testing.T, fh *framehash.Framehash) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := wordio.NewWriter(&buf)
	n, err := fh.SerializeTo(w)
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	require.Equal(t, int64(buf.Len()/wordio.WordSize), n)
	return buf.Bytes()
}

func deserialize(data []byte, opts framehash.Options) (*framehash.Framehash, error) {
	r, err := wordio.NewReader(data)
	if err != nil {
		return nil, err
	}
	return framehash.Deserialize(r, opts)
}

func wordAt(data []byte, i int) uint64 {
	return binary.LittleEndian.Uint64(data[i*wordio.WordSize:])
}

// patchWord returns a copy of data with word i replaced by v.
func patchWord(data []byte, i int, v uint64) []byte {
	out := bytes.Clone(data)
	binary.LittleEndian.PutUint64(out[i*wordio.WordSize:], v)
	return out
}

func findWord(data []byte, v uint64) int {
	for i := 0; i < len(data)/wordio.WordSize; i++ {
		if wordAt(data, i) == v {
			return i
		}
	}
	return -1
}

func TestSerialization(t *testing.T) {
	t.Run("RoundTrip", testRoundTrip)
	t.Run("RoundTripUncached", testRoundTripUncached)
	t.Run("Corruption", testCorruption)
	t.Run("Version", testVersion)
	t.Run("FileSize", testFileSize)
	t.Run("NotSerializable", testNotSerializable)
	t.Run("Records", testRecords)
	t.Run("EmbeddedChild", testEmbeddedChild)
	t.Run("Cycle", testCycle)
	t.Run("Readonly", testSerializeReadonly)
}

func testRoundTrip(t *testing.T) {
	t.Parallel()
	const n = 20_000
	fh := setupMap(t, 2)
	fill(t, fh, n)
	_, err := fh.SetReal(framehash.PlainKey(n+1), 2.5)
	require.NoError(t, err)
	_, err = fh.SetMember(framehash.HashKey(0xABCDEF))
	require.NoError(t, err)
	_, err = fh.Set(framehash.HashKey(0x1234), framehash.Unsigned(77))
	require.NoError(t, err)
	id := framehash.NewObjectID()
	_, err = fh.Set(framehash.IDKey(id), framehash.Bool(true))
	require.NoError(t, err)
	member := framehash.NewObjectID()
	_, err = fh.Set(framehash.IDKey(member), framehash.Member())
	require.NoError(t, err)

	data := serialize(t, fh)
	loaded, err := deserialize(data, framehash.Options{})
	require.NoError(t, err)
	defer loaded.Close()

	assert.Equal(t, fh.ID(), loaded.ID())
	assert.Equal(t, fh.Len(), loaded.Len())
	assert.Equal(t, fh.Order(), loaded.Order())
	assert.Equal(t, fh.CacheDepth(), loaded.CacheDepth())
	checkFill(t, loaded, n)

	r, ok, err := loaded.GetReal(framehash.PlainKey(n + 1))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2.5, r)
	has, err := loaded.Has(framehash.HashKey(0xABCDEF))
	require.NoError(t, err)
	assert.True(t, has)
	v, err := loaded.Get(framehash.HashKey(0x1234))
	require.NoError(t, err)
	assert.Equal(t, uint64(77), v.Unsigned())
	v, err = loaded.Get(framehash.IDKey(id))
	require.NoError(t, err)
	assert.Equal(t, framehash.ValueBoolean, v.Type())
	assert.True(t, v.Bool())
	v, err = loaded.Get(framehash.IDKey(member))
	require.NoError(t, err)
	assert.Equal(t, framehash.ValueMember, v.Type())

	// The loaded map serializes to the same frames.
	again := serialize(t, loaded)
	assert.Equal(t, len(data), len(again))
	assert.Equal(t, 0, loaded.CheckAllocators())
}

func testRoundTripUncached(t *testing.T) {
	t.Parallel()
	const n = 50_000
	fh := setupMap(t, -1)
	fill(t, fh, n)
	for i := 0; i < n; i += 3 {
		_, err := fh.DelKey(framehash.PlainKey(uint64(i)))
		require.NoError(t, err)
	}
	loaded, err := deserialize(serialize(t, fh), framehash.Options{})
	require.NoError(t, err)
	defer loaded.Close()
	assert.Equal(t, fh.Len(), loaded.Len())
	for i := 0; i < n; i++ {
		v, ok, err := loaded.GetInt(framehash.PlainKey(uint64(i)))
		require.NoError(t, err)
		if i%3 == 0 {
			require.False(t, ok, "key %d", i)
			continue
		}
		require.True(t, ok, "key %d", i)
		require.Equal(t, int64(i*i), v)
	}
	count, err := loaded.CountActive()
	require.NoError(t, err)
	assert.Equal(t, loaded.Len(), count)
}

func testCorruption(t *testing.T) {
	t.Parallel()
	fh := setupMap(t, 1)
	fill(t, fh, 5000)
	data := serialize(t, fh)
	words := len(data) / wordio.WordSize

	cp := findWord(data, 0xCCCCCCCCCCCCCCCC)
	require.Positive(t, cp)
	summary := 32 + 4 + 3

	cases := map[string][]byte{
		"FileCap":    patchWord(data, 0, 0),
		"TypeInfo":   patchWord(data, 4, 0x1234),
		"StartDelim": patchWord(data, 6, 0),
		"Order":      patchWord(data, 18, 40),
		"Nobj":       patchWord(data, 16, wordAt(data, 16)+1),
		"Summary":    patchWord(data, summary, wordAt(data, summary)+1),
		"Checkpoint": patchWord(data, cp, 0),
		"Count":      patchWord(data, cp+1, wordAt(data, cp+1)+1),
		"EndDelim":   patchWord(data, words-8, 0),
		"EndCap":     patchWord(data, words-1, 0),
		"Truncated":  data[:(words/2)*wordio.WordSize],
		"Empty":      nil,
	}
	dyn := framehash.NewDynamic(0, nil)
	base := dyn.BytesInUse()
	for name, bad := range cases {
		_, err := deserialize(bad, framehash.Options{Allocators: framehash.SharedAllocators(dyn)})
		require.Error(t, err, name)
		assert.ErrorIs(t, err, framehash.ErrCorrupt, name)
		assert.Equal(t, base, dyn.BytesInUse(), name)
	}

	loaded, err := deserialize(data, framehash.Options{Allocators: framehash.SharedAllocators(dyn)})
	require.NoError(t, err)
	assert.Greater(t, dyn.BytesInUse(), base)
	require.NoError(t, loaded.Close())
	assert.Equal(t, base, dyn.BytesInUse())
}

func testVersion(t *testing.T) {
	t.Parallel()
	fh := setupMap(t, 1)
	fill(t, fh, 100)
	data := serialize(t, fh)
	require.Equal(t, uint64(config.FormatVersion), wordAt(data, 10))

	for _, version := range []uint64{config.PreviousFormatVersion, 0x0100, config.FormatVersion + 1} {
		loaded, err := deserialize(patchWord(data, 10, version), framehash.Options{})
		require.NoError(t, err, "version %04x", version)
		checkFill(t, loaded, 100)
		require.NoError(t, loaded.Close())
	}
}

func testFileSize(t *testing.T) {
	fh, path := setupFileMap(t, false)
	fill(t, fh, 1000)
	_, err := fh.Serialize(false)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	bad := filepath.Join(filepath.Dir(path), "bad.fh")
	for name, contents := range map[string][]byte{
		"Trailing":  append(bytes.Clone(data), make([]byte, 4*wordio.WordSize)...),
		"TwoCopies": append(bytes.Clone(data), data...),
	} {
		require.NoError(t, os.WriteFile(bad, contents, 0666))
		_, err := framehash.Load(bad, framehash.Options{})
		assert.ErrorIs(t, err, framehash.ErrCorrupt, name)
	}

	loaded := loadMap(t, path, false)
	checkFill(t, loaded, 1000)
}

func testNotSerializable(t *testing.T) {
	t.Parallel()
	fh := setupMap(t, 1)
	fill(t, fh, 10)
	_, err := fh.SetPointer(framehash.PlainKey(99), 0xBEEF)
	require.NoError(t, err)
	var buf bytes.Buffer
	_, err = fh.SerializeTo(wordio.NewWriter(&buf))
	assert.ErrorIs(t, err, framehash.ErrNotSerializable)

	_, err = fh.DelKey(framehash.PlainKey(99))
	require.NoError(t, err)
	_, err = fh.SetObject128(newTestObject())
	require.NoError(t, err)
	buf.Reset()
	_, err = fh.SerializeTo(wordio.NewWriter(&buf))
	assert.ErrorIs(t, err, framehash.ErrNotSerializable)
}

func testRecords(t *testing.T) {
	t.Parallel()
	fh := setupMap(t, 2)
	rec := framehash.NewRecord(framehash.NewObjectID(), map[string]any{
		"n": 42,
		"s": "x",
		"f": 1.5,
		"l": []any{"a"},
	})
	_, err := fh.SetObject128(rec)
	require.NoError(t, err)
	ref := framehash.NewRecord(framehash.NewObjectID(), map[string]any{"neg": -3})
	_, err = fh.SetObject(framehash.PlainKey(7), ref)
	require.NoError(t, err)

	loaded, err := deserialize(serialize(t, fh), framehash.Options{})
	require.NoError(t, err)
	defer loaded.Close()

	o, err := loaded.GetObject128(rec.ObjectID())
	require.NoError(t, err)
	got, ok := o.(*framehash.Record)
	require.True(t, ok)
	assert.Equal(t, rec.ObjectID(), got.ObjectID())
	assert.Equal(t, uint64(42), got.Fields["n"])
	assert.Equal(t, "x", got.Fields["s"])
	assert.Equal(t, 1.5, got.Fields["f"])
	assert.Equal(t, []any{"a"}, got.Fields["l"])

	o, err = loaded.GetObject(framehash.PlainKey(7))
	require.NoError(t, err)
	got, ok = o.(*framehash.Record)
	require.True(t, ok)
	assert.Equal(t, ref.ObjectID(), got.ObjectID())
	assert.Equal(t, int64(-3), got.Fields["neg"])
}

func testEmbeddedChild(t *testing.T) {
	t.Parallel()
	parent := setupMap(t, 1)
	child, err := framehash.New(framehash.DefaultOptions())
	require.NoError(t, err)
	fill(t, child, 100)
	_, err = parent.SetObject128(child)
	require.NoError(t, err)
	fill(t, parent, 10)

	loaded, err := deserialize(serialize(t, parent), framehash.Options{})
	require.NoError(t, err)
	defer loaded.Close()
	checkFill(t, loaded, 10)

	o, err := loaded.GetObject128(child.ID())
	require.NoError(t, err)
	got, ok := o.(*framehash.Framehash)
	require.True(t, ok)
	assert.Equal(t, int64(100), got.Len())
	checkFill(t, got, 100)
}

func testCycle(t *testing.T) {
	t.Parallel()
	a := setupMap(t, 1)
	b, err := framehash.New(framehash.DefaultOptions())
	require.NoError(t, err)
	_, err = a.SetObject128(b)
	require.NoError(t, err)
	_, err = b.SetBorrowedObject128(a)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = a.SerializeTo(wordio.NewWriter(&buf))
	assert.ErrorIs(t, err, framehash.ErrCycle)

	_, err = b.DelObject128(a.ID())
	require.NoError(t, err)
	data := serialize(t, a)
	loaded, err := deserialize(data, framehash.Options{})
	require.NoError(t, err)
	require.NoError(t, loaded.Close())
}

func testSerializeReadonly(t *testing.T) {
	t.Parallel()
	fh := setupMap(t, 2)
	fill(t, fh, 1000)
	_, err := fh.SetReadonly()
	require.NoError(t, err)
	data := serialize(t, fh)
	_, err = fh.ClearReadonly()
	require.NoError(t, err)

	loaded, err := deserialize(data, framehash.Options{})
	require.NoError(t, err)
	defer loaded.Close()
	assert.False(t, loaded.IsReadonly())
	checkFill(t, loaded, 1000)
}
