package shell_test

import (
	"path/filepath"
	"strings"
	"testing"

	"framehash/pkg/framehash"
	"framehash/pkg/hash"
	"framehash/pkg/shell"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSession(t *testing.T) *shell.Session {
	t.Helper()
	t.Parallel()
	s, err := shell.NewSession(framehash.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// exec runs one command line through the handler registered for it.
func exec(t *testing.T, s *shell.Session, line string) (string, error) {
	t.Helper()
	r := shell.FramehashRepl(s)
	fields := strings.Fields(line)
	cmd, ok := r.GetCommands()[fields[0]]
	require.True(t, ok, fields[0])
	return cmd(line, nil)
}

func mustExec(t *testing.T, s *shell.Session, line string) string {
	t.Helper()
	out, err := exec(t, s, line)
	require.NoError(t, err, line)
	return out
}

func TestShell(t *testing.T) {
	t.Run("ParseKey", testParseKey)
	t.Run("ParseValue", testParseValue)
	t.Run("SetGetDel", testSetGetDel)
	t.Run("Inc", testShellInc)
	t.Run("Listing", testListing)
	t.Run("Math", testShellMath)
	t.Run("Readonly", testShellReadonly)
	t.Run("SaveLoad", testSaveLoad)
	t.Run("Backup", testBackup)
	t.Run("Info", testShellInfo)
}

func testParseKey(t *testing.T) {
	t.Parallel()
	k, err := shell.ParseKey("42")
	require.NoError(t, err)
	assert.Equal(t, framehash.PlainKey(42), k)
	k, err = shell.ParseKey("h:ff")
	require.NoError(t, err)
	assert.Equal(t, framehash.HashKey(0xff), k)
	k, err = shell.ParseKey("id:alpha")
	require.NoError(t, err)
	assert.Equal(t, framehash.IDKey(hash.ObjectIDFromString("alpha")), k)

	id := hash.ObjectID{H: 1, L: 2}
	k, err = shell.ParseKey(shell.FormatKey(framehash.IDKey(id)))
	require.NoError(t, err)
	assert.Equal(t, id, k.ID())

	for _, bad := range []string{"-1", "x", "h:zz", "id:"} {
		_, err := shell.ParseKey(bad)
		assert.ErrorIs(t, err, shell.ErrBadKey, bad)
	}
}

func testParseValue(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"null", "member", "true", "false", "u:7", "-3", "2.5"} {
		v, err := shell.ParseValue(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, shell.FormatValue(v))
	}
	_, err := shell.ParseValue("abc")
	assert.ErrorIs(t, err, shell.ErrBadValue)
}

func testSetGetDel(t *testing.T) {
	s := setupSession(t)
	assert.Equal(t, "integer", mustExec(t, s, "set 1 100"))
	assert.Equal(t, "100", mustExec(t, s, "get 1"))
	assert.Equal(t, "not found", mustExec(t, s, "get 2"))
	mustExec(t, s, "set id:alpha member")
	assert.Equal(t, "member", mustExec(t, s, "get id:alpha"))
	assert.Equal(t, "2", mustExec(t, s, "len"))
	assert.Equal(t, "deleted integer", mustExec(t, s, "del 1"))
	assert.Equal(t, "not found", mustExec(t, s, "del 1"))
	assert.Equal(t, "1", mustExec(t, s, "len"))

	_, err := exec(t, s, "set 1")
	assert.ErrorContains(t, err, "usage")
	_, err = exec(t, s, "set x 1")
	assert.ErrorIs(t, err, shell.ErrBadKey)
}

func testShellInc(t *testing.T) {
	s := setupSession(t)
	assert.Equal(t, "5", mustExec(t, s, "inc 7 5"))
	assert.Equal(t, "3", mustExec(t, s, "inc 7 -2"))
	assert.Equal(t, "3.5", mustExec(t, s, "inc 7 0.5"))
	mustExec(t, s, "set 8 true")
	_, err := exec(t, s, "inc 8 1")
	assert.ErrorIs(t, err, framehash.ErrIncompatible)
}

func testListing(t *testing.T) {
	s := setupSession(t)
	for i := 0; i < 20; i++ {
		mustExec(t, s, "set "+strings.Repeat("1", i+1)+" 1")
	}
	var keys []string
	require.NoError(t, json.Unmarshal([]byte(mustExec(t, s, "keys")), &keys))
	assert.Len(t, keys, 20)
	require.NoError(t, json.Unmarshal([]byte(mustExec(t, s, "keys 5")), &keys))
	assert.Len(t, keys, 5)

	var items []map[string]string
	require.NoError(t, json.Unmarshal([]byte(mustExec(t, s, "items")), &items))
	require.Len(t, items, 20)
	for _, it := range items {
		assert.Equal(t, "integer", it["type"])
		assert.Equal(t, "1", it["value"])
	}
	mustExec(t, s, "flush invalidate")
	mustExec(t, s, "compact")
	_, err := exec(t, s, "flush now")
	assert.Error(t, err)
}

func testShellMath(t *testing.T) {
	s := setupSession(t)
	for i := 1; i <= 4; i++ {
		mustExec(t, s, "set "+string(rune('0'+i))+" "+string(rune('0'+i)))
	}
	assert.Equal(t, "10 over 4 values", mustExec(t, s, "math sum"))
	assert.Contains(t, mustExec(t, s, "math mul 2"), "values changed")
	assert.Equal(t, "5 over 4 values", mustExec(t, s, "math avg"))
	_, err := exec(t, s, "math mul")
	assert.Error(t, err)
	_, err = exec(t, s, "math abs 1")
	assert.Error(t, err)
	_, err = exec(t, s, "math frob")
	assert.Error(t, err)
}

func testShellReadonly(t *testing.T) {
	s := setupSession(t)
	mustExec(t, s, "set 1 1")
	assert.Equal(t, "readonly depth 1", mustExec(t, s, "readonly on"))
	assert.Equal(t, "true", mustExec(t, s, "readonly"))
	_, err := exec(t, s, "set 2 2")
	assert.ErrorIs(t, err, framehash.ErrNoAccess)
	assert.Equal(t, "1", mustExec(t, s, "get 1"))
	assert.Equal(t, "readonly depth 0", mustExec(t, s, "readonly off"))
	mustExec(t, s, "set 2 2")
}

func testSaveLoad(t *testing.T) {
	s := setupSession(t)
	path := filepath.Join(t.TempDir(), "shell.fh")
	_, err := exec(t, s, "save")
	assert.ErrorIs(t, err, framehash.ErrNoMasterpath)
	mustExec(t, s, "set 1 10")
	mustExec(t, s, "set 2 2.5")
	assert.Contains(t, mustExec(t, s, "save "+path), "saved "+path)
	assert.Equal(t, "up to date", mustExec(t, s, "save"))

	mustExec(t, s, "set 3 3")
	assert.Equal(t, "loaded 2 items", mustExec(t, s, "load "+path))
	assert.Equal(t, "not found", mustExec(t, s, "get 3"))
	assert.Equal(t, "2.5", mustExec(t, s, "get 2"))
	assert.Equal(t, path, s.Map().Masterpath())

	_, err = exec(t, s, "load "+filepath.Join(t.TempDir(), "missing.fh"))
	assert.Error(t, err)
	assert.Equal(t, "2", mustExec(t, s, "len"))
}

func testBackup(t *testing.T) {
	s := setupSession(t)
	root := t.TempDir()
	_, err := exec(t, s, "backup "+filepath.Join(root, "bak"))
	assert.ErrorIs(t, err, framehash.ErrNoMasterpath)

	mustExec(t, s, "set 1 10")
	mustExec(t, s, "save "+filepath.Join(root, "data", "m.fh"))
	mustExec(t, s, "set 2 20")
	assert.Equal(t, "backup written to "+filepath.Join(root, "bak"), mustExec(t, s, "backup "+filepath.Join(root, "bak")))

	assert.Equal(t, "loaded 2 items", mustExec(t, s, "load "+filepath.Join(root, "bak", "m.fh")))
	assert.Equal(t, "20", mustExec(t, s, "get 2"))
}

func testShellInfo(t *testing.T) {
	s := setupSession(t)
	mustExec(t, s, "set 1 1")
	var info framehash.Info
	require.NoError(t, json.Unmarshal([]byte(mustExec(t, s, "info")), &info))
	assert.Equal(t, int64(1), info.Counters.Items)
	assert.Equal(t, s.Map().ID().String(), info.ID)

	var rates []framehash.DomainHitrate
	require.NoError(t, json.Unmarshal([]byte(mustExec(t, s, "hitrate")), &rates))
	assert.Len(t, rates, framehash.HitrateBuckets)
}
