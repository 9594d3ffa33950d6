package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func TestWriteJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ResultsFile)

	require.NoError(t, WriteJSON(path, sample{Name: "a", Value: 0.5}))
	require.NoError(t, WriteJSON(path, sample{Name: "b", Value: 1}))

	var got sample
	require.NoError(t, ReadJSON(path, &got))
	assert.Equal(t, sample{Name: "b", Value: 1}, got)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"name\": \"b\",\n  \"value\": 1\n}\n", string(raw))
}

func TestWriteJSONExclusiveRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), PreregFile)

	require.NoError(t, WriteJSONExclusive(path, sample{Name: "first"}))
	err := WriteJSONExclusive(path, sample{Name: "second"})
	assert.ErrorIs(t, err, ErrExists)

	var got sample
	require.NoError(t, ReadJSON(path, &got))
	assert.Equal(t, "first", got.Name)
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteJSON(filepath.Join(dir, ResultsFile), sample{}))
	require.NoError(t, WriteJSONExclusive(filepath.Join(dir, PreregFile), sample{}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{ResultsFile, PreregFile}, names)
}

func TestStageJSONDiscardKeepsTarget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ResultsFile)
	require.NoError(t, WriteJSON(path, sample{Name: "kept"}))

	st, err := StageJSON(path, sample{Name: "staged"})
	require.NoError(t, err)
	assert.Equal(t, ResultsFile, st.Name())
	assert.Contains(t, string(st.Data()), "staged")
	st.Discard()

	var got sample
	require.NoError(t, ReadJSON(path, &got))
	assert.Equal(t, "kept", got.Name)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStageJSONCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), ResultsFile)
	st, err := StageJSON(path, sample{Name: "staged"})
	require.NoError(t, err)
	assert.NoFileExists(t, path)

	require.NoError(t, st.Commit())
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, st.Data(), raw)
}

func TestReadJSONErrors(t *testing.T) {
	dir := t.TempDir()
	var v sample
	assert.Error(t, ReadJSON(filepath.Join(dir, "absent.json"), &v))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	assert.Error(t, ReadJSON(bad, &v))
	assert.True(t, Exists(bad))
	assert.False(t, Exists(filepath.Join(dir, "absent.json")))
}
