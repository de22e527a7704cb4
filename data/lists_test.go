package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeList(t *testing.T, path string, lines ...string) {
	t.Helper()
	var body string
	for _, l := range lines {
		body += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestReadListSkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.txt")
	writeList(t, path, "patient_001", "", "  patient_002  ", "patient_003")

	entries, err := ReadList(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"patient_001", "patient_002", "patient_003"}, entries)
}

func TestPretrainListTruncatesByRatio(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.txt")
	writeList(t, path, "a", "b", "c", "d", "e", "f", "g", "h", "i", "j")

	entries, err := PretrainList(path, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, entries)

	entries, err = PretrainList(path, 1.0)
	require.NoError(t, err)
	assert.Len(t, entries, 10)

	_, err = PretrainList(path, 0)
	assert.Error(t, err)
	_, err = PretrainList(path, 1.5)
	assert.Error(t, err)
}

func TestLunaFoldSplit(t *testing.T) {
	dir := t.TempDir()
	files := map[int][]string{
		0: {"scan_a.npy", "scan_a_gt.npy"},
		1: {"scan_b.npy", "notes.txt"},
		2: {"scan_c.npy"},
	}
	for fold, names := range files {
		sub := filepath.Join(dir, "subset"+string(rune('0'+fold)))
		require.NoError(t, os.Mkdir(sub, 0o755))
		for _, n := range names {
			require.NoError(t, os.WriteFile(filepath.Join(sub, n), nil, 0o644))
		}
	}

	train, valid, test, err := LunaFoldSplit(dir, []int{0, 1}, []int{2}, nil, ".npy")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "subset0", "scan_a.npy"),
		filepath.Join(dir, "subset1", "scan_b.npy"),
	}, train)
	assert.Equal(t, []string{filepath.Join(dir, "subset2", "scan_c.npy")}, valid)
	assert.Empty(t, test)

	_, _, _, err = LunaFoldSplit(dir, []int{9}, nil, nil, ".npy")
	assert.Error(t, err)
}

func TestLoadSplit(t *testing.T) {
	dir := t.TempDir()
	writeList(t, filepath.Join(dir, "lidc_train.txt"), "t1", "t2", "t3", "t4")
	writeList(t, filepath.Join(dir, "lidc_valid.txt"), "v1")
	writeList(t, filepath.Join(dir, "lidc_test.txt"), "s1", "s2")

	split, err := LoadSplit(dir, "lidc", 0.5)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, split.Train)
	assert.Equal(t, []string{"v1"}, split.Valid)
	assert.Equal(t, []string{"s1", "s2"}, split.Test)

	_, err = LoadSplit(dir, "missing", 1.0)
	assert.Error(t, err)
}
