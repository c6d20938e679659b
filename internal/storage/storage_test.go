package storage

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultArchiveZipsOutputDir(t *testing.T) {
	jobsDir := t.TempDir()
	outputDir := filepath.Join(jobsDir, "job-1", "output")
	require.NoError(t, os.MkdirAll(filepath.Join(outputDir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, "a.txt"), []byte("X"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, "sub", "b.txt"), []byte("Y"), 0644))

	p := NewPackager(jobsDir)

	zipPath, err := p.ResultArchive("job-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(jobsDir, "job-1", "results.zip"), zipPath)

	r, err := zip.OpenReader(zipPath)
	require.NoError(t, err)
	defer r.Close()

	contents := map[string]string{}
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		contents[f.Name] = string(data)
	}

	assert.Equal(t, map[string]string{
		"a.txt":     "X",
		"sub/b.txt": "Y",
	}, contents)
}

func TestResultArchiveIsCached(t *testing.T) {
	jobsDir := t.TempDir()
	outputDir := filepath.Join(jobsDir, "job-2", "output")
	require.NoError(t, os.MkdirAll(outputDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, "f.txt"), []byte("1"), 0644))

	p := NewPackager(jobsDir)

	zipPath, err := p.ResultArchive("job-2")
	require.NoError(t, err)
	first, err := os.Stat(zipPath)
	require.NoError(t, err)

	// Second call must reuse the existing archive, not rebuild it.
	zipPath2, err := p.ResultArchive("job-2")
	require.NoError(t, err)
	second, err := os.Stat(zipPath2)
	require.NoError(t, err)

	assert.Equal(t, zipPath, zipPath2)
	assert.Equal(t, first.ModTime(), second.ModTime())
}

func TestResultArchiveMissingOutput(t *testing.T) {
	p := NewPackager(t.TempDir())

	_, err := p.ResultArchive("nope")
	assert.Error(t, err)
}
