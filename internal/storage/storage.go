package storage

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Packager turns a completed job's output directory into a downloadable zip
// archive. Archives are built lazily on first request and cached next to the
// output directory.
type Packager struct {
	jobsDir string
}

func NewPackager(jobsDir string) *Packager {
	return &Packager{jobsDir: jobsDir}
}

// ResultArchive returns the path to the job's results.zip, building it if it
// does not exist yet.
func (p *Packager) ResultArchive(jobID string) (string, error) {
	jobDir := filepath.Join(p.jobsDir, jobID)
	outputDir := filepath.Join(jobDir, "output")

	if _, err := os.Stat(outputDir); err != nil {
		return "", fmt.Errorf("output not found for job %s: %w", jobID, err)
	}

	zipPath := filepath.Join(jobDir, "results.zip")
	if _, err := os.Stat(zipPath); err == nil {
		return zipPath, nil
	}

	if _, err := p.buildArchive(outputDir, zipPath); err != nil {
		return "", err
	}
	return zipPath, nil
}

// buildArchive zips the directory tree rooted at srcDir, computing a sha256
// of the archive while writing. The hash is returned for logging/auditing.
func (p *Packager) buildArchive(srcDir, zipPath string) (hash string, err error) {
	tmpPath := zipPath + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}

	hasher := sha256.New()
	zw := zip.NewWriter(io.MultiWriter(file, hasher))

	walkErr := filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})

	if cerr := zw.Close(); walkErr == nil {
		walkErr = cerr
	}
	if cerr := file.Close(); walkErr == nil {
		walkErr = cerr
	}
	if walkErr != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to build archive: %w", walkErr)
	}

	if err := os.Rename(tmpPath, zipPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to commit archive: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
