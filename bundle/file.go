package bundle

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/wippyai/wasm-contract/errors"
)

// WriteFile writes the JSON form to path. The file appears complete or not
// at all.
func WriteFile(path string, b *Bundle) error {
	data, err := b.JSON()
	if err != nil {
		return err
	}
	return writeAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteArchiveFile writes the zip form to path, atomically like WriteFile.
func WriteArchiveFile(path string, b *Bundle) error {
	return writeAtomic(path, b.WriteArchive)
}

// ReadFile reads the JSON form from path.
func ReadFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhasePackage, errors.KindNotFound, err, "read bundle")
	}
	return Decode(data)
}

// ReadArchiveFile reads the zip form from path.
func ReadArchiveFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhasePackage, errors.KindNotFound, err, "read archive")
	}
	return ReadArchive(bytes.NewReader(data), int64(len(data)))
}

// writeAtomic fills a temporary file next to path and renames it into
// place. On failure the temporary file is removed.
func writeAtomic(path string, fill func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(errors.PhasePackage, errors.KindInvalidInput, err, "create output directory")
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(errors.PhasePackage, errors.KindInvalidInput, err, "create temporary file")
	}
	tmpPath := tmp.Name()
	closed := false
	defer func() {
		if !closed {
			err = multierr.Append(err, tmp.Close())
		}
		if err != nil {
			err = multierr.Append(err, os.Remove(tmpPath))
		}
	}()

	if err := fill(tmp); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return errors.Wrap(errors.PhasePackage, errors.KindInvalidInput, err, "sync "+tmpPath)
	}
	closed = true
	if err := tmp.Close(); err != nil {
		return errors.Wrap(errors.PhasePackage, errors.KindInvalidInput, err, "close "+tmpPath)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return errors.Wrap(errors.PhasePackage, errors.KindInvalidInput, err, "chmod "+tmpPath)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrap(errors.PhasePackage, errors.KindInvalidInput, err, "replace "+path)
	}
	return nil
}
