package bundle

import (
	"archive/zip"
	"io"
	"path"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/wippyai/wasm-contract/errors"
)

// MetadataEntry is the archive entry holding the document.
const MetadataEntry = "metadata.json"

// Archive read limits.
const (
	MaxCodeSize     = 64 << 20
	MaxMetadataSize = 16 << 20
)

// archiveTime is stamped on every entry so archives are reproducible.
var archiveTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// CodeEntry is the archive entry name of the module, derived from the
// contract name.
func (b *Bundle) CodeEntry() string {
	return entryName(b.Name()) + ".wasm"
}

func entryName(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r == '-' || r == '_',
			r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '_'
	}, name)
	if clean == "" {
		return "contract"
	}
	return clean
}

// WriteArchive writes the zip form: the module and metadata.json.
func (b *Bundle) WriteArchive(w io.Writer) (err error) {
	meta, err := b.MetadataJSON()
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	defer func() {
		err = multierr.Append(err, zw.Close())
	}()

	for _, entry := range []struct {
		name string
		data []byte
	}{
		{b.CodeEntry(), b.code},
		{MetadataEntry, meta},
	} {
		hdr := &zip.FileHeader{
			Name:     entry.name,
			Method:   zip.Deflate,
			Modified: archiveTime,
		}
		hdr.SetMode(0o644)
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return errors.Wrap(errors.PhasePackage, errors.KindInternalInconsistency, err, "create archive entry "+entry.name)
		}
		if _, err := fw.Write(entry.data); err != nil {
			return errors.Wrap(errors.PhasePackage, errors.KindInternalInconsistency, err, "write archive entry "+entry.name)
		}
	}
	return nil
}

// ReadArchive reads the zip form written by WriteArchive. The archive must
// hold metadata.json and exactly one .wasm entry whose bytes hash to the
// document's source.hash.
func ReadArchive(r io.ReaderAt, size int64) (*Bundle, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, archiveError("zip", "open archive", err)
	}

	var meta, code *zip.File
	for _, f := range zr.File {
		switch {
		case f.Name == MetadataEntry:
			meta = f
		case path.Ext(f.Name) == ".wasm":
			if code != nil {
				return nil, archiveError("archive_entries", "more than one .wasm entry", nil)
			}
			code = f
		}
	}
	if meta == nil {
		return nil, archiveError("archive_entries", "missing "+MetadataEntry, nil)
	}
	if code == nil {
		return nil, archiveError("archive_entries", "missing .wasm entry", nil)
	}

	metaBytes, err := readEntry(meta, MaxMetadataSize)
	if err != nil {
		return nil, err
	}
	doc, err := decodeDocument(metaBytes)
	if err != nil {
		return nil, err
	}
	codeBytes, err := readEntry(code, MaxCodeSize)
	if err != nil {
		return nil, err
	}
	return assemble(codeBytes, doc)
}

func readEntry(f *zip.File, limit int64) (data []byte, err error) {
	if f.UncompressedSize64 > uint64(limit) {
		return nil, errors.Overflow(errors.PhasePackage, []string{f.Name}, f.UncompressedSize64, "archive entry limit")
	}
	rc, err := f.Open()
	if err != nil {
		return nil, archiveError("zip", "open "+f.Name, err)
	}
	defer func() {
		err = multierr.Append(err, rc.Close())
	}()

	data, err = io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, archiveError("zip", "read "+f.Name, err)
	}
	if int64(len(data)) > limit {
		return nil, errors.Overflow(errors.PhasePackage, []string{f.Name}, len(data), "archive entry limit")
	}
	return data, nil
}

func archiveError(rule, detail string, cause error) error {
	return errors.New(errors.PhasePackage, errors.KindInvalidInput).
		Rule(rule).
		Detail("%s", detail).
		Cause(cause).
		Build()
}
