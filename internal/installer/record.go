package installer

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// RecordEntry is one row of a dist-info RECORD file: path, digest, size.
type RecordEntry struct {
	Path   string
	Digest string // "sha256=<hex>", empty for the RECORD file itself
	Size   int64
}

// DigestFile hashes a file into RECORD's digest format and reports its
// size.
func DigestFile(path string) (RecordEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return RecordEntry{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()

	size, err := io.Copy(h, f)
	if err != nil {
		return RecordEntry{}, fmt.Errorf("hashing %s: %w", path, err)
	}

	return RecordEntry{
		Path:   path,
		Digest: "sha256=" + hex.EncodeToString(h.Sum(nil)),
		Size:   size,
	}, nil
}

// WriteRecord writes the RECORD CSV into distInfoDir. The RECORD file
// lists itself last, with digest and size left empty per PEP 376.
func WriteRecord(distInfoDir string, entries []RecordEntry) error {
	path := filepath.Join(distInfoDir, "RECORD")

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating RECORD: %w", err)
	}

	w := csv.NewWriter(f)

	for _, e := range entries {
		if err := w.Write([]string{e.Path, e.Digest, strconv.FormatInt(e.Size, 10)}); err != nil {
			_ = f.Close()

			return fmt.Errorf("writing RECORD row: %w", err)
		}
	}

	self := filepath.Join(filepath.Base(distInfoDir), "RECORD")
	if err := w.Write([]string{self, "", ""}); err != nil {
		_ = f.Close()

		return fmt.Errorf("writing RECORD self-row: %w", err)
	}

	w.Flush()

	if err := w.Error(); err != nil {
		_ = f.Close()

		return fmt.Errorf("flushing RECORD: %w", err)
	}

	return f.Close()
}

// ParseRecord reads a RECORD file back into entries. Rows with a blank
// size field (the RECORD self-row) carry size -1.
func ParseRecord(r io.Reader) ([]RecordEntry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3

	var entries []RecordEntry

	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing RECORD: %w", err)
		}

		size := int64(-1)

		if row[2] != "" {
			size, err = strconv.ParseInt(row[2], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing RECORD size %q: %w", row[2], err)
			}
		}

		entries = append(entries, RecordEntry{Path: row[0], Digest: row[1], Size: size})
	}

	return entries, nil
}

// WriteInstaller marks distInfoDir as installed by this tool.
func WriteInstaller(distInfoDir string) error {
	return os.WriteFile(filepath.Join(distInfoDir, "INSTALLER"), []byte("pipg\n"), 0o644)
}
