package httpcache

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Entry is one cached response: its payload bytes and the policy governing
// revalidation, kept separate within a single on-disk file so the policy
// can be rewritten after a 304 without touching the payload.
type Entry struct {
	Payload []byte
	Policy  CachePolicy
}

// Store persists Entry values as single files named by a content key,
// writing each to a fixed "<key>.tmp" sibling with os.Create and moving
// it into place with os.Rename.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates a Store rooted at dir, creating it if necessary.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating http cache directory %s: %w", dir, err)
	}

	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, keyFilename(key))
}

// keyFilename hashes a cache key into a flat filename: an HTTP cache key
// is an arbitrary URL, not a wheel filename safe to use on disk as-is.
func keyFilename(key string) string {
	sum := sha256.Sum256([]byte(key))

	return hex.EncodeToString(sum[:])
}

// Load reads the cached Entry for key, if present.
func (s *Store) Load(key string) (Entry, bool) {
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		return Entry{}, false
	}

	entry, err := decodeEntry(raw)
	if err != nil {
		s.logger.Debug("http cache entry corrupt, discarding", slog.String("key", key), slog.String("error", err.Error()))
		_ = os.Remove(s.path(key))

		return Entry{}, false
	}

	return entry, true
}

// Store writes entry for key, replacing any previous value atomically.
func (s *Store) Store(key string, entry Entry) error {
	encoded, err := encodeEntry(entry)
	if err != nil {
		return fmt.Errorf("encoding cache entry for %s: %w", key, err)
	}

	dstPath := s.path(key)
	tmpPath := dstPath + ".tmp"

	tmp, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}

	if _, err := tmp.Write(encoded); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)

		return fmt.Errorf("writing cache file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("closing cache file: %w", err)
	}

	if err := os.Rename(tmpPath, dstPath); err != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("renaming cache file: %w", err)
	}

	return nil
}

// encodeEntry serializes an Entry as payload || policy_bytes ||
// u64-LE(len(policy_bytes)), keeping the policy as a rewritable suffix.
func encodeEntry(entry Entry) ([]byte, error) {
	policyBytes, err := json.Marshal(entry.Policy)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer

	buf.Write(entry.Payload)
	buf.Write(policyBytes)

	var lenSuffix [8]byte
	binary.LittleEndian.PutUint64(lenSuffix[:], uint64(len(policyBytes)))
	buf.Write(lenSuffix[:])

	return buf.Bytes(), nil
}

func decodeEntry(raw []byte) (Entry, error) {
	if len(raw) < 8 {
		return Entry{}, fmt.Errorf("cache entry too short: %d bytes", len(raw))
	}

	policyLen := binary.LittleEndian.Uint64(raw[len(raw)-8:])

	bodyEnd := len(raw) - 8
	policyStart := bodyEnd - int(policyLen)

	if policyStart < 0 || policyStart > bodyEnd {
		return Entry{}, fmt.Errorf("cache entry policy length %d exceeds file size", policyLen)
	}

	var policy CachePolicy
	if err := json.Unmarshal(raw[policyStart:bodyEnd], &policy); err != nil {
		return Entry{}, fmt.Errorf("decoding cache policy: %w", err)
	}

	return Entry{Payload: raw[:policyStart], Policy: policy}, nil
}

// ReadAll is a convenience for tests and callers that already have an
// io.Reader instead of a byte slice.
func ReadAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}
