package knownhosts_test

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // test-only, matching the hashed-hostname format under test.
	"encoding/base64"
	"testing"

	"github.com/pipg-project/pipg/internal/knownhosts"
)

const testKeyB64 = "AAAAC3NzaC1lZDI1NTE5AAAAINxO2pBfGXXrAxVHdlEqK3GUgNFJRqHG9PiDhxSZ2kPI"

func TestHostMatchesCaseInsensitive(t *testing.T) {
	entries := knownhosts.Parse("example.com,rust-lang.org ssh-ed25519 " + testKeyB64)

	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	if !entries[0].HostMatches("EXAMPLE.COM") {
		t.Error("expected case-insensitive match for EXAMPLE.COM")
	}

	if entries[0].HostMatches("example.net") {
		t.Error("expected no match for example.net")
	}
}

func TestRevokedKeyRejected(t *testing.T) {
	key, err := base64.StdEncoding.DecodeString(testKeyB64)
	if err != nil {
		t.Fatalf("decoding test key: %v", err)
	}

	entries := knownhosts.Parse("@revoked example.com ssh-ed25519 " + testKeyB64)

	verdict := knownhosts.Check(entries, "example.com", "ssh-ed25519", key)
	if verdict != knownhosts.VerdictRevoked {
		t.Errorf("Check() = %v, want VerdictRevoked", verdict)
	}
}

func TestHashedHostnameMatch(t *testing.T) {
	host := "example.com"
	salt := []byte("0123456789abcdef0123")

	mac := hmac.New(sha1.New, salt)
	mac.Write([]byte(host))
	digest := mac.Sum(nil)

	hashed := "|1|" + base64.StdEncoding.EncodeToString(salt) + "|" + base64.StdEncoding.EncodeToString(digest)

	entries := knownhosts.Parse(hashed + " ssh-ed25519 " + testKeyB64)

	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	if !entries[0].HostMatches("example.com") {
		t.Error("expected hashed hostname to match example.com")
	}

	if entries[0].HostMatches("other.example.com") {
		t.Error("expected hashed hostname not to match a different host")
	}
}

func TestCheckUnknownHost(t *testing.T) {
	key, err := base64.StdEncoding.DecodeString(testKeyB64)
	if err != nil {
		t.Fatalf("decoding test key: %v", err)
	}

	verdict := knownhosts.Check(nil, "example.com", "ssh-ed25519", key)
	if verdict != knownhosts.VerdictUnknown {
		t.Errorf("Check() = %v, want VerdictUnknown", verdict)
	}
}

func TestCheckChangedKey(t *testing.T) {
	key, err := base64.StdEncoding.DecodeString(testKeyB64)
	if err != nil {
		t.Fatalf("decoding test key: %v", err)
	}

	entries := knownhosts.Parse("example.com ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIOMqqnkVzrm0SdG6UOoqKLsabgH5C9okWi0dh2l9GKJl")

	verdict := knownhosts.Check(entries, "example.com", "ssh-ed25519", key)
	if verdict != knownhosts.VerdictChanged {
		t.Errorf("Check() = %v, want VerdictChanged", verdict)
	}
}

func TestBundledKeysDecodeCleanly(t *testing.T) {
	if len(knownhosts.Bundled) == 0 {
		t.Fatal("expected at least one bundled key")
	}

	for _, e := range knownhosts.Bundled {
		if len(e.Key) == 0 {
			t.Errorf("bundled key for %s/%s decoded empty", e.Patterns, e.KeyType)
		}
	}
}
