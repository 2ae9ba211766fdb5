package secret

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/laoqin2024/LT-panle/pkg/store"
)

func testResolver(t *testing.T) (*Resolver, *Cipher) {
	t.Helper()
	c := NewCipher("resolver-test-passphrase")
	return NewResolver(c), c
}

func mustEncrypt(t *testing.T, c *Cipher, plaintext string) string {
	t.Helper()
	blob, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	return blob
}

func TestResolvePassword(t *testing.T) {
	r, c := testResolver(t)

	sec, err := r.Resolve(&store.Credential{
		ID:              1,
		Kind:            store.KindPassword,
		Username:        "root",
		EncryptedSecret: mustEncrypt(t, c, "hunter2"),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if sec.Kind != store.KindPassword || sec.Password != "hunter2" {
		t.Fatalf("unexpected secret: %+v", sec)
	}
	if sec.Signer != nil {
		t.Fatal("password secret must not carry a signer")
	}
}

func TestResolvePasswordEmpty(t *testing.T) {
	r, _ := testResolver(t)

	_, err := r.Resolve(&store.Credential{ID: 1, Kind: store.KindPassword})
	if !errors.Is(err, ErrSecretUnavailable) {
		t.Fatalf("want ErrSecretUnavailable, got %v", err)
	}
}

// Every fixture must come back tagged with its own encoding, proving that a
// key is never claimed by an earlier entry in the attempt order.
func TestResolveKeyAlgoDetection(t *testing.T) {
	r, c := testResolver(t)

	cases := []struct {
		file string
		algo KeyAlgo
	}{
		{"id_rsa", AlgoRSA},
		{"id_ecdsa", AlgoECDSA},
		{"id_ed25519", AlgoEd25519},
		{"id_dsa", AlgoDSA},
	}

	for _, tc := range cases {
		data, err := os.ReadFile(filepath.Join("testdata", tc.file))
		if err != nil {
			t.Fatalf("read fixture %s: %v", tc.file, err)
		}

		sec, err := r.Resolve(&store.Credential{
			ID:              2,
			Kind:            store.KindSSHKey,
			EncryptedSecret: mustEncrypt(t, c, string(data)),
		})
		if err != nil {
			t.Fatalf("%s: resolve: %v", tc.file, err)
		}
		if sec.Algo != tc.algo {
			t.Fatalf("%s: want algo %s, got %s", tc.file, tc.algo, sec.Algo)
		}
		if sec.Signer == nil {
			t.Fatalf("%s: nil signer", tc.file)
		}
	}
}

func TestResolveKeyFromPath(t *testing.T) {
	r, _ := testResolver(t)

	sec, err := r.Resolve(&store.Credential{
		ID:      3,
		Kind:    store.KindSSHKey,
		KeyPath: filepath.Join("testdata", "id_ed25519"),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if sec.Algo != AlgoEd25519 {
		t.Fatalf("want ed25519, got %s", sec.Algo)
	}
}

// Inline content wins over the path when both are set and the content parses.
func TestResolveKeyInlinePrecedence(t *testing.T) {
	r, c := testResolver(t)

	data, err := os.ReadFile(filepath.Join("testdata", "id_rsa"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	sec, err := r.Resolve(&store.Credential{
		ID:              4,
		Kind:            store.KindSSHKey,
		EncryptedSecret: mustEncrypt(t, c, string(data)),
		KeyPath:         filepath.Join("testdata", "id_ed25519"),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if sec.Algo != AlgoRSA {
		t.Fatalf("inline rsa key should win over ed25519 path, got %s", sec.Algo)
	}
}

// Garbage inline content falls through to the configured path.
func TestResolveKeyPathFallback(t *testing.T) {
	r, c := testResolver(t)

	sec, err := r.Resolve(&store.Credential{
		ID:              5,
		Kind:            store.KindSSHKey,
		EncryptedSecret: mustEncrypt(t, c, "this is not a private key"),
		KeyPath:         filepath.Join("testdata", "id_ecdsa"),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if sec.Algo != AlgoECDSA {
		t.Fatalf("want ecdsa from path fallback, got %s", sec.Algo)
	}
}

func TestResolveKeyFileMissing(t *testing.T) {
	r, _ := testResolver(t)

	_, err := r.Resolve(&store.Credential{
		ID:      6,
		Kind:    store.KindSSHKey,
		KeyPath: filepath.Join(t.TempDir(), "no_such_key"),
	})
	if !errors.Is(err, ErrKeyFileNotFound) {
		t.Fatalf("want ErrKeyFileNotFound, got %v", err)
	}
}

func TestResolveKeyMalformed(t *testing.T) {
	r, c := testResolver(t)

	_, err := r.Resolve(&store.Credential{
		ID:              7,
		Kind:            store.KindSSHKey,
		EncryptedSecret: mustEncrypt(t, c, "this is not a private key"),
	})
	if !errors.Is(err, ErrSecretMalformed) {
		t.Fatalf("want ErrSecretMalformed, got %v", err)
	}
}

func TestResolveKeyNothingConfigured(t *testing.T) {
	r, _ := testResolver(t)

	_, err := r.Resolve(&store.Credential{ID: 8, Kind: store.KindSSHKey})
	if !errors.Is(err, ErrSecretUnavailable) {
		t.Fatalf("want ErrSecretUnavailable, got %v", err)
	}
}
