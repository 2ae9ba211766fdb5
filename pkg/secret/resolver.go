package secret

import (
	"crypto/dsa" //nolint:staticcheck // stored credentials may still carry DSA keys
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/laoqin2024/LT-panle/pkg/store"
)

var (
	// ErrSecretUnavailable means the credential carries neither inline
	// content nor a key path.
	ErrSecretUnavailable = errors.New("credential has no usable secret: provide key content or a key path")
	// ErrSecretMalformed means secret content exists but parses as neither
	// a password nor any supported key encoding.
	ErrSecretMalformed = errors.New("secret content is malformed")
	// ErrKeyFileNotFound means a configured key path points at a missing
	// file on the manager host.
	ErrKeyFileNotFound = errors.New("private key file not found")
)

// KeyAlgo identifies a private key encoding.
type KeyAlgo string

const (
	AlgoRSA     KeyAlgo = "rsa"
	AlgoECDSA   KeyAlgo = "ecdsa"
	AlgoEd25519 KeyAlgo = "ed25519"
	AlgoDSA     KeyAlgo = "dsa"
)

// keyAlgoOrder is the fixed attempt sequence for key parsing. The first
// encoding that accepts the content wins; later ones are never consulted.
var keyAlgoOrder = []KeyAlgo{AlgoRSA, AlgoECDSA, AlgoEd25519, AlgoDSA}

// Secret is resolved authentication material: either a plaintext password
// or a parsed private key, discriminated by Kind.
type Secret struct {
	Kind     store.CredentialKind
	Password string
	Signer   ssh.Signer
	Algo     KeyAlgo
}

// Resolver resolves credential records using the blob cipher.
type Resolver struct {
	cipher *Cipher
}

func NewResolver(cipher *Cipher) *Resolver {
	return &Resolver{cipher: cipher}
}

// Resolve turns a credential record into usable authentication material.
// The credential record is never mutated.
func (r *Resolver) Resolve(cred *store.Credential) (*Secret, error) {
	switch cred.Kind {
	case store.KindPassword:
		return r.resolvePassword(cred)
	case store.KindSSHKey:
		return r.resolveKey(cred)
	default:
		return nil, fmt.Errorf("unsupported credential type %q", cred.Kind)
	}
}

func (r *Resolver) resolvePassword(cred *store.Credential) (*Secret, error) {
	if cred.EncryptedSecret == "" {
		return nil, ErrSecretUnavailable
	}
	password, err := r.cipher.Decrypt(cred.EncryptedSecret)
	if err != nil {
		return nil, fmt.Errorf("credential %d: %w", cred.ID, err)
	}
	return &Secret{Kind: store.KindPassword, Password: password}, nil
}

// resolveKey prefers inline encrypted key content; when all encodings
// reject it and a path is also configured, it falls back to the path.
func (r *Resolver) resolveKey(cred *store.Credential) (*Secret, error) {
	var lastErr error

	if cred.EncryptedSecret != "" {
		content, err := r.cipher.Decrypt(cred.EncryptedSecret)
		if err != nil {
			if cred.KeyPath == "" {
				return nil, fmt.Errorf("credential %d: %w", cred.ID, err)
			}
			logrus.Warnf("credential %d: inline key content undecryptable (%v), trying key path", cred.ID, err)
			return r.resolveKeyFromPath(cred)
		}

		signer, algo, err := parseKeyOrdered([]byte(strings.TrimSpace(content) + "\n"))
		if err == nil {
			logrus.Debugf("credential %d: loaded inline %s key", cred.ID, algo)
			return &Secret{Kind: store.KindSSHKey, Signer: signer, Algo: algo}, nil
		}
		lastErr = err

		if cred.KeyPath == "" {
			return nil, fmt.Errorf("%w: %v", ErrSecretMalformed, lastErr)
		}
		logrus.Warnf("credential %d: inline key content unparseable (%v), trying key path", cred.ID, lastErr)
	}

	if cred.KeyPath != "" {
		return r.resolveKeyFromPath(cred)
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrSecretMalformed, lastErr)
	}
	return nil, ErrSecretUnavailable
}

func (r *Resolver) resolveKeyFromPath(cred *store.Credential) (*Secret, error) {
	path := expandHome(cred.KeyPath)

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q (the key must exist on the manager host)", ErrKeyFileNotFound, path)
		}
		return nil, fmt.Errorf("stat key file %q: %w", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file %q: %w", path, err)
	}

	signer, algo, err := parseKeyOrdered(data)
	if err != nil {
		return nil, fmt.Errorf("%w: key file %q: %v", ErrSecretMalformed, path, err)
	}

	logrus.Debugf("credential %d: loaded %s key from %q", cred.ID, algo, path)
	return &Secret{Kind: store.KindSSHKey, Signer: signer, Algo: algo}, nil
}

// parseKeyOrdered attempts each supported encoding in the fixed order
// RSA, ECDSA, Ed25519, DSA and returns the first success.
func parseKeyOrdered(data []byte) (ssh.Signer, KeyAlgo, error) {
	var lastErr error
	for _, algo := range keyAlgoOrder {
		signer, err := parseKeyAs(data, algo)
		if err == nil {
			return signer, algo, nil
		}
		lastErr = err
	}
	return nil, "", fmt.Errorf("no supported key encoding accepted the content, last error: %v", lastErr)
}

// parseKeyAs parses data and accepts the result only when the concrete key
// type matches the requested encoding, so a successful parse can never be
// attributed to a different encoding than the one that produced it.
func parseKeyAs(data []byte, algo KeyAlgo) (ssh.Signer, error) {
	raw, err := ssh.ParseRawPrivateKey(data)
	if err != nil {
		return nil, err
	}
	if got := algoOf(raw); got != algo {
		return nil, fmt.Errorf("key is %s, not %s", got, algo)
	}
	return ssh.NewSignerFromKey(raw)
}

func algoOf(key interface{}) KeyAlgo {
	switch key.(type) {
	case *rsa.PrivateKey:
		return AlgoRSA
	case *ecdsa.PrivateKey:
		return AlgoECDSA
	case *ed25519.PrivateKey, ed25519.PrivateKey:
		return AlgoEd25519
	case *dsa.PrivateKey:
		return AlgoDSA
	default:
		return KeyAlgo(fmt.Sprintf("%T", key))
	}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
