package pkgfile

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Signer holds the key packages are signed with.
type Signer struct {
	KeyID string
	Key   ed25519.PrivateKey
}

func (s *Signer) sign(sig *Signature) {
	sig.KeyID = s.KeyID
	sig.Sig = hex.EncodeToString(ed25519.Sign(s.Key, sig.signedData()))
}

// KeyRing maps key ids to trusted public keys.
type KeyRing map[string]ed25519.PublicKey

func (k KeyRing) verify(sig *Signature) error {
	pub, ok := k[sig.KeyID]
	if !ok {
		return fmt.Errorf("public key '%s' not found in keyring", sig.KeyID)
	}
	raw, err := hex.DecodeString(sig.Sig)
	if err != nil {
		return fmt.Errorf("invalid signature format: %w", err)
	}
	if !ed25519.Verify(pub, sig.signedData(), raw) {
		return errors.New("signature verification failed")
	}
	return nil
}

// ParsePrivateKey accepts 128 hex characters or 64 raw bytes.
func ParsePrivateKey(data []byte) (ed25519.PrivateKey, error) {
	trimmed := strings.TrimSpace(string(data))
	if len(trimmed) == 2*ed25519.PrivateKeySize {
		if decoded, err := hex.DecodeString(trimmed); err == nil {
			return ed25519.PrivateKey(decoded), nil
		}
	}
	if len(data) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(data), nil
	}
	return nil, fmt.Errorf("invalid private key format (expected 64 bytes raw or 128 hex chars, got %d)", len(trimmed))
}

// ParsePublicKey accepts 64 hex characters or 32 raw bytes.
func ParsePublicKey(data []byte) (ed25519.PublicKey, error) {
	trimmed := strings.TrimSpace(string(data))
	if len(trimmed) == 2*ed25519.PublicKeySize {
		if decoded, err := hex.DecodeString(trimmed); err == nil {
			return ed25519.PublicKey(decoded), nil
		}
	}
	if len(data) == ed25519.PublicKeySize {
		return ed25519.PublicKey(data), nil
	}
	return nil, fmt.Errorf("invalid public key format (expected 32 bytes raw or 64 hex chars, got %d)", len(trimmed))
}

// LoadSigner reads <dir>/<id>.key.
func LoadSigner(dir, id string) (*Signer, error) {
	path := filepath.Join(dir, id+".key")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("private key not found at %s", path)
	}
	key, err := ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Signer{KeyID: id, Key: key}, nil
}

// LoadKeyRing reads every <id>.pub in dirs. Earlier directories win when
// an id appears twice; unreadable or malformed files are skipped.
func LoadKeyRing(dirs ...string) KeyRing {
	ring := make(KeyRing)
	for _, dir := range dirs {
		files, err := filepath.Glob(filepath.Join(dir, "*.pub"))
		if err != nil {
			continue
		}
		for _, file := range files {
			id := strings.TrimSuffix(filepath.Base(file), ".pub")
			if _, seen := ring[id]; seen {
				continue
			}
			data, err := os.ReadFile(file)
			if err != nil {
				continue
			}
			if pub, err := ParsePublicKey(data); err == nil {
				ring[id] = pub
			}
		}
	}
	return ring
}

// GenerateKeyPair creates <dir>/<id>.key (0600) and <dir>/<id>.pub (0644),
// both hex encoded, and returns the public key.
func GenerateKeyPair(dir, id string) (ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	privPath := filepath.Join(dir, id+".key")
	if err := os.WriteFile(privPath, []byte(hex.EncodeToString(priv)), 0o600); err != nil {
		return nil, fmt.Errorf("failed to save private key: %w", err)
	}
	pubPath := filepath.Join(dir, id+".pub")
	if err := os.WriteFile(pubPath, []byte(hex.EncodeToString(pub)), 0o644); err != nil {
		return nil, fmt.Errorf("failed to save public key: %w", err)
	}
	return pub, nil
}
