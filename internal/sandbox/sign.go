package sandbox

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// SignatureExt is appended to the artifact name for its detached signature.
const SignatureExt = ".sig"

// Signer produces detached binary OpenPGP signatures, the format pacman
// expects next to a package.
type Signer struct {
	entity *openpgp.Entity
}

// NewSigner reads an ASCII-armored private key. An encrypted key is
// unlocked with passphrase.
func NewSigner(armoredKey string, passphrase []byte) (*Signer, error) {
	entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armoredKey))
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	var signer *openpgp.Entity
	for _, e := range entities {
		if e.PrivateKey != nil {
			signer = e
			break
		}
	}
	if signer == nil {
		return nil, fmt.Errorf("no private key found")
	}
	if signer.PrivateKey.Encrypted {
		if len(passphrase) == 0 {
			return nil, fmt.Errorf("signing key %X is encrypted and no passphrase was given", signer.PrimaryKey.Fingerprint)
		}
		if err := signer.PrivateKey.Decrypt(passphrase); err != nil {
			return nil, fmt.Errorf("failed to unlock signing key: %w", err)
		}
		for _, sub := range signer.Subkeys {
			if sub.PrivateKey != nil && sub.PrivateKey.Encrypted {
				if err := sub.PrivateKey.Decrypt(passphrase); err != nil {
					return nil, fmt.Errorf("failed to unlock signing subkey: %w", err)
				}
			}
		}
	}
	return &Signer{entity: signer}, nil
}

// LoadSigner reads the key from a file.
func LoadSigner(path string, passphrase []byte) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key %s: %w", path, err)
	}
	return NewSigner(string(data), passphrase)
}

// Fingerprint identifies the signing key.
func (s *Signer) Fingerprint() string {
	return fmt.Sprintf("%X", s.entity.PrimaryKey.Fingerprint)
}

// Sign writes the detached signature of message to w.
func (s *Signer) Sign(w io.Writer, message io.Reader) error {
	if err := openpgp.DetachSign(w, s.entity, message, nil); err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}
	return nil
}
