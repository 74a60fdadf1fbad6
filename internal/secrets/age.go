// Package secrets provides age-encrypted secret storage for the secrets
// capability.
package secrets

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

const blobPrefix = "ENC[age:"
const blobSuffix = "]"

// EnsureIdentity loads the age key from path, generating a fresh X25519
// key pair first when the file does not exist yet. The key file is written
// with 0o600 and carries the public key in a comment for operators.
func EnsureIdentity(path string) (*age.X25519Identity, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		identity, err := age.GenerateX25519Identity()
		if err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("key directory: %w", err)
		}
		content := fmt.Sprintf("# created by pavilion\n# public key: %s\n%s\n",
			identity.Recipient().String(), identity.String())
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			return nil, fmt.Errorf("write key: %w", err)
		}
		return identity, nil
	}
	return LoadIdentity(path)
}

// LoadIdentity reads an X25519 private key from the given file.
func LoadIdentity(path string) (*age.X25519Identity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	identities, err := age.ParseIdentities(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse key file %s: %w", path, err)
	}
	for _, id := range identities {
		if x, ok := id.(*age.X25519Identity); ok {
			return x, nil
		}
	}
	return nil, fmt.Errorf("no usable X25519 key in %s", path)
}

// Encrypt seals plaintext for the recipient into an ENC[age:...] blob.
func Encrypt(plaintext string, recipient *age.X25519Recipient) (string, error) {
	var sealed bytes.Buffer
	w, err := age.Encrypt(&sealed, recipient)
	if err != nil {
		return "", fmt.Errorf("seal: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("seal: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("seal: %w", err)
	}
	return blobPrefix + base64.StdEncoding.EncodeToString(sealed.Bytes()) + blobSuffix, nil
}

// Decrypt opens an ENC[age:...] blob produced by Encrypt.
func Decrypt(blob string, identity *age.X25519Identity) (string, error) {
	inner, ok := strings.CutPrefix(blob, blobPrefix)
	if !ok {
		return "", fmt.Errorf("value is not an encrypted blob")
	}
	inner, ok = strings.CutSuffix(inner, blobSuffix)
	if !ok {
		return "", fmt.Errorf("value is not an encrypted blob")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(inner)
	if err != nil {
		return "", fmt.Errorf("decode blob: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return "", fmt.Errorf("open blob: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("open blob: %w", err)
	}
	return string(plain), nil
}

// IsEncrypted reports whether s looks like an ENC[age:...] blob.
func IsEncrypted(s string) bool {
	return strings.HasPrefix(s, blobPrefix) && strings.HasSuffix(s, blobSuffix)
}
