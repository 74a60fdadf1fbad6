package secrets

import (
	"fmt"
	"os"
	"strings"

	"filippo.io/age"
	"github.com/marcozac/go-jsonc"
)

// Bag holds named secrets loaded from a JSONC file. Values may be plaintext
// or ENC[age:...] blobs, decrypted lazily on read.
type Bag struct {
	values   map[string]string
	identity *age.X25519Identity
}

// LoadBag reads a secrets file and returns a Bag. A missing file yields an
// empty bag. The identity may be nil when no encrypted values are expected.
func LoadBag(path string, identity *age.X25519Identity) (*Bag, error) {
	bag := &Bag{values: map[string]string{}, identity: identity}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return bag, nil
		}
		return nil, fmt.Errorf("read secrets file %s: %w", path, err)
	}

	if err := jsonc.Unmarshal(data, &bag.values); err != nil {
		return nil, fmt.Errorf("parse secrets file %s: %w", path, err)
	}
	return bag, nil
}

// Get returns the secret for key, decrypting if needed.
func (b *Bag) Get(key string) (string, error) {
	value, ok := b.values[key]
	if !ok {
		return "", fmt.Errorf("secret %q not found", key)
	}
	if !IsEncrypted(value) {
		return value, nil
	}
	if b.identity == nil {
		return "", fmt.Errorf("secret %q is encrypted but no identity is loaded", key)
	}
	return Decrypt(value, b.identity)
}

// Scoped returns a view of the bag restricted to a plugin namespace: only
// keys under "<namespace>." or "shared." are readable.
func (b *Bag) Scoped(namespace string) *ScopedBag {
	return &ScopedBag{bag: b, namespace: namespace}
}

// ScopedBag is the namespaced secrets handle handed to plugins.
type ScopedBag struct {
	bag       *Bag
	namespace string
}

// Get returns a secret the namespace may read.
func (s *ScopedBag) Get(key string) (string, error) {
	if !strings.HasPrefix(key, s.namespace+".") && !strings.HasPrefix(key, "shared.") {
		return "", fmt.Errorf("secret %q is outside namespace %q", key, s.namespace)
	}
	return s.bag.Get(key)
}
