package keychain

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Keychain stores 32-byte keys by tag.
type Keychain struct {
	mu   sync.RWMutex
	keys map[string][KeySize]byte
}

func New() *Keychain {
	return &Keychain{keys: make(map[string][KeySize]byte)}
}

func (k *Keychain) Set(tag string, key [KeySize]byte) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[tag] = key
}

func (k *Keychain) Get(tag string) ([KeySize]byte, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[strings.TrimSpace(tag)]
	return key, ok
}

func (k *Keychain) Has(tag string) bool {
	_, ok := k.Get(tag)
	return ok
}

// Delete wipes and removes the key. It reports whether a key was present.
func (k *Keychain) Delete(tag string) bool {
	tag = strings.TrimSpace(tag)
	k.mu.Lock()
	defer k.mu.Unlock()
	key, ok := k.keys[tag]
	if !ok {
		return false
	}
	Wipe(key[:])
	delete(k.keys, tag)
	return true
}

// Tags lists stored tags in sorted order.
func (k *Keychain) Tags() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]string, 0, len(k.keys))
	for tag := range k.keys {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Export hex-encodes every key for persistence.
func (k *Keychain) Export() map[string]string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make(map[string]string, len(k.keys))
	for tag, key := range k.keys {
		out[tag] = hex.EncodeToString(key[:])
	}
	return out
}

// Import replaces the keychain contents with hex-encoded keys.
func (k *Keychain) Import(in map[string]string) error {
	keys := make(map[string][KeySize]byte, len(in))
	for tag, raw := range in {
		b, err := hex.DecodeString(raw)
		if err != nil || len(b) != KeySize {
			return fmt.Errorf("keychain: invalid stored key for tag %q", tag)
		}
		var key [KeySize]byte
		copy(key[:], b)
		keys[tag] = key
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys = keys
	return nil
}
