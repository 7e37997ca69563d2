// Package security implements the external "Security manager" collaborator
// from spec.md §1: it holds the shared network key and the encryption
// primitives the S0 bootstrap (spec §4.3) needs to wrap the key-exchange
// messages it sends through the Transport. The bootstrap state machine
// itself lives in internal/controller; this package only provides key
// material and framing-independent crypto.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the S0 network key size in bytes (AES-128).
const KeySize = 16

// NonceSize is the size of an S0 nonce in bytes. Manager does not generate
// nonces itself; the nonce arrives from the node (spec §4.3).
const NonceSize = 8

// Manager is the Security manager external collaborator (spec §1, §4.3).
// A nil *Manager (or a controller configured without one) means "no
// security manager configured" — secureBootstrapS0 treats that as an
// immediate "mark insecure and return" (spec §4.3).
type Manager struct {
	networkKey []byte
	freeNonces map[string][]byte
}

// New creates a Manager around an existing network key. The key is the
// shared secret every node in the network is provisioned with during S0
// bootstrap.
func New(networkKey []byte) (*Manager, error) {
	if len(networkKey) != KeySize {
		return nil, fmt.Errorf("network key must be %d bytes, got %d", KeySize, len(networkKey))
	}
	return &Manager{
		networkKey: append([]byte(nil), networkKey...),
		freeNonces: make(map[string][]byte),
	}, nil
}

// GenerateNetworkKey creates a fresh random network key, used when
// forming a brand new network rather than resuming one from cache.
func GenerateNetworkKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate network key: %w", err)
	}
	return key, nil
}

// NetworkKey returns the shared network key.
func (m *Manager) NetworkKey() []byte {
	return append([]byte(nil), m.networkKey...)
}

// StoreAsFreeNonce records a nonce (typically received from a node) as
// that node's free nonce, overwriting any previous one — a node offers
// exactly one usable nonce at a time.
func (m *Manager) StoreAsFreeNonce(nodeID uint8, nonce []byte) {
	m.freeNonces[nonceKey(nodeID)] = append([]byte(nil), nonce...)
}

// TakeFreeNonce consumes and clears the node's stored free nonce. Returns
// false if none is stored.
func (m *Manager) TakeFreeNonce(nodeID uint8) ([]byte, bool) {
	k := nonceKey(nodeID)
	nonce, ok := m.freeNonces[k]
	if ok {
		delete(m.freeNonces, k)
	}
	return nonce, ok
}

func nonceKey(nodeID uint8) string {
	return fmt.Sprintf("node:%d", nodeID)
}

// ConfirmationKey derives a per-exchange confirmation key from the
// network key and nonce material using HKDF-SHA256, used to authenticate
// the "set the network key" step of S0 bootstrap (spec §4.3) without
// ever transmitting the network key itself unwrapped. This mirrors the
// HKDF-based key derivation used elsewhere in the pack's commissioning
// handshakes (grounded on the SPAKE2+ confirmation step).
func (m *Manager) ConfirmationKey(nonce []byte, info string) ([]byte, error) {
	h := hkdf.New(sha256.New, m.networkKey, nonce, []byte(info))
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, fmt.Errorf("derive confirmation key: %w", err)
	}
	return out, nil
}

// Encrypt wraps plaintext under AES-128-OFB keyed by the network key,
// using nonce as the IV. S0 uses AES-OFB for payload encryption and a
// separate AES-CBC-MAC for authentication; the controller core treats
// both as an opaque Transport payload-wrapping step, so only the
// encryption primitive itself is implemented here.
func (m *Manager) Encrypt(nonce, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(m.networkKey)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	iv := padNonce(nonce, aes.BlockSize)
	out := make([]byte, len(plaintext))
	stream := cipher.NewOFB(block, iv)
	stream.XORKeyStream(out, plaintext)
	return out, nil
}

// Decrypt reverses Encrypt.
func (m *Manager) Decrypt(nonce, ciphertext []byte) ([]byte, error) {
	return m.Encrypt(nonce, ciphertext) // OFB is symmetric
}

func padNonce(nonce []byte, size int) []byte {
	if len(nonce) >= size {
		return nonce[:size]
	}
	out := make([]byte, size)
	copy(out, nonce)
	return out
}
