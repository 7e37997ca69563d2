package security

import (
	"bytes"
	"testing"
)

func TestNewRejectsWrongKeySize(t *testing.T) {
	if _, err := New(make([]byte, 5)); err == nil {
		t.Fatal("New with a 5-byte key err = nil, want an error")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	mgr, err := New(make([]byte, KeySize))
	if err != nil {
		t.Fatalf("New err = %v", err)
	}
	nonce := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	plaintext := []byte("network key material")

	ciphertext, err := mgr.Encrypt(nonce, plaintext)
	if err != nil {
		t.Fatalf("Encrypt err = %v", err)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Error("Encrypt returned plaintext unchanged")
	}
	decrypted, err := mgr.Decrypt(nonce, ciphertext)
	if err != nil {
		t.Fatalf("Decrypt err = %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("Decrypt(Encrypt(x)) = %q, want %q", decrypted, plaintext)
	}
}

// TestFreeNonceLifecycle covers the "request a nonce with storeAsFreeNonce"
// / "consume it once" contract the S0 bootstrap relies on (spec.md §4.3).
func TestFreeNonceLifecycle(t *testing.T) {
	mgr, err := New(make([]byte, KeySize))
	if err != nil {
		t.Fatalf("New err = %v", err)
	}

	if _, ok := mgr.TakeFreeNonce(5); ok {
		t.Fatal("TakeFreeNonce before any nonce was stored returned ok=true")
	}

	mgr.StoreAsFreeNonce(5, []byte{9, 9, 9})
	nonce, ok := mgr.TakeFreeNonce(5)
	if !ok || !bytes.Equal(nonce, []byte{9, 9, 9}) {
		t.Fatalf("TakeFreeNonce = (%v, %v), want ([9 9 9], true)", nonce, ok)
	}

	if _, ok := mgr.TakeFreeNonce(5); ok {
		t.Error("TakeFreeNonce after consuming the only nonce returned ok=true")
	}
}

func TestGenerateNetworkKeySize(t *testing.T) {
	key, err := GenerateNetworkKey()
	if err != nil {
		t.Fatalf("GenerateNetworkKey err = %v", err)
	}
	if len(key) != KeySize {
		t.Errorf("len(key) = %d, want %d", len(key), KeySize)
	}
}
