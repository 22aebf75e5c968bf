package cryptoapi

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rand"
	"testing"
)

func mustGenerate(t *testing.T) (SecretKey, PublicKey) {
	t.Helper()
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var sec SecretKey
	copy(sec[:], priv.Bytes())
	var pub PublicKey
	copy(pub[:], priv.PublicKey().Bytes())
	return sec, pub
}

func TestEncryptDecryptForIsMutual(t *testing.T) {
	aSecret, aPublic := mustGenerate(t)
	bSecret, bPublic := mustGenerate(t)

	aApi, err := New(aSecret)
	if err != nil {
		t.Fatalf("new A: %v", err)
	}
	bApi, err := New(bSecret)
	if err != nil {
		t.Fatalf("new B: %v", err)
	}

	aSession, err := aApi.EncryptDecryptFor(bPublic)
	if err != nil {
		t.Fatalf("A session: %v", err)
	}
	bSession, err := bApi.EncryptDecryptFor(aPublic)
	if err != nil {
		t.Fatalf("B session: %v", err)
	}

	plaintext := []byte("hello peer")
	ciphertext, err := aSession.EncryptAndEmbedNonce(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got, err := bSession.DecryptWithEmbeddedNonce(ciphertext)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("got %q, want %q", got, plaintext)
	}
}

func TestEncryptAndEmbedNonceUsesDistinctNoncesPerCall(t *testing.T) {
	aSecret, _ := mustGenerate(t)
	_, bPublic := mustGenerate(t)
	aApi, _ := New(aSecret)
	session, err := aApi.EncryptDecryptFor(bPublic)
	if err != nil {
		t.Fatalf("session: %v", err)
	}

	c1, err := session.EncryptAndEmbedNonce([]byte("same plaintext"))
	if err != nil {
		t.Fatalf("encrypt 1: %v", err)
	}
	c2, err := session.EncryptAndEmbedNonce([]byte("same plaintext"))
	if err != nil {
		t.Fatalf("encrypt 2: %v", err)
	}
	if bytes.Equal(c1, c2) {
		t.Fatal("two calls with identical plaintext must not produce identical ciphertext")
	}
}

func TestDecryptWithEmbeddedNonceRejectsShortCiphertext(t *testing.T) {
	aSecret, _ := mustGenerate(t)
	_, bPublic := mustGenerate(t)
	aApi, _ := New(aSecret)
	session, _ := aApi.EncryptDecryptFor(bPublic)

	if _, err := session.DecryptWithEmbeddedNonce([]byte("short")); err != ErrCiphertextTooShort {
		t.Fatalf("got %v, want ErrCiphertextTooShort", err)
	}
}

func TestSharedKeyCounterVariantRoundTrip(t *testing.T) {
	aSecret, aPublic := mustGenerate(t)
	bSecret, bPublic := mustGenerate(t)
	aApi, _ := New(aSecret)
	bApi, _ := New(bSecret)

	aSession, err := aApi.EncryptDecryptFor(bPublic)
	if err != nil {
		t.Fatalf("A session: %v", err)
	}
	bSession, err := bApi.EncryptDecryptFor(aPublic)
	if err != nil {
		t.Fatalf("B session: %v", err)
	}

	aKeyed, err := aSession.SharedKey(bPublic)
	if err != nil {
		t.Fatalf("A shared key: %v", err)
	}
	bKeyed, err := bSession.SharedKey(aPublic)
	if err != nil {
		t.Fatalf("B shared key: %v", err)
	}

	for i := 0; i < 3; i++ {
		plaintext := []byte("frame payload")
		ciphertext, err := aKeyed.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("encrypt at counter %d: %v", i, err)
		}
		got, err := bKeyed.Decrypt(ciphertext)
		if err != nil {
			t.Fatalf("decrypt at counter %d: %v", i, err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("round-trip mismatch at counter %d", i)
		}
	}
	if aKeyed.SendCounter() != 3 {
		t.Fatalf("send counter = %d, want 3", aKeyed.SendCounter())
	}
	if bKeyed.RecvCounter() != 3 {
		t.Fatalf("recv counter = %d, want 3", bKeyed.RecvCounter())
	}
}

func TestSharedKeyDecryptFailsOnOutOfOrderCounter(t *testing.T) {
	aSecret, aPublic := mustGenerate(t)
	bSecret, bPublic := mustGenerate(t)
	aApi, _ := New(aSecret)
	bApi, _ := New(bSecret)

	aSession, _ := aApi.EncryptDecryptFor(bPublic)
	bSession, _ := bApi.EncryptDecryptFor(aPublic)

	aKeyed, _ := aSession.SharedKey(bPublic)
	bKeyed, _ := bSession.SharedKey(aPublic)

	first, _ := aKeyed.Encrypt([]byte("one"))
	second, _ := aKeyed.Encrypt([]byte("two"))

	// Deliver out of order: decrypting "second" first consumes counter 0,
	// which was sealed under counter 1, so it must fail to authenticate.
	if _, err := bKeyed.Decrypt(second); err == nil {
		t.Fatal("expected failure decrypting out-of-order frame")
	}
	// Replaying the same frame twice must also fail: the receive counter
	// already advanced past it.
	if _, err := bKeyed.Decrypt(first); err != nil {
		t.Fatalf("expected first in-order frame to decrypt: %v", err)
	}
	if _, err := bKeyed.Decrypt(first); err == nil {
		t.Fatal("expected replay of an already-consumed frame to fail")
	}
}
