package phi

import (
	"bytes"
	"strings"
	"testing"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestNewEncryptor_RejectsBadKeyLength(t *testing.T) {
	for _, n := range []int{0, 16, 31, 33, 64} {
		if _, err := NewEncryptor(make([]byte, n)); err == nil {
			t.Errorf("expected error for key length %d", n)
		}
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	e, err := NewEncryptor(testKey())
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}

	cases := []string{
		"",
		"ssn=123-45-6789",
		`{"mother_maiden_name":"Smith","first_pet":"Rex"}`,
		strings.Repeat("long fact ", 500),
	}
	for _, plaintext := range cases {
		ct, err := e.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plaintext, err)
		}
		if ct == plaintext && plaintext != "" {
			t.Fatalf("ciphertext equals plaintext")
		}
		got, err := e.Decrypt(ct)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if got != plaintext {
			t.Errorf("round trip mismatch: got %q want %q", got, plaintext)
		}
	}
}

func TestEncrypt_NonDeterministic(t *testing.T) {
	e, _ := NewEncryptor(testKey())
	a, _ := e.Encrypt("same input")
	b, _ := e.Encrypt("same input")
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical ciphertext")
	}
}

func TestDecrypt_RejectsTamperedCiphertext(t *testing.T) {
	e, _ := NewEncryptor(testKey())
	raw, err := e.EncryptBytes([]byte("secret"))
	if err != nil {
		t.Fatalf("EncryptBytes: %v", err)
	}
	raw[len(raw)-1] ^= 0xFF
	if _, err := e.DecryptBytes(raw); err == nil {
		t.Error("expected error decrypting tampered ciphertext")
	}
}

func TestDecrypt_RejectsShortInput(t *testing.T) {
	e, _ := NewEncryptor(testKey())
	if _, err := e.DecryptBytes([]byte{0x01, 0x02}); err == nil {
		t.Error("expected error for truncated input")
	}
}

func TestDecrypt_WrongKeyFails(t *testing.T) {
	e1, _ := NewEncryptor(testKey())
	e2, _ := NewEncryptor(bytes.Repeat([]byte{0x24}, 32))
	ct, _ := e1.Encrypt("secret")
	if _, err := e2.Decrypt(ct); err == nil {
		t.Error("expected decryption with wrong key to fail")
	}
}
