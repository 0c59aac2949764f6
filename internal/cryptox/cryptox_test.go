package cryptox

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func testCipher(t *testing.T) *BlobCipher {
	t.Helper()
	key := bytes.Repeat([]byte{0x42}, KeySize)
	c, err := NewBlobCipher(key)
	if err != nil {
		t.Fatalf("NewBlobCipher failed: %v", err)
	}
	return c
}

func TestBlobCipher_RoundTrip(t *testing.T) {
	c := testCipher(t)

	samples := [][]byte{
		[]byte("fingerprint-v1"),
		[]byte(""),
		[]byte{0x00, 0xff, 0x10},
		bytes.Repeat([]byte("x"), 4096),
	}

	for _, sample := range samples {
		blob, err := c.Encrypt(sample)
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		got, err := c.Decrypt(blob)
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if !bytes.Equal(got, sample) {
			t.Errorf("round trip mismatch: want %q, got %q", sample, got)
		}
	}
}

func TestBlobCipher_EncryptIsRandomized(t *testing.T) {
	c := testCipher(t)

	b1, err := c.Encrypt([]byte("fingerprint-v1"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	b2, err := c.Encrypt([]byte("fingerprint-v1"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if b1 == b2 {
		t.Error("two encryptions of the same sample produced identical blobs")
	}
}

func TestBlobCipher_DecryptRejectsTamperedBlob(t *testing.T) {
	c := testCipher(t)

	blob, err := c.Encrypt([]byte("fingerprint-v1"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	cases := []string{
		"",
		"not-base64!!!",
		"AAAA", // too short
		strings.Replace(blob, blob[10:11], "A", 1),
	}
	for _, tampered := range cases {
		if tampered == blob {
			continue
		}
		if _, err := c.Decrypt(tampered); !errors.Is(err, ErrInvalidBlob) {
			t.Errorf("Decrypt(%q): want ErrInvalidBlob, got %v", tampered, err)
		}
	}
}

func TestNewBlobCipher_RejectsBadKeySize(t *testing.T) {
	if _, err := NewBlobCipher([]byte("short")); !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("want ErrInvalidKeySize, got %v", err)
	}
}

func TestSignVerify(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	msg := []byte(`{"uid":"u1"}`)

	sig := Sign(key, msg)
	if !Verify(key, msg, sig) {
		t.Error("signature did not verify under the signing key")
	}
}

func TestVerify_RejectsWrongKeyOrMessage(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	otherKey := []byte("fedcba9876543210fedcba9876543210")
	msg := []byte(`{"uid":"u1"}`)

	sig := Sign(key, msg)

	if Verify(otherKey, msg, sig) {
		t.Error("signature verified under a different key")
	}
	if Verify(key, []byte(`{"uid":"u2"}`), sig) {
		t.Error("signature verified over altered bytes")
	}
	if Verify(key, msg, "zz-not-hex") {
		t.Error("malformed signature verified")
	}
}

func TestDigest(t *testing.T) {
	d1 := Digest([]byte("fingerprint-v1"))
	d2 := Digest([]byte("fingerprint-v1"))
	d3 := Digest([]byte("fingerprint-v2"))

	if d1 != d2 {
		t.Error("digest is not deterministic")
	}
	if d1 == d3 {
		t.Error("distinct samples produced the same digest")
	}
	if len(d1) != 64 {
		t.Errorf("want 64 hex chars, got %d", len(d1))
	}
}

func TestGenerateKey(t *testing.T) {
	k1, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	k2, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if len(k1) != KeySize {
		t.Errorf("want %d bytes, got %d", KeySize, len(k1))
	}
	if bytes.Equal(k1, k2) {
		t.Error("two generated keys are identical")
	}
}
