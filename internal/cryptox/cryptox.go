// Package cryptox はプロトコルが要求する暗号プリミティブを提供する。
// ブロブ暗号（AES-GCM）、パケット署名（HMAC-SHA256）、
// 生体テンプレート用ダイジェスト（SHA-256）の3種のみを公開する。
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	// KeySize はブロブ暗号・MAC鍵の鍵長（AES-256 / HMAC-SHA256）。
	KeySize = 32

	nonceSize = 12
)

var (
	// ErrInvalidBlob はブロブの形式が不正で復号できない場合のエラー。
	ErrInvalidBlob = errors.New("invalid credential blob")

	// ErrInvalidKeySize は鍵長が不正な場合のエラー。
	ErrInvalidKeySize = errors.New("invalid key size")
)

// BlobCipher は生体サンプルをクレデンシャルブロブへ暗号化する。
// 出力はBase64(nonce ‖ ciphertext)のテキスト安全な文字列。
type BlobCipher struct {
	aead cipher.AEAD
}

// NewBlobCipher は32バイト鍵からBlobCipherを生成する。
func NewBlobCipher(key []byte) (*BlobCipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &BlobCipher{aead: aead}, nil
}

// Encrypt は平文をブロブ文字列へ暗号化する。呼び出しごとに新しいnonceを使う。
func (c *BlobCipher) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt はブロブ文字列を平文へ復号する。
// 形式不正・改竄はすべてErrInvalidBlobとして返す。
func (c *BlobCipher) Decrypt(blob string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, ErrInvalidBlob
	}
	if len(sealed) < nonceSize {
		return nil, ErrInvalidBlob
	}
	plaintext, err := c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, ErrInvalidBlob
	}
	return plaintext, nil
}

// Sign はメッセージのHMAC-SHA256署名を16進文字列で返す。
func Sign(key, msg []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify は署名がkeyとmsgに対して有効か検証する。定数時間比較を使う。
func Verify(key, msg []byte, signature string) bool {
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return hmac.Equal(sig, mac.Sum(nil))
}

// Digest は生体サンプルの一方向ダイジェストを16進文字列で返す。
func Digest(sample []byte) string {
	sum := sha256.Sum256(sample)
	return hex.EncodeToString(sum[:])
}

// GenerateKey は32バイトのランダム鍵を生成する。
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating random key: %w", err)
	}
	return key, nil
}
