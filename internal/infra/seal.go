package infra

import (
	"context"
	"encoding/base64"
	"fmt"

	"syberkey-service/internal/cryptox"
)

// LocalSealer はローカルAES-GCM鍵による封印を提供する。
// KMSを使わない開発・テスト環境向けで、Sealerインターフェースは
// KMSSealerと共通。
type LocalSealer struct {
	cipher *cryptox.BlobCipher
}

// NewLocalSealer はBase64エンコード済みの32バイト鍵からLocalSealerを生成する。
func NewLocalSealer(encodedKey string) (*LocalSealer, error) {
	if encodedKey == "" {
		return nil, fmt.Errorf("seal key is required in local seal mode")
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decoding seal key: %w", err)
	}
	cipher, err := cryptox.NewBlobCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating seal cipher: %w", err)
	}
	return &LocalSealer{cipher: cipher}, nil
}

// Encrypt は平文を封印する。
func (s *LocalSealer) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	sealed, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	return []byte(sealed), nil
}

// Decrypt は封印済みデータを開封する。
func (s *LocalSealer) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	return s.cipher.Decrypt(string(ciphertext))
}
