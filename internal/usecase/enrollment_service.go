// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"syberkey-service/internal/cryptox"
	"syberkey-service/internal/domain"
)

// CredentialRepository はクレデンシャルのデータアクセスのインターフェース。
type CredentialRepository interface {
	FindByUID(ctx context.Context, uid string) (*domain.UserCredential, error)
	Upsert(ctx context.Context, cred *domain.UserCredential) error
}

// RelyingPartyRepository は信頼関係のデータアクセスのインターフェース。
type RelyingPartyRepository interface {
	FindByID(ctx context.Context, rpID string) (*domain.RelyingParty, error)
	Upsert(ctx context.Context, rp *domain.RelyingParty) error
}

// MasterKeyRepository は封印済みマスター鍵のデータアクセスのインターフェース。
type MasterKeyRepository interface {
	Find(ctx context.Context, name string) ([]byte, error)
	Create(ctx context.Context, name string, sealedKey []byte) error
}

// Sealer はat-rest鍵の封印・開封のインターフェース。
// 本番はCloud KMS、開発・テストはローカルAES-GCM実装を差し込む。
type Sealer interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// UserLocks はユーザー単位の排他ロックを提供する。
// Enroll/Rotateとログイン評価のクリティカルセクションが同じロックを
// 取ることで、評価中にローテーション途中の(blob, version)を観測しない。
type UserLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewUserLocks は新しいUserLocksを生成する。
func NewUserLocks() *UserLocks {
	return &UserLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock は指定ユーザーのロックを取得する。
func (l *UserLocks) Lock(uid string) {
	l.mu.Lock()
	m, ok := l.locks[uid]
	if !ok {
		m = &sync.Mutex{}
		l.locks[uid] = m
	}
	l.mu.Unlock()
	m.Lock()
}

// Unlock は指定ユーザーのロックを解放する。
func (l *UserLocks) Unlock(uid string) {
	l.mu.Lock()
	m := l.locks[uid]
	l.mu.Unlock()
	m.Unlock()
}

// EnrollmentService は登録・ローテーション・信頼関係のビジネスロジックを提供する。
type EnrollmentService struct {
	creds  CredentialRepository
	rps    RelyingPartyRepository
	sealer Sealer
	cipher *cryptox.BlobCipher
	locks  *UserLocks
}

// NewEnrollmentService は新しいEnrollmentServiceを生成する。
func NewEnrollmentService(creds CredentialRepository, rps RelyingPartyRepository, sealer Sealer, cipher *cryptox.BlobCipher, locks *UserLocks) *EnrollmentService {
	return &EnrollmentService{
		creds:  creds,
		rps:    rps,
		sealer: sealer,
		cipher: cipher,
		locks:  locks,
	}
}

// LoadBlobCipher は封印済みマスター鍵をDBから読み込みBlobCipherを生成する。
// 鍵が未作成の場合は生成して封印・保存する（初回起動時）。
func LoadBlobCipher(ctx context.Context, keys MasterKeyRepository, sealer Sealer, name string) (*cryptox.BlobCipher, error) {
	sealed, err := keys.Find(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("finding master key: %w", err)
	}

	var key []byte
	if sealed == nil {
		key, err = cryptox.GenerateKey()
		if err != nil {
			return nil, err
		}
		sealedKey, err := sealer.Encrypt(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("sealing master key: %w", err)
		}
		if err := keys.Create(ctx, name, sealedKey); err != nil {
			return nil, fmt.Errorf("storing master key: %w", err)
		}
	} else {
		key, err = sealer.Decrypt(ctx, sealed)
		if err != nil {
			return nil, fmt.Errorf("unsealing master key: %w", err)
		}
	}

	return cryptox.NewBlobCipher(key)
}

// Enroll は生体サンプルを登録し、新しい(blob, version)を発行する。
// 既存のクレデンシャルがある場合はバージョンを1つ進め、旧ブロブは
// 以後のログインでcredential_revokedとなる。
func (s *EnrollmentService) Enroll(ctx context.Context, uid, sample string) (*domain.CredentialIssue, error) {
	if uid == "" {
		return nil, domain.ErrInvalidUID
	}
	if sample == "" {
		return nil, domain.ErrEmptyBiometricSample
	}

	s.locks.Lock(uid)
	defer s.locks.Unlock(uid)

	return s.enrollLocked(ctx, uid, sample)
}

func (s *EnrollmentService) enrollLocked(ctx context.Context, uid, sample string) (*domain.CredentialIssue, error) {
	prev, err := s.creds.FindByUID(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("finding credential: %w", err)
	}

	version := uint(1)
	if prev != nil {
		version = prev.Version + 1
	}

	blob, err := s.cipher.Encrypt([]byte(sample))
	if err != nil {
		return nil, fmt.Errorf("encrypting sample: %w", err)
	}

	cred := &domain.UserCredential{
		UID:            uid,
		Version:        version,
		TemplateDigest: cryptox.Digest([]byte(sample)),
		Blob:           blob,
	}
	if err := s.creds.Upsert(ctx, cred); err != nil {
		return nil, fmt.Errorf("storing credential: %w", err)
	}

	return &domain.CredentialIssue{UID: uid, Blob: blob, Version: version}, nil
}

// Rotate は新しい合成サンプルで再登録する。デモ相当の再キャプチャフロー。
// バージョンを進め旧ブロブを無効化する契約はEnrollと同一。
func (s *EnrollmentService) Rotate(ctx context.Context, uid string) (*domain.CredentialIssue, error) {
	if uid == "" {
		return nil, domain.ErrInvalidUID
	}

	s.locks.Lock(uid)
	defer s.locks.Unlock(uid)

	prev, err := s.creds.FindByUID(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("finding credential: %w", err)
	}
	if prev == nil {
		return nil, domain.ErrCredentialNotFound
	}

	sample := "fingerprint-" + uuid.New().String()[:4]
	return s.enrollLocked(ctx, uid, sample)
}

// CurrentCredential は現行の(blob, version)を返す。RPの再同期用。
func (s *EnrollmentService) CurrentCredential(ctx context.Context, uid string) (*domain.CredentialIssue, error) {
	cred, err := s.creds.FindByUID(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("finding credential: %w", err)
	}
	if cred == nil {
		return nil, domain.ErrCredentialNotFound
	}
	return &domain.CredentialIssue{UID: cred.UID, Blob: cred.Blob, Version: cred.Version}, nil
}

// TrustRP はRPの共有MAC鍵を登録または置換する。後勝ちの冪等操作。
func (s *EnrollmentService) TrustRP(ctx context.Context, rpID string, macKey []byte) error {
	if rpID == "" {
		return domain.ErrInvalidRPID
	}
	if len(macKey) != cryptox.KeySize {
		return domain.ErrInvalidMACKey
	}

	sealed, err := s.sealer.Encrypt(ctx, macKey)
	if err != nil {
		return fmt.Errorf("sealing MAC key: %w", err)
	}

	rp := &domain.RelyingParty{ID: rpID, SealedMACKey: sealed}
	if err := s.rps.Upsert(ctx, rp); err != nil {
		return fmt.Errorf("storing relying party: %w", err)
	}
	return nil
}
