// Package relyingparty はRP側のクレデンシャル管理とログイン要求の
// 構築・送信を提供する。RPはIdPから最後に受け取った(blob, version)の
// キャッシュと自身のMAC鍵だけを持ち、ブロブの中身には一切関知しない。
package relyingparty

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StoredCredential はRPが保持するユーザーごとのクレデンシャルキャッシュ。
type StoredCredential struct {
	Blob    string `json:"blob"`
	Version uint   `json:"version"`
}

// Store はRPのクレデンシャルキャッシュのインターフェース。
type Store interface {
	// StoreCredential は無条件上書き。初回登録と失効回復の両方で使う。
	StoreCredential(uid string, cred StoredCredential) error
	// Credential は保存済みクレデンシャルを返す。未保存なら(zero, false)。
	Credential(uid string) (StoredCredential, bool)
}

// MemoryStore はインメモリのStore実装。
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]StoredCredential
}

// NewMemoryStore は新しいMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]StoredCredential)}
}

// StoreCredential はクレデンシャルを上書き保存する。
func (s *MemoryStore) StoreCredential(uid string, cred StoredCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[uid] = cred
	return nil
}

// Credential は保存済みクレデンシャルを返す。
func (s *MemoryStore) Credential(uid string) (StoredCredential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[uid]
	return cred, ok
}

// fileState はFileStoreの永続化形式。
type fileState struct {
	Credentials map[string]StoredCredential `json:"credentials"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

// FileStore はJSONファイルに永続化するStore実装。
// 書き込みは一時ファイルへ書いてからリネームすることで原子性を保つ。
type FileStore struct {
	mu    sync.Mutex
	path  string
	state fileState
}

// NewFileStore は指定パスのファイルからFileStoreを生成する。
// ファイルが存在しない場合は空の状態から始める。
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	s := &FileStore{
		path:  path,
		state: fileState{Credentials: make(map[string]StoredCredential)},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading store file: %w", err)
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("parsing store file: %w", err)
	}
	if s.state.Credentials == nil {
		s.state.Credentials = make(map[string]StoredCredential)
	}
	return s, nil
}

// StoreCredential はクレデンシャルを上書き保存しファイルへ書き出す。
func (s *FileStore) StoreCredential(uid string, cred StoredCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Credentials[uid] = cred
	return s.save()
}

// Credential は保存済みクレデンシャルを返す。
func (s *FileStore) Credential(uid string) (StoredCredential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.state.Credentials[uid]
	return cred, ok
}

func (s *FileStore) save() error {
	s.state.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing store file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("renaming store file: %w", err)
	}
	return nil
}
