package relyingparty

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"syberkey-service/internal/cryptox"
	"syberkey-service/internal/domain"
)

var (
	// ErrUnknownUser は指定ユーザーのクレデンシャルが未保存の場合のエラー。
	ErrUnknownUser = errors.New("no stored credential for user")

	// ErrUnexpectedStatus はIdPが想定外のHTTPステータスを返した場合のエラー。
	ErrUnexpectedStatus = errors.New("unexpected response status")
)

// Client はRPとしてIdPと通信するクライアント。
type Client struct {
	rpID       string
	macKey     []byte
	apiURL     string
	store      Store
	httpClient *http.Client

	// テストから時刻を固定できるようにする
	now func() time.Time
}

// NewClient は新しいClientを生成する。macKeyはTrustRPでIdPに登録済みの
// 共有MAC鍵。
func NewClient(apiURL, rpID string, macKey []byte, store Store) *Client {
	return &Client{
		rpID:       rpID,
		macKey:     macKey,
		apiURL:     apiURL,
		store:      store,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
}

// StoreCredential はIdPから受け取った(blob, version)をキャッシュする。
func (c *Client) StoreCredential(uid, blob string, version uint) error {
	return c.store.StoreCredential(uid, StoredCredential{Blob: blob, Version: version})
}

// BuildLoginPacket は保存済みブロブからログインパケットを構築し署名する。
// 保持しているブロブが現行かどうかはRPには分からない。その判定はIdPの
// 現行性ゲートに専属する。
func (c *Client) BuildLoginPacket(uid string) (*domain.LoginPacket, error) {
	cred, ok := c.store.Credential(uid)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, uid)
	}

	payload := domain.LoginPayload{
		UID:            uid,
		CredentialBlob: cred.Blob,
		Timestamp:      c.now().Unix(),
		Nonce:          uuid.New().String(),
	}
	canonical, err := payload.CanonicalBytes()
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	return &domain.LoginPacket{
		Payload:   payload,
		Signature: cryptox.Sign(c.macKey, canonical),
	}, nil
}

// Sync はIdPから現行クレデンシャルを取得してキャッシュを更新する。
func (c *Client) Sync(ctx context.Context, uid string) error {
	url := fmt.Sprintf("%s/v1/users/%s/credential", c.apiURL, uid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching credential: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var body struct {
		UID     string `json:"uid"`
		Blob    string `json:"blob"`
		Version uint   `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	return c.StoreCredential(uid, body.Blob, body.Version)
}

// LoginResult はIdPのログイン判定結果のワイヤ形式。
type LoginResult struct {
	Status  string `json:"status"`
	Token   string `json:"token,omitempty"`
	Blob    string `json:"blob,omitempty"`
	Version uint   `json:"version,omitempty"`
}

// Login はログインパケットを構築・送信し判定結果を返す。
// credential_revokedの場合は返ってきた現行(blob, version)で自己回復し、
// 新しいパケットで1回だけ再試行する。それ以外の非successは即座に返す。
func (c *Client) Login(ctx context.Context, uid string, approve bool) (*LoginResult, error) {
	result, err := c.loginOnce(ctx, uid, approve)
	if err != nil {
		return nil, err
	}

	if result.Status != string(domain.LoginStatusCredentialRevoked) {
		return result, nil
	}

	// 失効回復: 現行クレデンシャルを保存して新しいパケットで再試行
	if err := c.StoreCredential(uid, result.Blob, result.Version); err != nil {
		return nil, fmt.Errorf("storing refreshed credential: %w", err)
	}
	return c.loginOnce(ctx, uid, approve)
}

func (c *Client) loginOnce(ctx context.Context, uid string, approve bool) (*LoginResult, error) {
	packet, err := c.BuildLoginPacket(uid)
	if err != nil {
		return nil, err
	}

	reqBody, err := json.Marshal(struct {
		Packet       *domain.LoginPacket `json:"packet"`
		UserApproved bool                `json:"user_approved"`
	}{Packet: packet, UserApproved: approve})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/relying-parties/%s/logins", c.apiURL, c.rpID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var result LoginResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return &result, nil
}
