package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"syberkey-service/internal/cryptox"
	"syberkey-service/internal/domain"
)

// ApprovalPusher は承認要求をユーザーデバイスへ届ける外部コラボレータの
// インターフェース。承認の回収自体はCompleteLogin経由で行われる。
type ApprovalPusher interface {
	Push(ctx context.Context, pending *domain.PendingLogin) error
}

// LoginService はログイン判定の状態機械を実装する。
// ゲートは信頼→署名→鮮度→現行性→nonce→承認→生体照合の順で評価され、
// 最初に失敗したゲートが結果を決める。評価はクレデンシャル状態を変更しない。
type LoginService struct {
	creds  CredentialRepository
	rps    RelyingPartyRepository
	sealer Sealer
	cipher *cryptox.BlobCipher
	locks  *UserLocks
	tokens *TokenIssuer
	pusher ApprovalPusher

	freshnessWindow time.Duration
	approvalTTL     time.Duration

	// テストから時刻を固定できるようにする
	now func() time.Time

	mu       sync.Mutex
	nonces   map[string]time.Time // nonce → 記録時刻
	pending  map[string]*domain.PendingLogin
	inflight map[string]string // rpID+"|"+uid → handle
}

// NewLoginService は新しいLoginServiceを生成する。
func NewLoginService(creds CredentialRepository, rps RelyingPartyRepository, sealer Sealer, cipher *cryptox.BlobCipher, locks *UserLocks, tokens *TokenIssuer, pusher ApprovalPusher, freshnessWindow, approvalTTL time.Duration) *LoginService {
	return &LoginService{
		creds:           creds,
		rps:             rps,
		sealer:          sealer,
		cipher:          cipher,
		locks:           locks,
		tokens:          tokens,
		pusher:          pusher,
		freshnessWindow: freshnessWindow,
		approvalTTL:     approvalTTL,
		now:             time.Now,
		nonces:          make(map[string]time.Time),
		pending:         make(map[string]*domain.PendingLogin),
		inflight:        make(map[string]string),
	}
}

// EvaluateLogin は承認結果が既知の場合の単一呼び出しのログイン判定。
// 承認を非同期に回収する場合はBeginLogin/CompleteLoginを使う。
func (s *LoginService) EvaluateLogin(ctx context.Context, rpID string, packet *domain.LoginPacket, userApproved bool) (*domain.LoginResult, error) {
	fail, err := s.runEntryGates(ctx, rpID, packet)
	if err != nil {
		return nil, err
	}
	if fail != nil {
		return fail, nil
	}

	uid := packet.Payload.UID
	s.locks.Lock(uid)
	defer s.locks.Unlock(uid)

	// ロック取得後に現行性を確定させる（ローテーションとの競合対策）
	var cred *domain.UserCredential
	fail, err = s.currencyGate(ctx, uid, packet.Payload.CredentialBlob, &cred)
	if err != nil {
		return nil, err
	}
	if fail != nil {
		return fail, nil
	}

	if !s.consumeNonce(packet.Payload.Nonce) {
		return &domain.LoginResult{Status: domain.LoginStatusReplayedNonce}, nil
	}

	return s.decide(rpID, cred, userApproved)
}

// BeginLogin はゲート1〜5（信頼・署名・鮮度・現行性・nonce）を評価し、
// 承認待ちハンドルを発行してプッシュ通知を送る。
// 同一(rpID, uid)の承認待ちは常に1件で、新しいBeginが古いハンドルを破棄する。
// 戻り値はハンドル、またはゲート失敗を表すLoginResultのどちらか一方。
func (s *LoginService) BeginLogin(ctx context.Context, rpID string, packet *domain.LoginPacket) (*domain.PendingLogin, *domain.LoginResult, error) {
	fail, err := s.runEntryGates(ctx, rpID, packet)
	if err != nil {
		return nil, nil, err
	}
	if fail != nil {
		return nil, fail, nil
	}

	uid := packet.Payload.UID
	s.locks.Lock(uid)
	defer s.locks.Unlock(uid)

	var cred *domain.UserCredential
	fail, err = s.currencyGate(ctx, uid, packet.Payload.CredentialBlob, &cred)
	if err != nil {
		return nil, nil, err
	}
	if fail != nil {
		return nil, fail, nil
	}

	if !s.consumeNonce(packet.Payload.Nonce) {
		return nil, &domain.LoginResult{Status: domain.LoginStatusReplayedNonce}, nil
	}

	pending := &domain.PendingLogin{
		Handle:    uuid.New().String(),
		RPID:      rpID,
		UID:       uid,
		Blob:      packet.Payload.CredentialBlob,
		ExpiresAt: s.now().Add(s.approvalTTL),
	}

	s.mu.Lock()
	flightKey := rpID + "|" + uid
	if old, ok := s.inflight[flightKey]; ok {
		delete(s.pending, old)
	}
	s.inflight[flightKey] = pending.Handle
	s.pending[pending.Handle] = pending
	s.mu.Unlock()

	if err := s.pusher.Push(ctx, pending); err != nil {
		// プッシュ失敗でもハンドルは有効なまま残す。再送は配送層の責務。
		slog.WarnContext(ctx, "approval push failed",
			"rp_id", rpID,
			"uid", uid,
			"error", err,
		)
	}

	return pending, nil, nil
}

// CompleteLogin は承認結果を受け取り残りのゲート（承認・生体照合）を評価する。
// 不明または期限切れのハンドルはapproval_expiredとなる。
func (s *LoginService) CompleteLogin(ctx context.Context, handle string, approved bool) (*domain.LoginResult, error) {
	s.mu.Lock()
	pending, ok := s.pending[handle]
	if ok {
		delete(s.pending, handle)
		delete(s.inflight, pending.RPID+"|"+pending.UID)
	}
	s.mu.Unlock()

	if !ok || s.now().After(pending.ExpiresAt) {
		return &domain.LoginResult{Status: domain.LoginStatusApprovalExpired}, nil
	}

	s.locks.Lock(pending.UID)
	defer s.locks.Unlock(pending.UID)

	// 承認待ちの間にローテーションされた場合はrevokedとして返す
	var cred *domain.UserCredential
	fail, err := s.currencyGate(ctx, pending.UID, pending.Blob, &cred)
	if err != nil {
		return nil, err
	}
	if fail != nil {
		return fail, nil
	}

	return s.decide(pending.RPID, cred, approved)
}

// runEntryGates はuidロック不要の前段ゲート（信頼・署名・鮮度）を評価する。
func (s *LoginService) runEntryGates(ctx context.Context, rpID string, packet *domain.LoginPacket) (*domain.LoginResult, error) {
	// ゲート1: 信頼関係
	rp, err := s.rps.FindByID(ctx, rpID)
	if err != nil {
		return nil, fmt.Errorf("finding relying party: %w", err)
	}
	if rp == nil {
		return &domain.LoginResult{Status: domain.LoginStatusUnknownRelyingParty}, nil
	}

	macKey, err := s.sealer.Decrypt(ctx, rp.SealedMACKey)
	if err != nil {
		return nil, fmt.Errorf("unsealing MAC key: %w", err)
	}

	// ゲート2: 署名。以降のゲートがペイロードを信頼する前提となるため、
	// 他のどの検査よりも先に行う。
	canonical, err := packet.Payload.CanonicalBytes()
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	if !cryptox.Verify(macKey, canonical, packet.Signature) {
		return &domain.LoginResult{Status: domain.LoginStatusBadSignature}, nil
	}

	// ゲート3: 鮮度
	age := s.now().Unix() - packet.Payload.Timestamp
	if age < 0 {
		age = -age
	}
	if time.Duration(age)*time.Second > s.freshnessWindow {
		return &domain.LoginResult{Status: domain.LoginStatusStaleTimestamp}, nil
	}

	return nil, nil
}

// currencyGate はゲート4: 提出ブロブが現行の有効ブロブと一致するかを検査する。
// 不一致の場合は再同期用の現行(blob, version)を結果に載せる。
func (s *LoginService) currencyGate(ctx context.Context, uid, submittedBlob string, out **domain.UserCredential) (*domain.LoginResult, error) {
	cred, err := s.creds.FindByUID(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("finding credential: %w", err)
	}
	if cred == nil {
		return &domain.LoginResult{Status: domain.LoginStatusUnknownUser}, nil
	}
	if submittedBlob != cred.Blob {
		return &domain.LoginResult{
			Status:  domain.LoginStatusCredentialRevoked,
			Blob:    cred.Blob,
			Version: cred.Version,
		}, nil
	}
	*out = cred
	return nil, nil
}

// consumeNonce はnonceが鮮度窓内で未使用なら記録してtrueを返す。
// 現行性ゲートの後に置くことで、失効ブロブの再送は常にrevokedとして
// 報告される（再同期の自己回復パスを妨げない）。
func (s *LoginService) consumeNonce(nonce string) bool {
	now := s.now()
	ttl := 2 * s.freshnessWindow

	s.mu.Lock()
	defer s.mu.Unlock()

	for n, seen := range s.nonces {
		if now.Sub(seen) > ttl {
			delete(s.nonces, n)
		}
	}

	if seen, ok := s.nonces[nonce]; ok && now.Sub(seen) <= ttl {
		return false
	}
	s.nonces[nonce] = now
	return true
}

// decide はゲート5〜7: 承認、生体照合、トークン発行。
func (s *LoginService) decide(rpID string, cred *domain.UserCredential, approved bool) (*domain.LoginResult, error) {
	if !approved {
		return &domain.LoginResult{Status: domain.LoginStatusUserDenied}, nil
	}

	// 現行性ゲート通過済みのブロブなので、復号失敗も照合失敗として扱う
	sample, err := s.cipher.Decrypt(cred.Blob)
	if err != nil || cryptox.Digest(sample) != cred.TemplateDigest {
		return &domain.LoginResult{Status: domain.LoginStatusBiometricMismatch}, nil
	}

	token, err := s.tokens.Issue(cred.UID, rpID)
	if err != nil {
		return nil, fmt.Errorf("issuing token: %w", err)
	}
	return &domain.LoginResult{Status: domain.LoginStatusSuccess, Token: token}, nil
}
