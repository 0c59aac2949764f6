package usecase

import (
	"bytes"
	"context"
	"testing"
	"time"

	"syberkey-service/internal/cryptox"
	"syberkey-service/internal/domain"
)

type mockPusher struct {
	pushed  []*domain.PendingLogin
	pushErr error
}

func (m *mockPusher) Push(_ context.Context, pending *domain.PendingLogin) error {
	if m.pushErr != nil {
		return m.pushErr
	}
	m.pushed = append(m.pushed, pending)
	return nil
}

// loginFixture はRP "shop" を信頼し "alice" を登録済みの状態を組み立てる。
type loginFixture struct {
	svc    *LoginService
	enroll *EnrollmentService
	creds  *mockCredentialRepository
	pusher *mockPusher
	macKey []byte
	blob   string // aliceの現行ブロブ
	clock  time.Time
}

const (
	testFreshnessWindow = 30 * time.Second
	testApprovalTTL     = 2 * time.Minute
)

func newLoginFixture(t *testing.T) *loginFixture {
	t.Helper()
	ctx := context.Background()

	creds := newMockCredentialRepository()
	rps := newMockRelyingPartyRepository()
	cipher := testBlobCipher(t)
	locks := NewUserLocks()
	pusher := &mockPusher{}

	fx := &loginFixture{
		creds:  creds,
		pusher: pusher,
		macKey: bytes.Repeat([]byte{0x24}, cryptox.KeySize),
		clock:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	fx.enroll = NewEnrollmentService(creds, rps, mockSealer{}, cipher, locks)
	if err := fx.enroll.TrustRP(ctx, "shop", fx.macKey); err != nil {
		t.Fatalf("TrustRP failed: %v", err)
	}
	issue, err := fx.enroll.Enroll(ctx, "alice", "fingerprint-v1")
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	fx.blob = issue.Blob

	tokens := NewTokenIssuer([]byte("test-secret"), time.Hour)
	fx.svc = NewLoginService(creds, rps, mockSealer{}, cipher, locks, tokens, pusher, testFreshnessWindow, testApprovalTTL)
	fx.svc.now = func() time.Time { return fx.clock }

	return fx
}

// packet は指定内容のログインパケットを構築しMAC鍵で署名する。
func (fx *loginFixture) packet(t *testing.T, uid, blob, nonce string, ts int64) *domain.LoginPacket {
	t.Helper()
	payload := domain.LoginPayload{
		UID:            uid,
		CredentialBlob: blob,
		Timestamp:      ts,
		Nonce:          nonce,
	}
	canonical, err := payload.CanonicalBytes()
	if err != nil {
		t.Fatalf("CanonicalBytes failed: %v", err)
	}
	return &domain.LoginPacket{Payload: payload, Signature: cryptox.Sign(fx.macKey, canonical)}
}

func (fx *loginFixture) freshPacket(t *testing.T, nonce string) *domain.LoginPacket {
	t.Helper()
	return fx.packet(t, "alice", fx.blob, nonce, fx.clock.Unix())
}

func TestEvaluateLogin_Success(t *testing.T) {
	fx := newLoginFixture(t)

	result, err := fx.svc.EvaluateLogin(context.Background(), "shop", fx.freshPacket(t, "n1"), true)
	if err != nil {
		t.Fatalf("EvaluateLogin failed: %v", err)
	}
	if result.Status != domain.LoginStatusSuccess {
		t.Fatalf("want success, got %s", result.Status)
	}
	if result.Token == "" {
		t.Error("success result carries no token")
	}
}

func TestEvaluateLogin_UnknownRelyingParty(t *testing.T) {
	fx := newLoginFixture(t)

	result, err := fx.svc.EvaluateLogin(context.Background(), "evil", fx.freshPacket(t, "n1"), true)
	if err != nil {
		t.Fatalf("EvaluateLogin failed: %v", err)
	}
	if result.Status != domain.LoginStatusUnknownRelyingParty {
		t.Errorf("want unknown_relying_party, got %s", result.Status)
	}
}

func TestEvaluateLogin_BadSignature(t *testing.T) {
	fx := newLoginFixture(t)

	packet := fx.freshPacket(t, "n1")
	packet.Signature = "0000" + packet.Signature[4:]

	result, err := fx.svc.EvaluateLogin(context.Background(), "shop", packet, true)
	if err != nil {
		t.Fatalf("EvaluateLogin failed: %v", err)
	}
	if result.Status != domain.LoginStatusBadSignature {
		t.Errorf("want bad_signature, got %s", result.Status)
	}
}

func TestEvaluateLogin_TamperedPayloadFailsSignature(t *testing.T) {
	fx := newLoginFixture(t)

	packet := fx.freshPacket(t, "n1")
	packet.Payload.UID = "mallory"

	result, err := fx.svc.EvaluateLogin(context.Background(), "shop", packet, true)
	if err != nil {
		t.Fatalf("EvaluateLogin failed: %v", err)
	}
	if result.Status != domain.LoginStatusBadSignature {
		t.Errorf("want bad_signature, got %s", result.Status)
	}
}

func TestEvaluateLogin_StaleTimestamp(t *testing.T) {
	fx := newLoginFixture(t)
	ctx := context.Background()

	cases := map[string]int64{
		"past":   fx.clock.Add(-testFreshnessWindow - time.Second).Unix(),
		"future": fx.clock.Add(testFreshnessWindow + time.Second).Unix(),
	}
	for name, ts := range cases {
		packet := fx.packet(t, "alice", fx.blob, "n-"+name, ts)
		result, err := fx.svc.EvaluateLogin(ctx, "shop", packet, true)
		if err != nil {
			t.Fatalf("EvaluateLogin failed: %v", err)
		}
		if result.Status != domain.LoginStatusStaleTimestamp {
			t.Errorf("%s: want stale_timestamp, got %s", name, result.Status)
		}
	}
}

// 署名ゲートは鮮度ゲートより先に評価される。署名が壊れたパケットの
// タイムスタンプは信頼できないため。
func TestEvaluateLogin_BadSignatureWinsOverStaleTimestamp(t *testing.T) {
	fx := newLoginFixture(t)

	packet := fx.packet(t, "alice", fx.blob, "n1", fx.clock.Add(-time.Hour).Unix())
	packet.Signature = "0000" + packet.Signature[4:]

	result, err := fx.svc.EvaluateLogin(context.Background(), "shop", packet, true)
	if err != nil {
		t.Fatalf("EvaluateLogin failed: %v", err)
	}
	if result.Status != domain.LoginStatusBadSignature {
		t.Errorf("want bad_signature, got %s", result.Status)
	}
}

func TestEvaluateLogin_UnknownUser(t *testing.T) {
	fx := newLoginFixture(t)

	packet := fx.packet(t, "bob", fx.blob, "n1", fx.clock.Unix())
	result, err := fx.svc.EvaluateLogin(context.Background(), "shop", packet, true)
	if err != nil {
		t.Fatalf("EvaluateLogin failed: %v", err)
	}
	if result.Status != domain.LoginStatusUnknownUser {
		t.Errorf("want unknown_user, got %s", result.Status)
	}
}

func TestEvaluateLogin_CredentialRevokedCarriesCurrentCredential(t *testing.T) {
	fx := newLoginFixture(t)
	ctx := context.Background()

	oldBlob := fx.blob
	rotated, err := fx.enroll.Rotate(ctx, "alice")
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	packet := fx.packet(t, "alice", oldBlob, "n1", fx.clock.Unix())
	result, err := fx.svc.EvaluateLogin(ctx, "shop", packet, true)
	if err != nil {
		t.Fatalf("EvaluateLogin failed: %v", err)
	}
	if result.Status != domain.LoginStatusCredentialRevoked {
		t.Fatalf("want credential_revoked, got %s", result.Status)
	}
	if result.Blob != rotated.Blob || result.Version != rotated.Version {
		t.Error("revoked result does not carry the current credential")
	}
}

// 失効判定は承認より先。古いブロブでのログインは、ユーザーが拒否して
// いてもcredential_revokedとなる。
func TestEvaluateLogin_RevokedWinsOverDenial(t *testing.T) {
	fx := newLoginFixture(t)
	ctx := context.Background()

	oldBlob := fx.blob
	if _, err := fx.enroll.Rotate(ctx, "alice"); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	packet := fx.packet(t, "alice", oldBlob, "n1", fx.clock.Unix())
	result, err := fx.svc.EvaluateLogin(ctx, "shop", packet, false)
	if err != nil {
		t.Fatalf("EvaluateLogin failed: %v", err)
	}
	if result.Status != domain.LoginStatusCredentialRevoked {
		t.Errorf("want credential_revoked, got %s", result.Status)
	}
}

func TestEvaluateLogin_ReplayedNonce(t *testing.T) {
	fx := newLoginFixture(t)
	ctx := context.Background()

	packet := fx.freshPacket(t, "n1")

	first, err := fx.svc.EvaluateLogin(ctx, "shop", packet, true)
	if err != nil {
		t.Fatalf("EvaluateLogin failed: %v", err)
	}
	if first.Status != domain.LoginStatusSuccess {
		t.Fatalf("want success, got %s", first.Status)
	}

	second, err := fx.svc.EvaluateLogin(ctx, "shop", packet, true)
	if err != nil {
		t.Fatalf("EvaluateLogin failed: %v", err)
	}
	if second.Status != domain.LoginStatusReplayedNonce {
		t.Errorf("want replayed_nonce, got %s", second.Status)
	}
}

// 失効ブロブの再送は同一nonceでも常にcredential_revokedとなる。
// nonce消費より失効判定が先のため、RPの自己回復パスが妨げられない。
func TestEvaluateLogin_RevokedResubmissionStaysRevoked(t *testing.T) {
	fx := newLoginFixture(t)
	ctx := context.Background()

	oldBlob := fx.blob
	if _, err := fx.enroll.Rotate(ctx, "alice"); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	packet := fx.packet(t, "alice", oldBlob, "n1", fx.clock.Unix())
	for i := 0; i < 2; i++ {
		result, err := fx.svc.EvaluateLogin(ctx, "shop", packet, true)
		if err != nil {
			t.Fatalf("EvaluateLogin failed: %v", err)
		}
		if result.Status != domain.LoginStatusCredentialRevoked {
			t.Errorf("attempt %d: want credential_revoked, got %s", i+1, result.Status)
		}
	}
}

func TestEvaluateLogin_NonceExpiresAfterTTL(t *testing.T) {
	fx := newLoginFixture(t)
	ctx := context.Background()

	first, err := fx.svc.EvaluateLogin(ctx, "shop", fx.freshPacket(t, "n1"), true)
	if err != nil {
		t.Fatalf("EvaluateLogin failed: %v", err)
	}
	if first.Status != domain.LoginStatusSuccess {
		t.Fatalf("want success, got %s", first.Status)
	}

	// nonceのTTL（鮮度窓の2倍）を過ぎれば同じnonceを再利用できる
	fx.clock = fx.clock.Add(2*testFreshnessWindow + time.Second)

	second, err := fx.svc.EvaluateLogin(ctx, "shop", fx.freshPacket(t, "n1"), true)
	if err != nil {
		t.Fatalf("EvaluateLogin failed: %v", err)
	}
	if second.Status != domain.LoginStatusSuccess {
		t.Errorf("want success after nonce TTL, got %s", second.Status)
	}
}

func TestEvaluateLogin_UserDenied(t *testing.T) {
	fx := newLoginFixture(t)

	result, err := fx.svc.EvaluateLogin(context.Background(), "shop", fx.freshPacket(t, "n1"), false)
	if err != nil {
		t.Fatalf("EvaluateLogin failed: %v", err)
	}
	if result.Status != domain.LoginStatusUserDenied {
		t.Errorf("want user_denied, got %s", result.Status)
	}
}

func TestEvaluateLogin_BiometricMismatch(t *testing.T) {
	fx := newLoginFixture(t)

	// 登録済みテンプレートの指紋が一致しない状況を作る
	fx.creds.creds["alice"].TemplateDigest = cryptox.Digest([]byte("someone-else"))

	result, err := fx.svc.EvaluateLogin(context.Background(), "shop", fx.freshPacket(t, "n1"), true)
	if err != nil {
		t.Fatalf("EvaluateLogin failed: %v", err)
	}
	if result.Status != domain.LoginStatusBiometricMismatch {
		t.Errorf("want biometric_mismatch, got %s", result.Status)
	}
}

func TestBeginCompleteLogin_HappyPath(t *testing.T) {
	fx := newLoginFixture(t)
	ctx := context.Background()

	pending, fail, err := fx.svc.BeginLogin(ctx, "shop", fx.freshPacket(t, "n1"))
	if err != nil {
		t.Fatalf("BeginLogin failed: %v", err)
	}
	if fail != nil {
		t.Fatalf("unexpected gate failure: %s", fail.Status)
	}
	if pending.Handle == "" {
		t.Fatal("pending login has no handle")
	}
	if len(fx.pusher.pushed) != 1 || fx.pusher.pushed[0].Handle != pending.Handle {
		t.Error("approval push was not delivered")
	}

	result, err := fx.svc.CompleteLogin(ctx, pending.Handle, true)
	if err != nil {
		t.Fatalf("CompleteLogin failed: %v", err)
	}
	if result.Status != domain.LoginStatusSuccess {
		t.Errorf("want success, got %s", result.Status)
	}
	if result.Token == "" {
		t.Error("success result carries no token")
	}
}

func TestBeginLogin_GateFailureReturnsResult(t *testing.T) {
	fx := newLoginFixture(t)

	pending, fail, err := fx.svc.BeginLogin(context.Background(), "evil", fx.freshPacket(t, "n1"))
	if err != nil {
		t.Fatalf("BeginLogin failed: %v", err)
	}
	if pending != nil {
		t.Error("gate failure still produced a pending login")
	}
	if fail == nil || fail.Status != domain.LoginStatusUnknownRelyingParty {
		t.Errorf("want unknown_relying_party, got %+v", fail)
	}
	if len(fx.pusher.pushed) != 0 {
		t.Error("gate failure still pushed an approval request")
	}
}

func TestCompleteLogin_UnknownHandle(t *testing.T) {
	fx := newLoginFixture(t)

	result, err := fx.svc.CompleteLogin(context.Background(), "no-such-handle", true)
	if err != nil {
		t.Fatalf("CompleteLogin failed: %v", err)
	}
	if result.Status != domain.LoginStatusApprovalExpired {
		t.Errorf("want approval_expired, got %s", result.Status)
	}
}

func TestCompleteLogin_ExpiredHandle(t *testing.T) {
	fx := newLoginFixture(t)
	ctx := context.Background()

	pending, fail, err := fx.svc.BeginLogin(ctx, "shop", fx.freshPacket(t, "n1"))
	if err != nil || fail != nil {
		t.Fatalf("BeginLogin failed: %v %+v", err, fail)
	}

	fx.clock = fx.clock.Add(testApprovalTTL + time.Second)

	result, err := fx.svc.CompleteLogin(ctx, pending.Handle, true)
	if err != nil {
		t.Fatalf("CompleteLogin failed: %v", err)
	}
	if result.Status != domain.LoginStatusApprovalExpired {
		t.Errorf("want approval_expired, got %s", result.Status)
	}
}

func TestCompleteLogin_DeniedApproval(t *testing.T) {
	fx := newLoginFixture(t)
	ctx := context.Background()

	pending, fail, err := fx.svc.BeginLogin(ctx, "shop", fx.freshPacket(t, "n1"))
	if err != nil || fail != nil {
		t.Fatalf("BeginLogin failed: %v %+v", err, fail)
	}

	result, err := fx.svc.CompleteLogin(ctx, pending.Handle, false)
	if err != nil {
		t.Fatalf("CompleteLogin failed: %v", err)
	}
	if result.Status != domain.LoginStatusUserDenied {
		t.Errorf("want user_denied, got %s", result.Status)
	}
}

// 同一(rpID, uid)の新しいBeginは古い承認待ちを破棄する。
func TestBeginLogin_NewAttemptSupersedesPending(t *testing.T) {
	fx := newLoginFixture(t)
	ctx := context.Background()

	first, fail, err := fx.svc.BeginLogin(ctx, "shop", fx.freshPacket(t, "n1"))
	if err != nil || fail != nil {
		t.Fatalf("BeginLogin failed: %v %+v", err, fail)
	}
	second, fail, err := fx.svc.BeginLogin(ctx, "shop", fx.freshPacket(t, "n2"))
	if err != nil || fail != nil {
		t.Fatalf("BeginLogin failed: %v %+v", err, fail)
	}

	stale, err := fx.svc.CompleteLogin(ctx, first.Handle, true)
	if err != nil {
		t.Fatalf("CompleteLogin failed: %v", err)
	}
	if stale.Status != domain.LoginStatusApprovalExpired {
		t.Errorf("superseded handle: want approval_expired, got %s", stale.Status)
	}

	result, err := fx.svc.CompleteLogin(ctx, second.Handle, true)
	if err != nil {
		t.Fatalf("CompleteLogin failed: %v", err)
	}
	if result.Status != domain.LoginStatusSuccess {
		t.Errorf("current handle: want success, got %s", result.Status)
	}
}

// 承認待ちの間にローテーションが走った場合、承認されてもログインは
// 成立せず、現行クレデンシャル付きのcredential_revokedとなる。
func TestCompleteLogin_RotationDuringPendingRevokes(t *testing.T) {
	fx := newLoginFixture(t)
	ctx := context.Background()

	pending, fail, err := fx.svc.BeginLogin(ctx, "shop", fx.freshPacket(t, "n1"))
	if err != nil || fail != nil {
		t.Fatalf("BeginLogin failed: %v %+v", err, fail)
	}

	rotated, err := fx.enroll.Rotate(ctx, "alice")
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	result, err := fx.svc.CompleteLogin(ctx, pending.Handle, true)
	if err != nil {
		t.Fatalf("CompleteLogin failed: %v", err)
	}
	if result.Status != domain.LoginStatusCredentialRevoked {
		t.Fatalf("want credential_revoked, got %s", result.Status)
	}
	if result.Blob != rotated.Blob || result.Version != rotated.Version {
		t.Error("revoked result does not carry the rotated credential")
	}
}

// 評価はクレデンシャル状態を変更しない。失敗したログインの後も
// 正しいパケットは成功する。
func TestEvaluateLogin_FailuresDoNotMutateState(t *testing.T) {
	fx := newLoginFixture(t)
	ctx := context.Background()

	bad := fx.freshPacket(t, "n1")
	bad.Signature = "0000" + bad.Signature[4:]
	if _, err := fx.svc.EvaluateLogin(ctx, "shop", bad, true); err != nil {
		t.Fatalf("EvaluateLogin failed: %v", err)
	}
	if _, err := fx.svc.EvaluateLogin(ctx, "shop", fx.freshPacket(t, "n2"), false); err != nil {
		t.Fatalf("EvaluateLogin failed: %v", err)
	}

	result, err := fx.svc.EvaluateLogin(ctx, "shop", fx.freshPacket(t, "n3"), true)
	if err != nil {
		t.Fatalf("EvaluateLogin failed: %v", err)
	}
	if result.Status != domain.LoginStatusSuccess {
		t.Errorf("want success, got %s", result.Status)
	}
}
