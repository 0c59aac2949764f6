package domain

import "time"

// LoginStatus はログイン判定の結果ステータスを表す。
type LoginStatus string

const (
	// LoginStatusSuccess は全ゲートを通過しトークンが発行されたことを表す。
	LoginStatusSuccess LoginStatus = "success"
	// LoginStatusUnknownRelyingParty は未登録のRPからのリクエストを表す。
	LoginStatusUnknownRelyingParty LoginStatus = "unknown_relying_party"
	// LoginStatusBadSignature はペイロード署名の検証失敗を表す。
	LoginStatusBadSignature LoginStatus = "bad_signature"
	// LoginStatusStaleTimestamp はタイムスタンプが鮮度窓の外であることを表す。
	LoginStatusStaleTimestamp LoginStatus = "stale_timestamp"
	// LoginStatusUnknownUser は有効なクレデンシャルを持たないUIDを表す。
	LoginStatusUnknownUser LoginStatus = "unknown_user"
	// LoginStatusCredentialRevoked は提出ブロブが現行でないことを表す。
	// 結果には再同期用の現行(blob, version)が付随する。
	LoginStatusCredentialRevoked LoginStatus = "credential_revoked"
	// LoginStatusReplayedNonce は鮮度窓内でのnonce再利用を表す。
	LoginStatusReplayedNonce LoginStatus = "replayed_nonce"
	// LoginStatusUserDenied はユーザーがプッシュ承認を拒否したことを表す。
	LoginStatusUserDenied LoginStatus = "user_denied"
	// LoginStatusBiometricMismatch は生体テンプレート照合の失敗を表す。
	LoginStatusBiometricMismatch LoginStatus = "biometric_mismatch"
	// LoginStatusApprovalExpired は承認ハンドルの期限切れ・不明を表す。
	LoginStatusApprovalExpired LoginStatus = "approval_expired"
)

// LoginResult はログイン判定の結果を表すクローズドなタグ付き型。
// Statusごとに有効なフィールドが決まる: success→Token、
// credential_revoked→Blob/Version。それ以外はStatusのみ。
type LoginResult struct {
	Status  LoginStatus
	Token   string
	Blob    string
	Version uint
}

// PendingLogin はゲート1〜4を通過し承認待ちのログイン試行を表す。
type PendingLogin struct {
	Handle    string
	RPID      string
	UID       string
	Blob      string
	ExpiresAt time.Time
}
