// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import "time"

// UserCredential はユーザーごとの有効なクレデンシャルを表す。
// 1ユーザーにつき有効な(blob, version)の組は常に1つだけ存在する。
type UserCredential struct {
	ID             string
	UID            string
	Version        uint
	TemplateDigest string // 生体サンプルの一方向ダイジェスト（16進）
	Blob           string // 暗号化済みクレデンシャルブロブ（Base64）
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CredentialIssue は発行されたクレデンシャルをRPへ返す形式。
type CredentialIssue struct {
	UID     string
	Blob    string
	Version uint
}

// RelyingParty は信頼関係を結んだRPを表す。
// MAC鍵は封印（at-rest暗号化）された状態でのみ保持する。
type RelyingParty struct {
	ID           string
	SealedMACKey []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
