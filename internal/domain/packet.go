package domain

import "encoding/json"

// LoginPayload はRPが構築するログイン要求の本体。
// 署名対象のバイト列はこの構造体のJSONエンコードであり、
// フィールド順（uid, credential_blob, timestamp, nonce）は
// ワイヤ契約の一部。順序が変わると署名検証が成立しなくなる。
type LoginPayload struct {
	UID            string `json:"uid"`
	CredentialBlob string `json:"credential_blob"`
	Timestamp      int64  `json:"timestamp"` // Unix秒
	Nonce          string `json:"nonce"`
}

// CanonicalBytes は署名・検証の対象となる正規化バイト列を返す。
func (p LoginPayload) CanonicalBytes() ([]byte, error) {
	return json.Marshal(p)
}

// LoginPacket はRPからIdPへ送られる署名付きログイン要求。
// 署名後は不変であり、1回のログイン試行でのみ使用される。
type LoginPacket struct {
	Payload   LoginPayload `json:"payload"`
	Signature string       `json:"signature"` // 16進HMAC-SHA256
}
