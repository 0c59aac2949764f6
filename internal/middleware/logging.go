// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"time"
)

// AuditLog は監査ログの構造体。
type AuditLog struct {
	Operation string `json:"operation"`
	Subject   string `json:"subject"`
	Version   uint   `json:"version,omitempty"`
	Result    string `json:"result"`
	Timestamp string `json:"timestamp"`
}

// WriteAuditLog は監査ログを出力する。subjectはユーザーID・RP ID・
// ログインハンドルのいずれか（操作による）。
func WriteAuditLog(ctx context.Context, operation string, subject string, version uint, result string) {
	slog.InfoContext(ctx, "credential operation completed",
		"operation", operation,
		"subject", subject,
		"version", version,
		"result", result,
		"timestamp", time.Now().UTC().Format(time.RFC3339),
	)
}
