package infra

import (
	"context"
	"log/slog"

	"syberkey-service/internal/domain"
)

// LogPusher は承認要求をログに出力するだけのプッシュ配送実装。
// 実配送（APNs/FCM等）は外部コラボレータであり、ここでは
// ApprovalPusherインターフェースの既定実装として動作する。
type LogPusher struct{}

// NewLogPusher は新しいLogPusherを生成する。
func NewLogPusher() *LogPusher {
	return &LogPusher{}
}

// Push は承認要求の概要をログ出力する。
func (p *LogPusher) Push(ctx context.Context, pending *domain.PendingLogin) error {
	slog.InfoContext(ctx, "approval push requested",
		"uid", pending.UID,
		"rp_id", pending.RPID,
		"login_id", pending.Handle,
		"expires_at", pending.ExpiresAt,
	)
	return nil
}
