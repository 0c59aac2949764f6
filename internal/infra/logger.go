package infra

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"syberkey-service/config"
)

// TraceHandler は有効なスパンのトレースIDをログレコードへ付与するslogハンドラ。
type TraceHandler struct {
	next        slog.Handler
	tracePrefix string // Cloud Logging連携用の "projects/<id>/traces/" プレフィックス
	enabled     bool
}

// NewTraceHandler はトレース情報付きのslogハンドラを生成する。
func NewTraceHandler(next slog.Handler, cfg *config.Config) *TraceHandler {
	prefix := ""
	if cfg.GoogleCloudProject != "" {
		prefix = "projects/" + cfg.GoogleCloudProject + "/traces/"
	}
	return &TraceHandler{
		next:        next,
		tracePrefix: prefix,
		enabled:     cfg.OtelEnabled,
	}
}

// Enabled はハンドラがログを処理するかどうかを返す。
func (h *TraceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle はログレコードを処理し、トレース情報を付与する。
func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.enabled {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			traceID := sc.TraceID().String()
			spanID := sc.SpanID().String()

			r.AddAttrs(
				slog.String("trace", traceID),
				slog.String("spanId", spanID),
				slog.Bool("traceSampled", sc.IsSampled()),
			)

			// Google Cloud Logging連携用フィールド
			if h.tracePrefix != "" {
				r.AddAttrs(
					slog.String("logging.googleapis.com/trace", h.tracePrefix+traceID),
					slog.String("logging.googleapis.com/spanId", spanID),
				)
			}
		}
	}

	return h.next.Handle(ctx, r)
}

// WithAttrs は属性を追加した新しいハンドラを返す。
func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{
		next:        h.next.WithAttrs(attrs),
		tracePrefix: h.tracePrefix,
		enabled:     h.enabled,
	}
}

// WithGroup はグループを追加した新しいハンドラを返す。
func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{
		next:        h.next.WithGroup(name),
		tracePrefix: h.tracePrefix,
		enabled:     h.enabled,
	}
}

// ParseLogLevel は設定文字列をslog.Levelへ変換する。未知の値はINFO扱い。
func ParseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger はトレース情報付きのJSONロガーをグローバルに設定する。
func SetupLogger(cfg *config.Config) {
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLogLevel(cfg.LogLevel),
	})
	slog.SetDefault(slog.New(NewTraceHandler(jsonHandler, cfg)))
}
