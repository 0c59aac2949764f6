// Package main はAPIサーバーのエントリポイント。
package main

import (
	"context"
	"crypto/rand"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"syberkey-service/config"
	"syberkey-service/internal/handler"
	"syberkey-service/internal/infra"
	"syberkey-service/internal/repository"
	"syberkey-service/internal/usecase"
)

func main() {
	ctx := context.Background()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	// 設定読み込み
	cfg := config.Load()

	// トレーサー初期化（ロガー設定の前に実行）
	shutdownTracer, err := infra.InitTracer(ctx, cfg)
	if err != nil {
		slog.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracer(ctx); err != nil {
			slog.Error("failed to shutdown tracer", "error", err)
		}
	}()

	// トレース情報付きロガーを設定
	infra.SetupLogger(cfg)

	// DB初期化
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is not set")
		os.Exit(1)
	}
	db, err := infra.NewDB(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to init database", "error", err)
		os.Exit(1)
	}

	// 封印方式の選択（本番はKMS、開発・テストはローカルAES-GCM）
	var sealer usecase.Sealer
	switch cfg.SealMode {
	case "kms":
		kmsSealer, err := infra.NewKMSSealer(ctx, cfg.KMSKeyName)
		if err != nil {
			slog.Error("failed to init KMS sealer", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := kmsSealer.Close(); closeErr != nil {
				slog.Error("failed to close KMS sealer", "error", closeErr)
			}
		}()
		sealer = kmsSealer
	default:
		localSealer, err := infra.NewLocalSealer(cfg.SealKey)
		if err != nil {
			slog.Error("failed to init local sealer", "error", err)
			os.Exit(1)
		}
		sealer = localSealer
	}

	// リポジトリ初期化とブロブ暗号鍵のロード（初回起動時は生成・封印）
	credRepo := repository.NewCredentialRepository(db)
	rpRepo := repository.NewRelyingPartyRepository(db)
	keyRepo := repository.NewMasterKeyRepository(db)

	cipher, err := usecase.LoadBlobCipher(ctx, keyRepo, sealer, repository.MasterKeyName)
	if err != nil {
		slog.Error("failed to load blob cipher", "error", err)
		os.Exit(1)
	}

	// トークン署名鍵（未設定の場合は起動ごとに生成: 再起動で既存トークン失効）
	tokenSecret := []byte(cfg.TokenSecret)
	if len(tokenSecret) == 0 {
		tokenSecret = make([]byte, 32)
		if _, err := rand.Read(tokenSecret); err != nil {
			slog.Error("failed to generate token secret", "error", err)
			os.Exit(1)
		}
		slog.Warn("TOKEN_SECRET is not set, issued tokens will not survive a restart")
	}

	// DI
	locks := usecase.NewUserLocks()
	tokens := usecase.NewTokenIssuer(tokenSecret, cfg.TokenTTL)
	enrollment := usecase.NewEnrollmentService(credRepo, rpRepo, sealer, cipher, locks)
	login := usecase.NewLoginService(credRepo, rpRepo, sealer, cipher, locks, tokens, infra.NewLogPusher(), cfg.FreshnessWindow, cfg.ApprovalTTL)
	h := handler.NewIdPHandler(enrollment, login)
	router := handler.NewRouter(h)

	// サーバー起動
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("starting server", "port", cfg.Port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
