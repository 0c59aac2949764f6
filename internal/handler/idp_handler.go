// Package handler はHTTPハンドラを提供する。
package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"

	"syberkey-service/internal/domain"
	"syberkey-service/internal/middleware"
	"syberkey-service/internal/usecase"
	"syberkey-service/pkg/httputil"
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IdPHandler はIdentityProvider APIのHTTPハンドラを提供する。
type IdPHandler struct {
	enrollment *usecase.EnrollmentService
	login      *usecase.LoginService
}

// NewIdPHandler は新しいIdPHandlerを生成する。
func NewIdPHandler(enrollment *usecase.EnrollmentService, login *usecase.LoginService) *IdPHandler {
	return &IdPHandler{enrollment: enrollment, login: login}
}

func validateID(id string) bool {
	return id != "" && len(id) <= 64 && idRegex.MatchString(id)
}

// CredentialResponse は発行済みクレデンシャルのレスポンス形式。
type CredentialResponse struct {
	UID     string `json:"uid"`
	Blob    string `json:"blob"`
	Version uint   `json:"version"`
}

// LoginResultResponse はログイン判定結果のレスポンス形式。
// statusごとに付随フィールドが変わるタグ付きユニオン。
type LoginResultResponse struct {
	Status  string `json:"status"`
	Token   string `json:"token,omitempty"`
	Blob    string `json:"blob,omitempty"`
	Version uint   `json:"version,omitempty"`
}

func toLoginResultResponse(result *domain.LoginResult) LoginResultResponse {
	return LoginResultResponse{
		Status:  string(result.Status),
		Token:   result.Token,
		Blob:    result.Blob,
		Version: result.Version,
	}
}

// Enroll は生体サンプルを登録し新しいクレデンシャルを発行する。
func (h *IdPHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	if !validateID(uid) {
		httputil.Error(w, http.StatusBadRequest, "INVALID_UID", "invalid user ID format")
		return
	}

	var req struct {
		BiometricSample string `json:"biometric_sample"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}

	issue, err := h.enrollment.Enroll(r.Context(), uid, req.BiometricSample)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyBiometricSample) {
			middleware.WriteAuditLog(r.Context(), "ENROLL", uid, 0, "FAILED")
			httputil.Error(w, http.StatusBadRequest, "EMPTY_SAMPLE", "biometric sample is required")
			return
		}
		middleware.WriteAuditLog(r.Context(), "ENROLL", uid, 0, "FAILED")
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	middleware.WriteAuditLog(r.Context(), "ENROLL", uid, issue.Version, "SUCCESS")
	httputil.JSON(w, http.StatusCreated, CredentialResponse{
		UID:     issue.UID,
		Blob:    issue.Blob,
		Version: issue.Version,
	})
}

// Rotate はクレデンシャルをローテーションし旧ブロブを無効化する。
func (h *IdPHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	if !validateID(uid) {
		httputil.Error(w, http.StatusBadRequest, "INVALID_UID", "invalid user ID format")
		return
	}

	issue, err := h.enrollment.Rotate(r.Context(), uid)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			middleware.WriteAuditLog(r.Context(), "ROTATE", uid, 0, "FAILED")
			httputil.Error(w, http.StatusNotFound, "CREDENTIAL_NOT_FOUND", "no credential enrolled for this user")
			return
		}
		middleware.WriteAuditLog(r.Context(), "ROTATE", uid, 0, "FAILED")
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	middleware.WriteAuditLog(r.Context(), "ROTATE", uid, issue.Version, "SUCCESS")
	httputil.JSON(w, http.StatusCreated, CredentialResponse{
		UID:     issue.UID,
		Blob:    issue.Blob,
		Version: issue.Version,
	})
}

// GetCredential は現行の(blob, version)を返す。RPの再同期用。
func (h *IdPHandler) GetCredential(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	if !validateID(uid) {
		httputil.Error(w, http.StatusBadRequest, "INVALID_UID", "invalid user ID format")
		return
	}

	issue, err := h.enrollment.CurrentCredential(r.Context(), uid)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			httputil.Error(w, http.StatusNotFound, "CREDENTIAL_NOT_FOUND", "no credential enrolled for this user")
			return
		}
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	httputil.JSON(w, http.StatusOK, CredentialResponse{
		UID:     issue.UID,
		Blob:    issue.Blob,
		Version: issue.Version,
	})
}

// TrustRP はRPの共有MAC鍵を登録または置換する。
func (h *IdPHandler) TrustRP(w http.ResponseWriter, r *http.Request) {
	rpID := chi.URLParam(r, "rp_id")
	if !validateID(rpID) {
		httputil.Error(w, http.StatusBadRequest, "INVALID_RP_ID", "invalid relying party ID format")
		return
	}

	var req struct {
		MACKey string `json:"mac_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}

	macKey, err := base64.StdEncoding.DecodeString(req.MACKey)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_MAC_KEY", "mac_key must be base64-encoded")
		return
	}

	if err := h.enrollment.TrustRP(r.Context(), rpID, macKey); err != nil {
		if errors.Is(err, domain.ErrInvalidMACKey) {
			middleware.WriteAuditLog(r.Context(), "TRUST_RP", rpID, 0, "FAILED")
			httputil.Error(w, http.StatusBadRequest, "INVALID_MAC_KEY", "mac_key must be a 32-byte key")
			return
		}
		middleware.WriteAuditLog(r.Context(), "TRUST_RP", rpID, 0, "FAILED")
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	middleware.WriteAuditLog(r.Context(), "TRUST_RP", rpID, 0, "SUCCESS")
	w.WriteHeader(http.StatusNoContent)
}

// EvaluateLogin は署名付きログインパケットを単一呼び出しで判定する。
func (h *IdPHandler) EvaluateLogin(w http.ResponseWriter, r *http.Request) {
	rpID := chi.URLParam(r, "rp_id")
	if !validateID(rpID) {
		httputil.Error(w, http.StatusBadRequest, "INVALID_RP_ID", "invalid relying party ID format")
		return
	}

	var req struct {
		Packet       domain.LoginPacket `json:"packet"`
		UserApproved bool               `json:"user_approved"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}

	result, err := h.login.EvaluateLogin(r.Context(), rpID, &req.Packet, req.UserApproved)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "EVALUATE_LOGIN", rpID, 0, "FAILED")
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	middleware.WriteAuditLog(r.Context(), "EVALUATE_LOGIN", rpID, 0, string(result.Status))
	httputil.JSON(w, http.StatusOK, toLoginResultResponse(result))
}

// BeginLoginResponse は承認待ちハンドルのレスポンス形式。
type BeginLoginResponse struct {
	LoginID   string `json:"login_id"`
	ExpiresAt string `json:"expires_at"`
}

// BeginLogin は前段ゲートを評価し承認待ちハンドルを発行する。
func (h *IdPHandler) BeginLogin(w http.ResponseWriter, r *http.Request) {
	rpID := chi.URLParam(r, "rp_id")
	if !validateID(rpID) {
		httputil.Error(w, http.StatusBadRequest, "INVALID_RP_ID", "invalid relying party ID format")
		return
	}

	var req struct {
		Packet domain.LoginPacket `json:"packet"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}

	pending, fail, err := h.login.BeginLogin(r.Context(), rpID, &req.Packet)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "BEGIN_LOGIN", rpID, 0, "FAILED")
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}
	if fail != nil {
		middleware.WriteAuditLog(r.Context(), "BEGIN_LOGIN", rpID, 0, string(fail.Status))
		httputil.JSON(w, http.StatusOK, toLoginResultResponse(fail))
		return
	}

	middleware.WriteAuditLog(r.Context(), "BEGIN_LOGIN", rpID, 0, "PENDING")
	httputil.JSON(w, http.StatusAccepted, BeginLoginResponse{
		LoginID:   pending.Handle,
		ExpiresAt: pending.ExpiresAt.Format(time.RFC3339),
	})
}

// CompleteLogin は承認結果を受け取り判定を完了する。
func (h *IdPHandler) CompleteLogin(w http.ResponseWriter, r *http.Request) {
	loginID := chi.URLParam(r, "login_id")
	if loginID == "" {
		httputil.Error(w, http.StatusBadRequest, "INVALID_LOGIN_ID", "login ID is required")
		return
	}

	var req struct {
		Approved bool `json:"approved"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}

	result, err := h.login.CompleteLogin(r.Context(), loginID, req.Approved)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "COMPLETE_LOGIN", loginID, 0, "FAILED")
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	middleware.WriteAuditLog(r.Context(), "COMPLETE_LOGIN", loginID, 0, string(result.Status))
	httputil.JSON(w, http.StatusOK, toLoginResultResponse(result))
}

// Healthz はヘルスチェックエンドポイント。
func (h *IdPHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
