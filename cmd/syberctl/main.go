// Package main はCLIツールのエントリポイント。
package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"syberkey-service/internal/relyingparty"
)

const version = "1.0.0"

var (
	apiURL   string
	output   string
	timeout  time.Duration
	stateDir string
)

// HTTPクライアント
var httpClient *http.Client

func main() {
	rootCmd := &cobra.Command{
		Use:   "syberctl",
		Short: "SyberKey Identity Provider CLI",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if apiURL == "" {
				apiURL = os.Getenv("SYBERCTL_API_URL")
			}
			if stateDir == "" {
				if home, err := os.UserHomeDir(); err == nil {
					stateDir = filepath.Join(home, ".config", "syberkey")
				}
			}
			httpClient = &http.Client{Timeout: timeout}
		},
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API endpoint URL (or set SYBERCTL_API_URL)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "Directory for local RP state (default ~/.config/syberkey)")

	// サブコマンド登録
	rootCmd.AddCommand(enrollCmd())
	rootCmd.AddCommand(rotateCmd())
	rootCmd.AddCommand(credentialCmd())
	rootCmd.AddCommand(trustCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("syberctl version %s\n", version)
		},
	}
}

// enrollCmd は生体サンプルの登録コマンド。
func enrollCmd() *cobra.Command {
	var uid, sample string
	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Enroll a biometric sample and issue a credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiURL == "" {
				return fmt.Errorf("--api-url is required (or set SYBERCTL_API_URL)")
			}

			body, _ := json.Marshal(map[string]string{"biometric_sample": sample})
			url := fmt.Sprintf("%s/v1/users/%s/enroll", apiURL, uid)
			resp, err := httpClient.Post(url, "application/json", bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("API request failed: %w", err)
			}
			defer resp.Body.Close()

			respBody, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}

			if resp.StatusCode != http.StatusCreated {
				return handleErrorResponse(resp.StatusCode, respBody)
			}

			if output == "json" {
				fmt.Println(string(respBody))
			} else {
				var result map[string]interface{}
				if err := json.Unmarshal(respBody, &result); err != nil {
					return fmt.Errorf("parsing response: %w", err)
				}
				fmt.Printf("Enrolled user %q (version: %.0f)\n", uid, result["version"])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&uid, "user", "", "User ID (required)")
	cmd.Flags().StringVar(&sample, "sample", "", "Biometric sample (required)")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("sample")
	return cmd
}

// rotateCmd はクレデンシャルのローテーションコマンド。
func rotateCmd() *cobra.Command {
	var uid string
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate a user's credential, revoking the previous blob",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiURL == "" {
				return fmt.Errorf("--api-url is required (or set SYBERCTL_API_URL)")
			}

			url := fmt.Sprintf("%s/v1/users/%s/rotate", apiURL, uid)
			resp, err := httpClient.Post(url, "application/json", nil)
			if err != nil {
				return fmt.Errorf("API request failed: %w", err)
			}
			defer resp.Body.Close()

			respBody, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}

			if resp.StatusCode != http.StatusCreated {
				return handleErrorResponse(resp.StatusCode, respBody)
			}

			if output == "json" {
				fmt.Println(string(respBody))
			} else {
				var result map[string]interface{}
				if err := json.Unmarshal(respBody, &result); err != nil {
					return fmt.Errorf("parsing response: %w", err)
				}
				fmt.Printf("Rotated credential for user %q (new version: %.0f)\n", uid, result["version"])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&uid, "user", "", "User ID (required)")
	cmd.MarkFlagRequired("user")
	return cmd
}

// credentialCmd は現行クレデンシャルの取得コマンド。
func credentialCmd() *cobra.Command {
	var uid string
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Get the current credential for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiURL == "" {
				return fmt.Errorf("--api-url is required (or set SYBERCTL_API_URL)")
			}

			url := fmt.Sprintf("%s/v1/users/%s/credential", apiURL, uid)
			resp, err := httpClient.Get(url)
			if err != nil {
				return fmt.Errorf("API request failed: %w", err)
			}
			defer resp.Body.Close()

			respBody, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}

			if resp.StatusCode != http.StatusOK {
				return handleErrorResponse(resp.StatusCode, respBody)
			}

			if output == "json" {
				fmt.Println(string(respBody))
			} else {
				var result map[string]interface{}
				if err := json.Unmarshal(respBody, &result); err != nil {
					return fmt.Errorf("parsing response: %w", err)
				}
				fmt.Printf("%-10s %v\n%-10s %v\n", "VERSION", result["version"], "BLOB", result["blob"])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&uid, "user", "", "User ID (required)")
	cmd.MarkFlagRequired("user")
	return cmd
}

// rpState はRPシミュレーション用のローカル状態。
type rpState struct {
	RPID   string `json:"rp_id"`
	MACKey string `json:"mac_key"` // Base64
}

func rpStatePath() string {
	return filepath.Join(stateDir, "rp.json")
}

func rpStorePath() string {
	return filepath.Join(stateDir, "credentials.json")
}

func loadRPState() (*rpState, error) {
	data, err := os.ReadFile(rpStatePath())
	if err != nil {
		return nil, fmt.Errorf("no trusted RP state found, run 'syberctl trust' first: %w", err)
	}
	var state rpState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing RP state: %w", err)
	}
	return &state, nil
}

func newRPClient() (*relyingparty.Client, error) {
	state, err := loadRPState()
	if err != nil {
		return nil, err
	}
	macKey, err := base64.StdEncoding.DecodeString(state.MACKey)
	if err != nil {
		return nil, fmt.Errorf("decoding MAC key: %w", err)
	}
	store, err := relyingparty.NewFileStore(rpStorePath())
	if err != nil {
		return nil, err
	}
	return relyingparty.NewClient(apiURL, state.RPID, macKey, store), nil
}

// trustCmd はRPとして共有MAC鍵を生成・登録するコマンド。
func trustCmd() *cobra.Command {
	var rpID string
	cmd := &cobra.Command{
		Use:   "trust",
		Short: "Register this host as a relying party with a fresh MAC key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiURL == "" {
				return fmt.Errorf("--api-url is required (or set SYBERCTL_API_URL)")
			}

			macKey := make([]byte, 32)
			if _, err := rand.Read(macKey); err != nil {
				return fmt.Errorf("generating MAC key: %w", err)
			}
			encoded := base64.StdEncoding.EncodeToString(macKey)

			body, _ := json.Marshal(map[string]string{"mac_key": encoded})
			url := fmt.Sprintf("%s/v1/relying-parties/%s", apiURL, rpID)
			req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("creating request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("API request failed: %w", err)
			}
			defer resp.Body.Close()

			respBody, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}

			if resp.StatusCode != http.StatusNoContent {
				return handleErrorResponse(resp.StatusCode, respBody)
			}

			if err := os.MkdirAll(stateDir, 0700); err != nil {
				return fmt.Errorf("creating state directory: %w", err)
			}
			stateData, _ := json.MarshalIndent(rpState{RPID: rpID, MACKey: encoded}, "", "  ")
			if err := os.WriteFile(rpStatePath(), stateData, 0600); err != nil {
				return fmt.Errorf("writing RP state: %w", err)
			}

			fmt.Printf("Registered relying party %q, state saved to %s\n", rpID, rpStatePath())
			return nil
		},
	}
	cmd.Flags().StringVar(&rpID, "rp", "", "Relying party ID (required)")
	cmd.MarkFlagRequired("rp")
	return cmd
}

// syncCmd はIdPから現行クレデンシャルを取得しRPキャッシュを更新するコマンド。
func syncCmd() *cobra.Command {
	var uid string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch and cache the current credential for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiURL == "" {
				return fmt.Errorf("--api-url is required (or set SYBERCTL_API_URL)")
			}

			client, err := newRPClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := client.Sync(ctx, uid); err != nil {
				return err
			}
			fmt.Printf("Synced credential for user %q\n", uid)
			return nil
		},
	}
	cmd.Flags().StringVar(&uid, "user", "", "User ID (required)")
	cmd.MarkFlagRequired("user")
	return cmd
}

// loginCmd はRPとしてログインフローを実行するコマンド。
func loginCmd() *cobra.Command {
	var uid string
	var deny bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Run the login flow for a user as the trusted relying party",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiURL == "" {
				return fmt.Errorf("--api-url is required (or set SYBERCTL_API_URL)")
			}

			client, err := newRPClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			result, err := client.Login(ctx, uid, !deny)
			if err != nil {
				return err
			}

			if output == "json" {
				data, _ := json.Marshal(result)
				fmt.Println(string(data))
				return nil
			}

			switch result.Status {
			case "success":
				fmt.Printf("Login succeeded.\nToken: %s\n", result.Token)
			case "credential_revoked":
				fmt.Println("Login failed: credential revoked (recovery already retried once)")
			default:
				fmt.Printf("Login failed: %s\n", result.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&uid, "user", "", "User ID (required)")
	cmd.Flags().BoolVar(&deny, "deny", false, "Simulate the user denying the approval push")
	cmd.MarkFlagRequired("user")
	return cmd
}

func handleErrorResponse(statusCode int, body []byte) error {
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&errResp); err == nil && errResp.Message != "" {
		return fmt.Errorf("Error: %s", errResp.Message)
	}
	return fmt.Errorf("Error: server returned status %d", statusCode)
}
