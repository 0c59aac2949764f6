package domain

import "errors"

var (
	// ErrCredentialNotFound は指定されたユーザーに有効なクレデンシャルが存在しない場合のエラー。
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrInvalidUID はユーザーIDの形式が不正な場合のエラー。
	ErrInvalidUID = errors.New("invalid user ID")

	// ErrInvalidRPID はRP IDの形式が不正な場合のエラー。
	ErrInvalidRPID = errors.New("invalid relying party ID")

	// ErrEmptyBiometricSample は生体サンプルが空の場合のエラー。
	ErrEmptyBiometricSample = errors.New("empty biometric sample")

	// ErrInvalidMACKey はMAC鍵の形式・長さが不正な場合のエラー。
	ErrInvalidMACKey = errors.New("invalid MAC key")

	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")
)
