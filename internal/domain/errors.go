package domain

import "errors"

var (
	// ErrConfiguration はマスター鍵など必須設定が欠落・不正な場合のエラー。リトライしない。
	ErrConfiguration = errors.New("configuration error")

	// ErrTenantContextMissing はテナントが指定されないまま暗号操作が呼ばれた場合のエラー。
	ErrTenantContextMissing = errors.New("tenant context missing")

	// ErrInvalidFormat はペイロードがエンベロープとして短すぎる場合のエラー。
	ErrInvalidFormat = errors.New("invalid envelope format")

	// ErrIntegrityCheckFailed は認証タグの検証に失敗した場合のエラー（改ざんの可能性）。
	ErrIntegrityCheckFailed = errors.New("integrity check failed")

	// ErrDecryptionFailed は ErrIntegrityCheckFailed の別名。
	ErrDecryptionFailed = ErrIntegrityCheckFailed

	// ErrKeyNotFound は指定されたテナント・世代の鍵が存在しない場合のエラー。
	ErrKeyNotFound = errors.New("key not found")

	// ErrKeyAlreadyExists は指定されたテナントに既に鍵が存在する場合のエラー。
	ErrKeyAlreadyExists = errors.New("key already exists")

	// ErrKeyDisabled は指定された鍵が無効化されている場合のエラー。
	ErrKeyDisabled = errors.New("key is disabled")

	// ErrKeyAlreadyDisabled は指定された鍵が既に無効化されている場合のエラー。
	ErrKeyAlreadyDisabled = errors.New("key is already disabled")

	// ErrInvalidTenantID はテナントIDの形式が不正な場合のエラー。
	ErrInvalidTenantID = errors.New("invalid tenant ID")

	// ErrInvalidGeneration は世代番号が不正な場合のエラー。
	ErrInvalidGeneration = errors.New("invalid generation")

	// ErrDocumentNotFound は文書が存在しない場合のエラー。
	ErrDocumentNotFound = errors.New("document not found")

	// ErrInvalidAuditEvent は監査イベントの必須項目が欠けている場合のエラー。
	ErrInvalidAuditEvent = errors.New("invalid audit event")

	// ErrConcurrentUpdate は楽観ロックのバージョンが一致しなかった場合のエラー。
	ErrConcurrentUpdate = errors.New("concurrent update detected")

	// ErrLockNotAcquired は排他ロックを取得できなかった場合のエラー。
	ErrLockNotAcquired = errors.New("lock not acquired")

	// ErrNotificationQueueFull は通知キューが満杯の場合のエラー。
	ErrNotificationQueueFull = errors.New("notification queue full")
	// ErrNotifierClosed は停止済みの通知キューに積もうとした場合のエラー。
	ErrNotifierClosed = errors.New("notifier closed")

	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")

	// ErrUnsupportedDialect は未対応のDBドライバが指定された場合のエラー。
	ErrUnsupportedDialect = errors.New("unsupported database dialect")
)
