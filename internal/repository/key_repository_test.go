package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"esign-trust-service/internal/domain"
	"esign-trust-service/internal/usecase"
	"esign-trust-service/migrations"
)

// setupTestDB は本番と同じマイグレーションを適用したインメモリSQLiteデータベースを作成する。
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	// :memory: は接続ごとに別のデータベースになる
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	svc, err := usecase.NewMigrationService(NewMigrationRepository(db), db, migrations.FS, "sqlite")
	if err != nil {
		t.Fatalf("failed to create migration service: %v", err)
	}
	if _, err := svc.ApplyMigrations(context.Background()); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}
	return db
}

func insertKey(t *testing.T, db *gorm.DB, id, tenantID string, generation uint, status domain.KeyStatus) {
	t.Helper()
	model := &TenantKeyModel{ID: id, TenantID: tenantID, Generation: generation, Status: string(status)}
	if err := db.Create(model).Error; err != nil {
		t.Fatalf("failed to insert test data: %v", err)
	}
}

func TestKeyRepository_ExistsByTenantID(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewKeyRepository(db)

	insertKey(t, db, "test-id-1", "tenant-1", 1, domain.KeyStatusActive)

	exists, err := repo.ExistsByTenantID(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("ExistsByTenantID failed: %v", err)
	}
	if !exists {
		t.Error("expected exists=true, got false")
	}

	exists, err = repo.ExistsByTenantID(ctx, "tenant-2")
	if err != nil {
		t.Fatalf("ExistsByTenantID failed: %v", err)
	}
	if exists {
		t.Error("expected exists=false, got true")
	}
}

func TestKeyRepository_Create(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewKeyRepository(db)

	key := &domain.TenantKey{
		TenantID:   "tenant-1",
		Generation: 1,
		Status:     domain.KeyStatusActive,
	}
	if err := repo.Create(ctx, key); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// UUID自動生成を確認
	if key.ID == "" {
		t.Error("expected ID to be generated, got empty")
	}
	if key.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set, got zero value")
	}

	// 同じ世代は重複エラー
	dup := &domain.TenantKey{TenantID: "tenant-1", Generation: 1, Status: domain.KeyStatusActive}
	if err := repo.Create(ctx, dup); !errors.Is(err, domain.ErrKeyAlreadyExists) {
		t.Errorf("expected ErrKeyAlreadyExists, got %v", err)
	}
}

func TestKeyRepository_FindByTenantIDAndGeneration(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewKeyRepository(db)

	insertKey(t, db, "test-id-1", "tenant-1", 1, domain.KeyStatusActive)

	key, err := repo.FindByTenantIDAndGeneration(ctx, "tenant-1", 1)
	if err != nil {
		t.Fatalf("FindByTenantIDAndGeneration failed: %v", err)
	}
	if key == nil {
		t.Fatal("expected key, got nil")
	}
	if key.TenantID != "tenant-1" || key.Generation != 1 {
		t.Errorf("expected tenant-1/1, got %s/%d", key.TenantID, key.Generation)
	}

	key, err = repo.FindByTenantIDAndGeneration(ctx, "tenant-2", 1)
	if err != nil {
		t.Fatalf("FindByTenantIDAndGeneration failed: %v", err)
	}
	if key != nil {
		t.Errorf("expected nil, got %+v", key)
	}
}

func TestKeyRepository_FindAllByTenantID(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewKeyRepository(db)

	// 順不同で挿入
	insertKey(t, db, "test-id-3", "tenant-1", 3, domain.KeyStatusActive)
	insertKey(t, db, "test-id-1", "tenant-1", 1, domain.KeyStatusDisabled)
	insertKey(t, db, "test-id-2", "tenant-1", 2, domain.KeyStatusActive)

	keys, err := repo.FindAllByTenantID(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("FindAllByTenantID failed: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(keys))
	}
	for i, key := range keys {
		if key.Generation != uint(i+1) {
			t.Errorf("keys[%d]: expected generation=%d, got %d", i, i+1, key.Generation)
		}
	}
	if keys[0].Status != domain.KeyStatusDisabled {
		t.Errorf("expected status=disabled, got %s", keys[0].Status)
	}

	keys, err = repo.FindAllByTenantID(ctx, "tenant-2")
	if err != nil {
		t.Fatalf("FindAllByTenantID failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("expected empty slice, got %d keys", len(keys))
	}
}

func TestKeyRepository_GetMaxGeneration(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewKeyRepository(db)

	insertKey(t, db, "test-id-1", "tenant-1", 1, domain.KeyStatusActive)
	insertKey(t, db, "test-id-2", "tenant-1", 2, domain.KeyStatusActive)
	insertKey(t, db, "test-id-3", "tenant-1", 3, domain.KeyStatusDisabled)

	maxGen, err := repo.GetMaxGeneration(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("GetMaxGeneration failed: %v", err)
	}
	if maxGen != 3 {
		t.Errorf("expected maxGen=3, got %d", maxGen)
	}

	maxGen, err = repo.GetMaxGeneration(ctx, "tenant-2")
	if err != nil {
		t.Fatalf("GetMaxGeneration failed: %v", err)
	}
	if maxGen != 0 {
		t.Errorf("expected maxGen=0, got %d", maxGen)
	}
}

func TestKeyRepository_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewKeyRepository(db)

	insertKey(t, db, "test-id-1", "tenant-1", 1, domain.KeyStatusActive)

	if err := repo.UpdateStatus(ctx, "test-id-1", domain.KeyStatusDisabled); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	var model TenantKeyModel
	if err := db.Where("id = ?", "test-id-1").First(&model).Error; err != nil {
		t.Fatalf("failed to fetch updated record: %v", err)
	}
	if model.Status != string(domain.KeyStatusDisabled) {
		t.Errorf("expected status=disabled, got %s", model.Status)
	}

	if err := repo.UpdateStatus(ctx, "missing", domain.KeyStatusDisabled); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestKeyRepository_PropagatesDriverError(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer sqlDB.Close()

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open gorm: %v", err)
	}

	driverErr := errors.New("connection reset by peer")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `tenant_keys`")).
		WillReturnError(driverErr)

	repo := NewKeyRepository(db)
	if _, err := repo.ExistsByTenantID(context.Background(), "tenant-1"); !errors.Is(err, driverErr) {
		t.Errorf("expected driver error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
