package main

import (
	"fmt"

	"gorm.io/gorm"

	"esign-trust-service/config"
	"esign-trust-service/internal/infra"
)

// openDB は環境変数の設定でデータベースに接続する。
func openDB() (*gorm.DB, *config.Config, error) {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	db, err := infra.NewDB(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, cfg, nil
}
