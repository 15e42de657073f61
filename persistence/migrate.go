// persistence/migrate.go
package persistence

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/wfunc/picklo/logger"
	"github.com/wfunc/picklo/models"
)

// Migrate 执行 SQL 迁移（表、约束、room_scores 视图、变更通知触发器）。
// autoMigrate 为 true 时再用 GORM 补齐模型中新增的列。
func (p *GormPostgreSQL) Migrate(migrationsDir string, autoMigrate bool) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	driver, err := migratepg.WithInstance(sqlDB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("migrate driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsDir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate source %s: %w", migrationsDir, err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	version, dirty, _ := m.Version()
	logger.Log.Infow("database migrated", "version", version, "dirty", dirty)

	if autoMigrate {
		if err := p.db.AutoMigrate(models.All()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}
	return nil
}
