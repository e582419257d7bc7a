package sqlite

import (
	"context"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunMigrations applies every pending migration and returns the resulting
// schema version. A nil logger keeps goose quiet.
func RunMigrations(ctx context.Context, db *gorm.DB, log goose.Logger) (int64, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return 0, err
	}

	if err := goose.SetDialect("sqlite3"); err != nil {
		return 0, err
	}
	if log != nil {
		goose.SetLogger(log)
	} else {
		goose.SetLogger(goose.NopLogger())
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return 0, fmt.Errorf("migrate: %w", err)
	}

	return goose.GetDBVersionContext(ctx, sqlDB)
}
