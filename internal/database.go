package internal

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kspro0090/baradar/internal/config"
	"github.com/kspro0090/baradar/internal/models"
)

// OpenDB connects to the configured database and brings the schema up to
// date.
func OpenDB(cfg *config.Config, logger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.Database.DSN())
	case "postgres":
		dialector = postgres.Open(cfg.Database.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	level := gormlogger.Warn
	if cfg.Server.Environment == "production" {
		level = gormlogger.Error
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		Logger:                                   gormlogger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := autoMigrate(db, logger); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("database connected and migrated", zap.String("driver", cfg.Database.Driver))
	return db, nil
}

func autoMigrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(
		&models.Service{},
		&models.FormField{},
		&models.ServiceRequest{},
		&models.TemplateInstance{},
		&models.PDFJob{},
		&models.ActivityLog{},
	); err != nil {
		return err
	}

	// Columns added after the first release. AutoMigrate covers fresh
	// databases; older ones may have been created by hand.
	ensure := []struct {
		model  any
		column string
	}{
		{&models.Service{}, "UseInstancePool"},
		{&models.Service{}, "DefaultFont"},
		{&models.ServiceRequest{}, "Version"},
		{&models.ActivityLog{}, "Role"},
	}
	for _, e := range ensure {
		if err := ensureColumn(db, logger, e.model, e.column); err != nil {
			return err
		}
	}
	return nil
}

func ensureColumn(db *gorm.DB, logger *zap.Logger, model any, column string) error {
	if db.Migrator().HasColumn(model, column) {
		return nil
	}

	logger.Info("adding missing column", zap.String("column", column))
	if err := db.Migrator().AddColumn(model, column); err != nil {
		return fmt.Errorf("failed to add column %s: %w", column, err)
	}
	return nil
}

func CloseDB(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
