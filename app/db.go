package app

import (
	"github.com/fencewatch/fencewatch/config"
	"github.com/fencewatch/fencewatch/lib/models"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func NewDatabase(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Sugar().Panicw("failed to connect database", "err", err)
	}
	log.Info("Database started")

	log.Info("Starting migrations")
	db.AutoMigrate(
		&models.Fencer{},
		&models.Tournament{},
		&models.Registration{},
		&models.User{},
		&models.TrackedClub{},
		&models.TrackedFencer{},
	)
	return db
}
