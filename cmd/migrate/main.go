package main

import (
	"context"
	"log"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"newsbrief-backend/pkg/config"
	"newsbrief-backend/pkg/db"
	"newsbrief-backend/pkg/hashistack/secretmanager"
	"newsbrief-backend/pkg/logger"
	"newsbrief-backend/services/brief"
	"newsbrief-backend/services/execution"
	"newsbrief-backend/services/preference"
	"newsbrief-backend/services/subscription"
	"newsbrief-backend/services/topiccache"
	"newsbrief-backend/services/user"
)

// Schema management tool. The worker binary never migrates on boot; run this
// once per deploy instead.
func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		db.Module,
		fx.Invoke(migrate),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	if err := app.Stop(ctx); err != nil {
		log.Fatalf("shutdown failed: %v", err)
	}
}

func migrate(gdb *gorm.DB) error {
	err := gdb.AutoMigrate(
		&user.User{},
		&preference.Preference{},
		&subscription.Subscription{},
		&brief.Schedule{},
		&execution.Record{},
		&topiccache.Entry{},
	)
	if err != nil {
		return err
	}

	zap.L().Info("✅ schema migrated")
	return nil
}
