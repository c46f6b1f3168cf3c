package main

import (
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"newsbrief-backend/pkg/config"
	"newsbrief-backend/pkg/db"
	"newsbrief-backend/pkg/gen"
	"newsbrief-backend/pkg/hashistack/secretmanager"
	"newsbrief-backend/pkg/logger"
	"newsbrief-backend/pkg/redis"
	"newsbrief-backend/pkg/sequence"
	"newsbrief-backend/pkg/summarizer"
	"newsbrief-backend/pkg/task"
	"newsbrief-backend/pkg/taskname"
	"newsbrief-backend/services/brief"
	"newsbrief-backend/services/execution"
	"newsbrief-backend/services/preference"
	"newsbrief-backend/services/runner"
	"newsbrief-backend/services/subscription"
	"newsbrief-backend/services/topiccache"
	"newsbrief-backend/services/user"
)

func main() {
	app := fx.New(
		secretmanager.Module,
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		gen.Module,
		sequence.Module,
		task.Client,
		task.Server,
		summarizer.Module,
		user.Module,
		preference.Module,
		subscription.Module,
		brief.Module,
		execution.Module,
		topiccache.Module,
		runner.Module,
		fx.Invoke(registerHandlers),
		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func registerHandlers(mux *asynq.ServeMux, svc *runner.Task) {
	mux.HandleFunc(taskname.BriefGenerate, svc.HandleGenerateBrief)
	mux.HandleFunc(taskname.CacheCleanupExpired, svc.HandleCacheCleanup)
	mux.HandleFunc(taskname.ExecutionCleanupExpired, svc.HandleExecutionCleanup)
}
