package main

import (
	"net/http"
	"os"
	"time"

	"github.com/fencewatch/fencewatch/app"
	"github.com/fencewatch/fencewatch/config"
	"github.com/fencewatch/fencewatch/lib"
	"github.com/fencewatch/fencewatch/lib/digest"
	"github.com/fencewatch/fencewatch/lib/ingest"
	"github.com/fencewatch/fencewatch/lib/scheduler"
	"github.com/fencewatch/fencewatch/lib/scrape"
	"github.com/fencewatch/fencewatch/lib/store"
	"github.com/fencewatch/fencewatch/lib/subjects"
	"github.com/fencewatch/fencewatch/senders"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewLogger() (*zap.Logger, error) {
	switch os.Getenv("ENVIRONMENT") {
	default:
		return zap.NewDevelopment()

	case "production":
		logCfg := zap.NewProductionConfig()
		logCfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			t = t.UTC()
			zapcore.ISO8601TimeEncoder(t, enc)
		}
		return logCfg.Build()
	}
}

func main() {
	godotenv.Load()

	fx.New(
		fx.Provide(config.NewConfig),
		fx.Provide(NewLogger),

		fx.Provide(senders.NewSenderRegistry),

		fx.Provide(app.NewDatabase),
		fx.Provide(app.NewTransport),
		fx.Provide(store.NewStore),
		fx.Provide(scrape.NewScraper),
		fx.Provide(ingest.NewReconciler),
		fx.Provide(subjects.NewManager),
		fx.Provide(digest.NewSelector),
		fx.Provide(lib.NewService),
		fx.Provide(scheduler.NewScheduler),
		fx.Provide(app.NewAPI),

		fx.Invoke(func(*scheduler.Scheduler) {}),
		fx.Invoke(func(*http.Server) {}),
	).Run()
}
