// Package app wires configuration into a ready pipeline and its backing
// services.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"mri-inference-service/condition"
	"mri-inference-service/config"
	"mri-inference-service/data"
	"mri-inference-service/metrics"
	"mri-inference-service/model"
	"mri-inference-service/report"
	"mri-inference-service/service"
	"mri-inference-service/storage"
)

type App struct {
	Config   *config.Config
	Log      zerolog.Logger
	Metrics  *metrics.Metrics
	Model    *model.ONNXModel
	DB       *gorm.DB
	Repo     *data.PredictionRepository
	Store    *storage.MinIOClient // nil when storage is disabled
	Pipeline *service.Pipeline
}

// New loads the model, opens the database and, when enabled, connects to
// object storage. Partially built resources are released on error.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Log: log, Metrics: metrics.New()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	for _, name := range cfg.Secrets.Missing() {
		log.Warn().Str("secret", name).Msg("secret not set, news and chat features are unavailable")
	}

	modelCfg := model.DefaultConfig(cfg.Model.Path)
	modelCfg.SharedLibraryPath = cfg.Model.SharedLibraryPath
	if cfg.Model.InputName != "" {
		modelCfg.InputName = cfg.Model.InputName
	}
	if cfg.Model.OutputName != "" {
		modelCfg.OutputName = cfg.Model.OutputName
	}
	a.Model, err = model.NewONNXModel(modelCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", cfg.Model.Path, err)
	}
	log.Info().
		Str("path", cfg.Model.Path).
		Ints64("input_shape", a.Model.InputShape()).
		Int("classes", a.Model.NumClasses()).
		Msg("model loaded")
	if n, want := a.Model.NumClasses(), len(condition.Labels()); n != want {
		log.Warn().Int("classes", n).Int("labels", want).Msg("model class count differs from the condition table")
	}

	a.DB, err = data.Open(data.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, log)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err = a.DB.AutoMigrate(&data.Prediction{}); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	a.Repo = data.NewPredictionRepository(a.DB)

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(a.Metrics),
		service.WithClassifyTimeout(cfg.Model.ClassifyTimeout),
		service.WithPersistTimeout(cfg.Database.PersistTimeout),
	}

	if cfg.Storage.Enabled {
		a.Store, err = storage.NewMinIOClient(ctx, storage.Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			UseSSL:    cfg.Storage.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, service.WithArchive(a.Store))
		log.Info().Str("bucket", cfg.Storage.Bucket).Msg("scan archive enabled")
	}

	renderer := report.NewGenerator(report.WithCompression(cfg.Report.Compress))
	a.Pipeline = service.NewPipeline(a.Model, a.Repo, renderer, opts...)
	return a, nil
}

func (a *App) Close() error {
	var errs []error
	if a.Model != nil {
		if err := a.Model.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.DB != nil {
		if err := data.Close(a.DB); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
