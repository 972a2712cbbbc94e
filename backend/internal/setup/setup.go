package setup

import (
	"context"
	"errors"
	"fmt"

	"github.com/elkarte/forum/backend/internal/events"
	"github.com/elkarte/forum/backend/internal/handler"
	"github.com/elkarte/forum/backend/internal/modules/attachmetrics"
	"github.com/elkarte/forum/backend/internal/service"
	"github.com/elkarte/forum/backend/internal/storage/fs"
	"github.com/elkarte/forum/backend/internal/storage/pg"
	redisstore "github.com/elkarte/forum/backend/internal/storage/redis"
	"github.com/elkarte/forum/backend/internal/tasks"
	"github.com/elkarte/forum/shared/config"
	"github.com/elkarte/forum/shared/jwt"
	"github.com/elkarte/forum/shared/logger"
	mw "github.com/elkarte/forum/shared/middleware"
	"github.com/elkarte/forum/shared/middleware/board_access"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
)

// Dependencies holds everything the API server and the worker are built from.
type Dependencies struct {
	Config      *config.Config
	Storage     *pg.Storage
	Redis       *goredis.Client
	Files       *fs.Storage
	AccessData  *board_access.BoardAccess
	Settings    *service.Settings
	Events      *events.Manager
	Attachments *service.Attachments
	Mentions    *service.Mentions
	Scheduler   *tasks.Scheduler
	Handler     *handler.Handler
	Auth        *mw.Auth

	taskClient *asynq.Client
}

// health pings every backing service the API needs.
type health struct {
	pg  *pg.Storage
	rdb *goredis.Client
}

func (h health) Ping(ctx context.Context) error {
	if err := h.pg.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// SetupDependencies connects to postgres and redis, loads the board access
// and settings caches and wires the services on top.
func SetupDependencies(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*Dependencies, error) {
	storage, err := pg.New(cfg.Private.Pg)
	if err != nil {
		return nil, err
	}

	rdb, err := redisstore.NewClient(ctx, cfg.Private.Redis)
	if err != nil {
		storage.Cleanup()
		return nil, err
	}

	deps := &Dependencies{Config: cfg, Storage: storage, Redis: rdb}
	fail := func(err error) (*Dependencies, error) {
		deps.Close()
		return nil, err
	}

	deps.Files, err = fs.New(cfg.Public.Attachments)
	if err != nil {
		return fail(err)
	}

	deps.AccessData = board_access.New()
	if err := deps.AccessData.Update(ctx, storage); err != nil {
		return fail(fmt.Errorf("failed to load board access: %w", err))
	}

	deps.Settings = service.NewSettings(storage)
	if err := deps.Settings.Update(ctx); err != nil {
		return fail(fmt.Errorf("failed to load settings: %w", err))
	}

	deps.Events = events.New()
	deps.Events.RegisterModules(attachmetrics.New(reg))

	deps.taskClient = asynq.NewClient(tasks.RedisOpt(cfg.Private.Redis))
	deps.Scheduler = tasks.NewScheduler(deps.taskClient, cfg.Public.Mentions.RecheckQueue)

	deps.Attachments = service.NewAttachments(
		cfg,
		storage,
		redisstore.NewTempStore(rdb, cfg.Public.Attachments.TempTTL),
		deps.Files,
		redisstore.NewCache(rdb),
		deps.AccessData,
		deps.Events,
	)

	renderer := service.NewMentionRenderer(cfg.Public.Mentions.MessageTemplates, cfg.Public.Mentions.BaseURL)
	deps.Mentions = service.NewMentions(storage, storage, deps.AccessData, deps.Settings, deps.Events,
		service.DefaultMentionTypes(renderer, deps.AccessData, deps.Settings, deps.Scheduler)...)

	deps.Auth = mw.NewAuth(jwt.New(cfg.JwtKey(), cfg.JwtTTL()))
	deps.Handler = handler.New(deps.Attachments, deps.Attachments, deps.Mentions, storage, deps.AccessData, health{storage, rdb}, cfg)

	logger.Log.Info("dependencies ready", "attachment_dir", deps.Files.Current(), "queue", cfg.Public.Mentions.RecheckQueue)
	return deps, nil
}

// Close releases connections in reverse order of creation.
func (d *Dependencies) Close() error {
	var errs []error
	if d.taskClient != nil {
		errs = append(errs, d.taskClient.Close())
	}
	if d.Redis != nil {
		errs = append(errs, d.Redis.Close())
	}
	if d.Storage != nil {
		errs = append(errs, d.Storage.Cleanup())
	}
	return errors.Join(errs...)
}
