package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"Awe-Chain/internal/api"
	"Awe-Chain/internal/config"
	"Awe-Chain/internal/events"
	"Awe-Chain/internal/ledger"
	"Awe-Chain/internal/observability/alerting"
	"Awe-Chain/internal/observability/metrics"
	"Awe-Chain/internal/program/awe"
	"Awe-Chain/internal/runtime"
	"Awe-Chain/internal/token"
	"Awe-Chain/pkg/logger"
)

// main 是 awed 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("awed 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Outputs:   cfg.Logging.Outputs,
		AddSource: cfg.Logging.AddSource,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, err := openLedger(ctx, cfg.Storage.Ledger)
	if err != nil {
		return err
	}
	defer closeQuietly("账本", store)

	locker, err := openLocker(ctx, cfg.Lock)
	if err != nil {
		return err
	}
	if closer, ok := locker.(interface{ Close() error }); ok {
		defer closeQuietly("账户锁", closer)
	}

	publisher, err := events.New(events.Config{
		Driver:  cfg.Events.Driver,
		History: cfg.Events.History,
		RabbitMQ: events.RabbitMQConfig{
			URL:        cfg.Events.RabbitMQ.URL,
			Queue:      cfg.Events.RabbitMQ.Queue,
			Prefetch:   cfg.Events.RabbitMQ.Prefetch,
			Durable:    cfg.Events.RabbitMQ.Durable,
			AutoDelete: cfg.Events.RabbitMQ.AutoDelete,
		},
	})
	if err != nil {
		return err
	}
	defer closeQuietly("事件发布器", publisher)

	observer, err := buildObserver(cfg.Alerting)
	if err != nil {
		return err
	}

	policy, err := awe.ParseOverflowPolicy(cfg.Program.OverflowPolicy)
	if err != nil {
		return err
	}

	rt := runtime.New(store, locker,
		runtime.WithPublisher(publisher),
		runtime.WithObserver(observer),
		runtime.WithLogger(logger.Named("runtime")),
		runtime.WithMaxDepth(cfg.Runtime.MaxCallDepth),
	)
	for _, program := range []runtime.Program{token.Program{}, token.AssociatedProgram{}, awe.New(awe.WithOverflowPolicy(policy))} {
		if err := rt.Register(program); err != nil {
			return fmt.Errorf("注册程序 %s 失败: %w", program.Name(), err)
		}
	}

	opts := []api.Option{
		api.WithAirdropLimit(cfg.Server.AirdropLimit),
		api.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		api.WithTimeouts(cfg.Server.ReadTimeout.Std(), cfg.Server.WriteTimeout.Std(), cfg.Server.ShutdownTimeout.Std()),
		api.WithOverflowPolicy(string(policy)),
	}
	if source, ok := publisher.(api.EventSource); ok {
		opts = append(opts, api.WithEvents(source))
	}

	if consumer, ok := publisher.(events.Consumer); ok && cfg.Events.AuditTrail {
		go func() {
			err := consumer.Consume(ctx, events.NewAuditHandler(logger.Audit()))
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("事件审计消费者退出", slog.String("error", err.Error()))
			}
		}()
	}

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
				logger.L().Error("指标服务异常退出", slog.String("error", err.Error()))
			}
		}()
	}

	logger.L().Info("awed 启动",
		slog.String("address", cfg.Server.Address),
		slog.String("ledger", cfg.Storage.Ledger.Driver),
		slog.String("lock", cfg.Lock.Driver),
		slog.String("events", cfg.Events.Driver),
		slog.Bool("audit_trail", cfg.Events.AuditTrail),
		slog.String("overflow_policy", string(policy)),
		slog.String("program_id", awe.ProgramID.String()),
	)

	server := api.NewServer(cfg.Server.Address, rt, opts...)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// loadConfig 读取 AWE_CONFIG 或默认路径；默认路径不存在时使用内置默认值。
func loadConfig() (*config.Config, error) {
	path := config.Path()
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) && path == config.DefaultPath {
		log.Printf("未找到 %s，使用默认配置", path)
		return config.Default("."), nil
	}
	return cfg, err
}

func openLedger(ctx context.Context, cfg config.LedgerConfig) (ledger.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return ledger.NewMemoryStore(), nil
	case "mysql":
		return ledger.NewMySQLStore(ctx, ledger.MySQLConfig{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime.Std(),
			ConnMaxIdleTime: cfg.ConnMaxIdleTime.Std(),
		})
	default:
		return nil, fmt.Errorf("未知的账本驱动: %s", cfg.Driver)
	}
}

func openLocker(ctx context.Context, cfg config.LockConfig) (ledger.Locker, error) {
	switch cfg.Driver {
	case "", "memory":
		return ledger.NewMemoryLocker(cfg.Timeout.Std()), nil
	case "redis":
		return ledger.NewRedisLocker(ctx, ledger.RedisLockerConfig{
			Address:       cfg.Redis.Address,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			Prefix:        cfg.Redis.Prefix,
			TTL:           cfg.Redis.TTL.Std(),
			RetryInterval: cfg.Redis.RetryInterval.Std(),
			Timeout:       cfg.Timeout.Std(),
		})
	default:
		return nil, fmt.Errorf("未知的锁驱动: %s", cfg.Driver)
	}
}

// buildObserver 把指标与告警串成一个 runtime.Observer。
func buildObserver(cfg config.AlertingConfig) (runtime.Observer, error) {
	minSeverity, err := alerting.ParseSeverity(cfg.MinSeverity)
	if err != nil {
		return nil, err
	}
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	for _, hook := range cfg.Webhooks {
		notifiers = append(notifiers, &alerting.WebhookNotifier{Kind: alerting.Channel(hook.Channel), URL: hook.URL})
	}
	return alerting.NewObserver(metrics.Observer{}, alerting.NewFanout(notifiers...), minSeverity), nil
}

func closeQuietly(name string, c interface{ Close() error }) {
	if err := c.Close(); err != nil {
		logger.L().Warn("关闭"+name+"失败", slog.String("error", err.Error()))
	}
}
