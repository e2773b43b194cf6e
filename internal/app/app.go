package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"cratio-alerts/internal/admin"
	"cratio-alerts/internal/alerting"
	"cratio-alerts/internal/config"
	"cratio-alerts/internal/fetcher"
	"cratio-alerts/internal/monitor"
	"cratio-alerts/internal/registry"
	"cratio-alerts/internal/scheduler"
	"cratio-alerts/internal/service"
	"cratio-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetcher() fetcher.RatioFetcher {
	return fetcher.NewOnChain(fetcher.OnChainOptions{
		RPCURL:         a.Config.Chain.RPCURL,
		PoolAddress:    a.Config.Chain.PoolAddress,
		Timeout:        a.Config.Chain.RequestTimeout,
		MinRatio:       decimal.NewFromFloat(a.Config.Chain.MinRatio),
		MaxRatio:       decimal.NewFromFloat(a.Config.Chain.MaxRatio),
		MaxConcurrency: a.Config.Chain.MaxConcurrency,
	}, a.Logger)
}

func (a *App) newNotifiers() []alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}

	var notifiers []alerting.Notifier
	if cfg := a.Config.Alerting.Thread; cfg.Enabled {
		notifiers = append(notifiers, alerting.NewThreadNotifier(alerting.ThreadOptions{
			BaseURL:  cfg.BaseURL,
			APIToken: cfg.APIToken,
			Timeout:  10 * time.Second,
		}, a.Logger))
	}
	if cfg := a.Config.Alerting.Telegram; cfg.Enabled {
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.APIBase, 10*time.Second, a.Logger))
	}
	if cfg := a.Config.Alerting.SMS; cfg.Enabled {
		notifiers = append(notifiers, alerting.NewSMSNotifier(alerting.SMSOptions{
			AccountSID: cfg.AccountSID,
			AuthToken:  cfg.AuthToken,
			Sender:     cfg.Sender,
			BaseURL:    cfg.APIBase,
			Timeout:    10 * time.Second,
		}, a.Logger))
	}
	if cfg := a.Config.Alerting.Email; cfg.Enabled {
		notifiers = append(notifiers, alerting.NewEmailNotifier(alerting.EmailOptions{
			APIKey:  cfg.APIKey,
			Sender:  cfg.Sender,
			BaseURL: cfg.APIBase,
			Timeout: 10 * time.Second,
		}, a.Logger))
	}
	return notifiers
}

func (a *App) newPipeline() *monitor.Pipeline {
	thresholds := monitor.Thresholds{
		Healthy:     decimal.NewFromFloat(a.Config.Monitor.HealthyThreshold),
		Critical:    decimal.NewFromFloat(a.Config.Monitor.CriticalThreshold),
		Liquidation: decimal.NewFromFloat(a.Config.Monitor.LiquidationThreshold),
	}
	rules := monitor.DefaultRules(thresholds, a.Config.Monitor.Cooldown, a.Config.Monitor.Window)
	return monitor.NewPipeline(rules, monitor.Options{
		FireOnFirstObservation: a.Config.Monitor.FireOnFirstObservation,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// directorySource exposes the subscriber directory to the dispatcher.
type directorySource struct {
	reg *registry.Registry
}

func (d directorySource) Recipient(account string) (alerting.Recipient, bool) {
	sub, ok := d.reg.Get(account)
	if !ok {
		return alerting.Recipient{}, false
	}
	return toRecipient(sub), true
}

func (d directorySource) Recipients() []alerting.Recipient {
	subs := d.reg.Snapshot()
	recipients := make([]alerting.Recipient, 0, len(subs))
	for _, sub := range subs {
		recipients = append(recipients, toRecipient(sub))
	}
	return recipients
}

func toRecipient(sub registry.Subscriber) alerting.Recipient {
	return alerting.Recipient{
		Account:        sub.Account,
		TelegramChatID: sub.TelegramChatID,
		Phone:          sub.Phone,
		Email:          sub.Email,
	}
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var regStore registry.Store
	if store != nil {
		regStore = store
	}
	reg := registry.New(regStore, a.Logger)
	if err := reg.Load(ctx); err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	var dispatcher *alerting.Dispatcher
	if notifiers := a.newNotifiers(); len(notifiers) > 0 {
		dispatcher = alerting.NewDispatcher(notifiers, directorySource{reg: reg}, alerting.DispatcherOptions{
			SendsPerSecond: a.Config.Alerting.SendsPerSecond,
			SendBurst:      a.Config.Alerting.SendBurst,
		}, a.Logger)
	} else {
		a.Logger.Warn().Msg("no delivery channels enabled; notifications will be dropped")
	}

	var sampleStore storage.RatioSampleStore
	var alertStore storage.AlertStore
	var locker storage.AdvisoryLocker
	if store != nil {
		sampleStore = store
		alertStore = store
		locker = store
	}

	var svcDispatcher service.Dispatcher
	if dispatcher != nil {
		svcDispatcher = dispatcher
	}

	svc := service.New(
		sched,
		a.newFetcher(),
		reg,
		a.newPipeline(),
		svcDispatcher,
		sampleStore,
		alertStore,
		locker,
		service.Options{
			PollTimeout:        a.Config.Monitor.PollTimeout,
			MaxMissedPolls:     a.Config.Monitor.MaxMissedPolls,
			WelcomeOnSubscribe: a.Config.Alerting.Enabled,
			AdvisoryLockKey:    a.Config.Scheduler.AdvisoryLockKey,
		},
		a.Logger,
	)

	g, ctx := errgroup.WithContext(ctx)
	if a.Config.Admin.Enabled {
		var broadcaster admin.Broadcaster
		if dispatcher != nil {
			broadcaster = dispatcher
		}
		adminSrv := admin.New(a.Config.Admin, reg, broadcaster, a.Logger)
		g.Go(func() error {
			return adminSrv.Run(ctx)
		})
	}

	g.Go(func() error {
		a.Logger.Info().
			Str("interval", a.Config.Scheduler.Interval.String()).
			Int("subscribers", reg.Count()).
			Msg("starting monitoring service")
		return svc.Run(ctx)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	Account   string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// SimulateOptions configure the offline pipeline replay.
type SimulateOptions struct {
	Account string
	Values  []float64
	Step    time.Duration
}
