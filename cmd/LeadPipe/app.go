package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/api"
	"github.com/BTreeMap/LeadPipe/internal/crypto"
	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/genai"
	"github.com/BTreeMap/LeadPipe/internal/lockfile"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/recovery"
	"github.com/BTreeMap/LeadPipe/internal/scheduler"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
	"github.com/hashicorp/go-multierror"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 15 * time.Second

// app holds the running components in shutdown order.
type app struct {
	server *api.Server
	engine *flow.Engine
	sched  *scheduler.Scheduler
	closer func() error // lead notification transport
	store  store.Store
	lock   *lockfile.Lock
}

// run wires the components, serves until ctx is done, then shuts down.
func run(ctx context.Context, config Config) error {
	a, err := build(ctx, config)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.ListenAndServe() }()

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("run: shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			serveErr = fmt.Errorf("http server: %w", serveErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var result *multierror.Error
	if serveErr != nil {
		result = multierror.Append(result, serveErr)
	}
	if err := a.shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// build assembles the application. Anything acquired before a failure is
// released before returning.
func build(ctx context.Context, config Config) (a *app, err error) {
	key, err := crypto.ParseKey(config.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("LEADPIPE_ENCRYPTION_KEY: %w", err)
	}
	cipher, err := crypto.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("LEADPIPE_ENCRYPTION_KEY: %w", err)
	}
	policy, ok := flow.ParseEscalationPolicy(config.Escalation)
	if !ok {
		return nil, fmt.Errorf("invalid escalation policy %q", config.Escalation)
	}

	a = &app{}
	defer func() {
		if err != nil {
			if cerr := a.shutdown(context.Background()); cerr != nil {
				slog.Warn("build: cleanup after failure", "error", cerr)
			}
			a = nil
		}
	}()

	if a.lock, err = lockfile.AcquireLock(config.StateDir, config.APIAddr); err != nil {
		return a, err
	}
	if a.store, err = store.New(append(buildStoreOptions(config), store.WithCipher(cipher))...); err != nil {
		return a, fmt.Errorf("failed to open store: %w", err)
	}

	sender, closer, err := buildSender(ctx, config)
	if err != nil {
		return a, err
	}
	a.closer = closer
	recorder, err := messaging.NewLeadRecorder(a.store, sender, config.NotifyTo)
	if err != nil {
		return a, err
	}

	engineOpts := []flow.EngineOption{
		flow.WithMachine(flow.NewMachine(flow.WithEscalationPolicy(policy))),
		flow.WithLeadSink(recorder),
		flow.WithHotline(config.Hotline),
		flow.WithNudgeDelay(config.NudgeDelay),
	}
	if genaiOpts := buildGenAIOptions(config); genaiOpts != nil {
		phraser, err := genai.NewClient(genaiOpts...)
		if err != nil {
			return a, fmt.Errorf("failed to create GenAI client: %w", err)
		}
		engineOpts = append(engineOpts, flow.WithPhraser(phraser))
	} else {
		slog.Info("build: OPENAI_API_KEY not set, replies use templates only")
	}
	sessions := flow.NewSessionManager(a.store, flow.WithSessionExpiry(config.SessionExpiry))
	a.engine = flow.NewEngine(sessions, engineOpts...)

	rm := recovery.NewRecoveryManager(a.store)
	rm.RegisterTimerRecovery(recovery.TimerRecoveryHandler(a.engine.RearmNudge))
	rm.RegisterRecoverable(flow.NewNudgeRecovery(a.engine))
	if err := rm.RecoverAll(ctx); err != nil {
		slog.Error("build: nudge recovery incomplete", "error", err)
	}

	a.sched = scheduler.NewScheduler()
	if err = a.sched.AddSweep(config.ReaperInterval, a.engine); err != nil {
		return a, fmt.Errorf("failed to schedule session sweep: %w", err)
	}

	a.server = api.NewServer(a.engine, a.store, api.WithAddr(config.APIAddr))
	return a, nil
}

// buildSender returns the configured lead notification transport, or nil.
func buildSender(ctx context.Context, config Config) (messaging.Sender, func() error, error) {
	switch config.NotifyVia {
	case NotifyViaTwilio:
		c, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		return c, nil, nil
	case NotifyViaWhatsApp:
		c, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(config)...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return c, c.Close, nil
	default:
		slog.Info("buildSender: lead notifications disabled, leads are stored only")
		return nil, nil, nil
	}
}

// shutdown stops components in order: HTTP, nudges and lead notifications,
// the sweep, the notification transport, the store, the lock. Nil components
// are skipped.
func (a *app) shutdown(ctx context.Context) error {
	var result *multierror.Error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			result = multierror.Append(result, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if a.engine != nil {
		a.engine.Stop()
	}
	if a.sched != nil {
		a.sched.Stop()
	}
	if a.closer != nil {
		if err := a.closer(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close notifier: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close store: %w", err))
		}
	}
	if a.lock != nil {
		if err := a.lock.Release(); err != nil {
			result = multierror.Append(result, fmt.Errorf("release lock: %w", err))
		}
	}
	err := result.ErrorOrNil()
	slog.Info("app.shutdown: complete", "clean", err == nil)
	return err
}
