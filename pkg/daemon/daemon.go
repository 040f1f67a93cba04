package daemon

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hexclaw/hexclaw/pkg/approval"
	"github.com/hexclaw/hexclaw/pkg/artifacts"
	"github.com/hexclaw/hexclaw/pkg/cache"
	"github.com/hexclaw/hexclaw/pkg/channel"
	"github.com/hexclaw/hexclaw/pkg/config"
	"github.com/hexclaw/hexclaw/pkg/dispatch"
	"github.com/hexclaw/hexclaw/pkg/events"
	"github.com/hexclaw/hexclaw/pkg/ledger"
	"github.com/hexclaw/hexclaw/pkg/log"
	"github.com/hexclaw/hexclaw/pkg/metrics"
	"github.com/hexclaw/hexclaw/pkg/monitor"
	"github.com/hexclaw/hexclaw/pkg/planner"
	"github.com/hexclaw/hexclaw/pkg/queue"
	"github.com/hexclaw/hexclaw/pkg/router"
	"github.com/hexclaw/hexclaw/pkg/skills"
	"github.com/hexclaw/hexclaw/pkg/storage"
	"github.com/hexclaw/hexclaw/pkg/types"
)

// shutdownGrace bounds how long Stop waits for in-flight jobs.
const shutdownGrace = 30 * time.Second

// JobRunner executes one job to a terminal status. The dispatcher is the
// production runner; tests substitute fakes.
type JobRunner interface {
	Run(ctx context.Context, job types.Job)
}

// Daemon owns every subsystem and drives the heartbeat loop that turns
// pending jobs into workers.
type Daemon struct {
	cfg    *config.Config
	once   bool
	dryRun bool

	queue    *queue.Queue
	ledger   *ledger.Ledger
	cache    *cache.Cache
	kv       *storage.BoltKV
	seen     storage.SeenStore
	router   *router.Router
	store    *artifacts.Store
	gate     *approval.Gate
	cancels  *approval.Cancels
	notifier *channel.Notifier
	telegram *channel.Telegram
	commands *channel.Commands
	runner   JobRunner
	monitor  *monitor.Monitor
	broker   *events.Broker
	eventSub events.Subscriber

	collector  *metrics.Collector
	metricsSrv *http.Server

	sem     chan struct{}
	mu      sync.Mutex
	claimed map[string]struct{}
	active  int

	stopCh chan struct{}
	loopWG sync.WaitGroup // heartbeat loop
	workWG sync.WaitGroup // job workers

	logger zerolog.Logger
}

// Options tunes daemon construction beyond the config.
type Options struct {
	// Once drains the queue and exits instead of looping.
	Once bool
	// DryRun disables external side effects: tool calls are synthesized, the
	// monitor delivers nothing, and no Telegram transport is required.
	DryRun bool
	// Runner overrides the dispatcher, tests only.
	Runner JobRunner
}

// New opens every store and wires the subsystems. On error everything
// already opened is closed again.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:     cfg,
		once:    opts.Once,
		dryRun:  opts.DryRun,
		cancels: approval.NewCancels(),
		sem:     make(chan struct{}, cfg.Queue.MaxConcurrent),
		claimed: make(map[string]struct{}),
		stopCh:  make(chan struct{}),
		logger:  log.WithComponent("daemon"),
	}

	var err error
	if d.queue, err = queue.Open(cfg.JobsDBPath()); err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	if d.ledger, err = ledger.Open(cfg.TokensDBPath()); err != nil {
		d.closeStores()
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if d.kv, err = storage.OpenBoltKV(cfg.LocalKVPath()); err != nil {
		d.closeStores()
		return nil, fmt.Errorf("open local kv: %w", err)
	}

	d.cache = cache.New(cache.Options{
		RedisURL:    cfg.Cache.RedisURL,
		Embedder:    cache.NewTrigramEmbedder(),
		ExactTTL:    time.Duration(cfg.Cache.ExactTTLSec) * time.Second,
		SemanticTTL: time.Duration(cfg.Cache.SemanticTTLSec) * time.Second,
		Threshold:   cfg.Cache.SemanticThreshold,
		MaxEntries:  cfg.Cache.SemanticMax,
	})

	d.seen = d.pickSeenStore()

	d.router = router.New(router.Options{
		AnthropicKey:  cfg.Models.AnthropicKey,
		OpenAIKey:     cfg.Models.OpenAIKey,
		OpenRouterKey: cfg.Models.OpenRouterKey,
		TierHigh:      cfg.Models.TierHigh,
		TierLow:       cfg.Models.TierLow,
		TierFree:      cfg.Models.TierFree,
		Cache:         d.cache,
		Ledger:        d.ledger,
	})

	d.store = artifacts.NewStore(cfg.ArtifactsDir())
	d.broker = events.NewBroker()

	var transport channel.Transport
	if cfg.Telegram.BotToken != "" && !opts.DryRun {
		d.telegram, err = channel.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			d.closeStores()
			return nil, fmt.Errorf("telegram: %w", err)
		}
		transport = d.telegram
	}
	d.notifier = channel.NewNotifier(transport)
	d.gate = approval.NewGate(transportPrompter(transport))

	index, err := skills.LoadIndex(cfg.SkillsDir)
	if err != nil {
		d.logger.Warn().Err(err).Msg("Skills index unavailable")
		index = &skills.Index{}
	}

	plan := planner.New(index, d.router)
	approvalTimeout := time.Duration(cfg.ApprovalTimeoutSec) * time.Second

	d.commands = channel.NewCommands(channel.Commands{
		Queue:           d.queue,
		Ledger:          d.ledger,
		Cache:           d.cache,
		Store:           d.store,
		Planner:         plan,
		Gate:            d.gate,
		Cancels:         d.cancels,
		Index:           index,
		Router:          d.router,
		ApprovalTimeout: approvalTimeout,
	})

	d.runner = opts.Runner
	if d.runner == nil {
		d.runner = dispatch.New(dispatch.Options{
			Queue:           d.queue,
			Skills:          skills.NewLoader(cfg.SkillsDir),
			Store:           d.store,
			Gate:            d.gate,
			Cancels:         d.cancels,
			Notifier:        d.notifier,
			Planner:         plan,
			Events:          d.broker,
			ToolServerURL:   cfg.Tools.BaseURL,
			ToolTimeout:     time.Duration(cfg.Tools.TimeoutSec) * time.Second,
			DryRun:          opts.DryRun,
			FollowupEnqueue: cfg.FollowupEnqueue,
			ApprovalTimeout: approvalTimeout,
		})
	}

	if cfg.Monitor.Enabled {
		d.monitor = monitor.New(monitor.Options{
			Feeds:       cfg.Monitor.Feeds,
			MinSeverity: cfg.Monitor.MinSeverity,
			Interval:    time.Duration(cfg.Monitor.IntervalSec) * time.Second,
			Seen:        d.seen,
			FeedState:   d.kv,
			Notifier:    d.notifier,
			Router:      d.router,
			Events:      d.broker,
			ShodanKey:   cfg.Monitor.ShodanKey,
			WatchHosts:  cfg.Monitor.WatchHosts,
			DryRun:      opts.DryRun,
		})
	}

	d.collector = metrics.NewCollector(d.queue)
	return d, nil
}

// Enqueue queues one job before or during the run.
func (d *Daemon) Enqueue(skill string, params map[string]any) (types.Job, error) {
	return d.queue.Enqueue(skill, params)
}

// pickSeenStore prefers Redis, then the local KV file, then memory.
func (d *Daemon) pickSeenStore() storage.SeenStore {
	if d.cfg.Cache.RedisURL != "" {
		seen, err := storage.NewRedisSeen(d.cfg.Cache.RedisURL)
		if err == nil {
			return seen
		}
		d.logger.Warn().Err(err).Msg("Redis seen-set unavailable, falling back to local kv")
	}
	if d.kv != nil {
		return d.kv
	}
	return storage.NewMemorySeen()
}

// Run starts every subsystem and blocks until ctx is cancelled or, in once
// mode, the queue drains. It always shuts down cleanly before returning.
func (d *Daemon) Run(ctx context.Context) error {
	metrics.RegisterComponent("queue", true, "")
	metrics.RegisterComponent("dispatcher", true, "")
	routerMsg := ""
	if !d.router.HasProviders() {
		routerMsg = "no providers configured"
	}
	metrics.RegisterComponent("router", d.router.HasProviders(), routerMsg)

	d.broker.Start()
	d.collector.Start()
	d.eventSub = d.broker.Subscribe()
	go d.logEvents(d.eventSub)

	if addr := d.cfg.MetricsAddr; addr != "" {
		d.metricsSrv = metrics.Serve(addr)
		d.logger.Info().Str("addr", addr).Msg("Metrics listening")
	}

	resumed, err := d.queue.ResumeInterrupted()
	if err != nil {
		d.logger.Error().Err(err).Msg("Crash-resume sweep failed")
	} else if resumed > 0 {
		d.logger.Info().Int("jobs", resumed).Msg("Requeued interrupted jobs")
	}

	if d.telegram != nil {
		go d.telegram.Listen(ctx, d.commands.Handle, d.gate.Resolve)
	}
	if d.monitor != nil {
		d.monitor.Start(ctx)
	}

	if d.once {
		d.drain(ctx)
	} else {
		d.heartbeat(ctx)
	}

	d.shutdown(ctx)
	return nil
}

// heartbeat polls for pending jobs until stopped.
func (d *Daemon) heartbeat(ctx context.Context) {
	interval := time.Duration(d.cfg.Queue.HeartbeatSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.Info().Dur("interval", interval).Msg("Heartbeat started")
	for {
		select {
		case <-ticker.C:
			d.dispatchPending(ctx)
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		}
	}
}

// drain runs pending jobs until none remain and all workers are finished.
func (d *Daemon) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		d.dispatchPending(ctx)

		counts, err := d.queue.CountByStatus()
		if err != nil {
			d.logger.Error().Err(err).Msg("Queue count failed")
			return
		}
		d.mu.Lock()
		active := d.active
		d.mu.Unlock()
		if counts[types.JobStatusPending] == 0 && counts[types.JobStatusRunning] == 0 && active == 0 {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// dispatchPending spawns a worker per unclaimed pending job. The semaphore
// bounds concurrency; the claimed set keeps a job from double-spawning while
// it is still pending in the store.
func (d *Daemon) dispatchPending(ctx context.Context) {
	jobs, err := d.queue.Pending()
	if err != nil {
		d.logger.Error().Err(err).Msg("Pending poll failed")
		return
	}

	for _, job := range jobs {
		d.mu.Lock()
		if _, dup := d.claimed[job.ID]; dup {
			d.mu.Unlock()
			continue
		}
		d.claimed[job.ID] = struct{}{}
		d.mu.Unlock()

		d.workWG.Add(1)
		go d.worker(ctx, job)
	}
}

func (d *Daemon) worker(ctx context.Context, job types.Job) {
	defer d.workWG.Done()

	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		d.unclaim(job.ID)
		return
	case <-d.stopCh:
		d.unclaim(job.ID)
		return
	}
	d.mu.Lock()
	d.active++
	d.mu.Unlock()

	defer func() {
		<-d.sem
		d.mu.Lock()
		d.active--
		d.mu.Unlock()
		d.unclaim(job.ID)
	}()

	d.runner.Run(ctx, job)
}

// logEvents is the broker's debug and metrics subscriber; shutdown
// unsubscribes, which closes the channel.
func (d *Daemon) logEvents(sub events.Subscriber) {
	for e := range sub {
		metrics.EventsTotal.WithLabelValues(string(e.Type)).Inc()
		d.logger.Debug().
			Str("event", string(e.Type)).
			Str("job", e.JobID).
			Str("message", e.Message).
			Msg("Event")
	}
}

func (d *Daemon) unclaim(id string) {
	d.mu.Lock()
	delete(d.claimed, id)
	d.mu.Unlock()
}

// shutdown stops subsystems in dependency order and waits for workers with
// a grace period.
func (d *Daemon) shutdown(ctx context.Context) {
	d.logger.Info().Msg("Shutting down")
	select {
	case <-d.stopCh:
	default:
		close(d.stopCh)
	}

	if d.monitor != nil {
		d.monitor.Stop()
	}
	d.gate.Drain()

	done := make(chan struct{})
	go func() {
		d.workWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		d.logger.Warn().Msg("Workers still running at grace deadline")
	}

	// Best-effort: the operator sees the daemon go away.
	offCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	d.notifier.Offline(offCtx)
	cancel()

	d.collector.Stop()
	if d.eventSub != nil {
		d.broker.Unsubscribe(d.eventSub) // closes the channel, ends logEvents
	}
	d.broker.Stop()
	if d.metricsSrv != nil {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = d.metricsSrv.Shutdown(shCtx)
		cancel()
	}
	d.closeStores()
}

func (d *Daemon) closeStores() {
	if d.seen != nil {
		if _, isKV := d.seen.(*storage.BoltKV); !isKV {
			d.seen.Close()
		}
	}
	if d.kv != nil {
		d.kv.Close()
		d.kv = nil
	}
	if d.ledger != nil {
		d.ledger.Close()
		d.ledger = nil
	}
	if d.queue != nil {
		d.queue.Close()
		d.queue = nil
	}
}

// transportPrompter adapts a possibly-nil Transport into the gate's
// Prompter. A typed-nil Transport must become a plain nil interface or the
// gate would call through it.
func transportPrompter(t channel.Transport) approval.Prompter {
	if t == nil {
		return nil
	}
	return t
}
