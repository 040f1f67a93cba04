package monitor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"github.com/hexclaw/hexclaw/pkg/channel"
	"github.com/hexclaw/hexclaw/pkg/events"
	"github.com/hexclaw/hexclaw/pkg/log"
	"github.com/hexclaw/hexclaw/pkg/metrics"
	"github.com/hexclaw/hexclaw/pkg/router"
	"github.com/hexclaw/hexclaw/pkg/storage"
	"github.com/hexclaw/hexclaw/pkg/types"
)

// Feeds polled when MONITOR_FEEDS is not set.
var defaultFeeds = []string{
	"https://feeds.feedburner.com/TheHackersNews",
	"https://www.bleepingcomputer.com/feed/",
	"https://www.cisa.gov/cybersecurity-advisories/all.xml",
	"https://nvd.nist.gov/feeds/xml/cve/misc/nvd-rss.xml",
	"https://www.exploit-db.com/rss.xml",
}

const (
	maxEntriesPerFeed = 50
	maxTitleLen       = 500
	maxSummaryLen     = 2000
	seenTTL           = 7 * 24 * time.Hour
)

// Options wires a Monitor.
type Options struct {
	Feeds       []string // empty means defaultFeeds
	MinSeverity string
	Interval    time.Duration
	Seen        storage.SeenStore
	FeedState   storage.FeedStateStore // optional poll-cursor persistence
	Notifier    *channel.Notifier
	Router      *router.Router // optional, for crit/high summarization
	Events      *events.Broker // optional
	ShodanKey   string
	WatchHosts  []string
	// DryRun scores and logs but delivers nothing and marks nothing seen.
	DryRun bool
}

// Stats counts one poll's outcomes.
type Stats struct {
	Fetched   int
	Delivered int
	Deduped   int
	Gated     int
}

// Monitor polls threat feeds, scores entries, deduplicates by fingerprint,
// and pushes qualifying alerts to the operator channel.
type Monitor struct {
	opts   Options
	parser *gofeed.Parser
	shodan *shodanClient
	logger zerolog.Logger

	// Fingerprints delivered by this process, independent of the seen store,
	// so one run can never deliver a fingerprint twice even if the store
	// write fails.
	mu        sync.Mutex
	delivered map[string]struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a monitor.
func New(opts Options) *Monitor {
	if len(opts.Feeds) == 0 {
		opts.Feeds = defaultFeeds
	}
	if opts.MinSeverity == "" {
		opts.MinSeverity = types.SeverityMedium
	}
	if opts.Interval == 0 {
		opts.Interval = 15 * time.Minute
	}
	if opts.Seen == nil {
		opts.Seen = storage.NewMemorySeen()
	}
	m := &Monitor{
		opts:      opts,
		parser:    gofeed.NewParser(),
		logger:    log.WithComponent("monitor"),
		delivered: make(map[string]struct{}),
		stopCh:    make(chan struct{}),
	}
	if opts.ShodanKey != "" && len(opts.WatchHosts) > 0 {
		m.shodan = newShodanClient(opts.ShodanKey)
	}
	return m
}

// Start launches the poll loop. One poll runs immediately.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.RunOnce(ctx)

		ticker := time.NewTicker(m.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.RunOnce(ctx)
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the poll loop and waits for an in-flight poll to finish.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// RunOnce performs a single poll of every feed (concurrently) plus the
// optional Shodan watch list, and returns the run's stats.
func (m *Monitor) RunOnce(ctx context.Context) Stats {
	var (
		mu    sync.Mutex
		stats Stats
		wg    sync.WaitGroup
	)

	for _, url := range m.opts.Feeds {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			s := m.pollFeed(ctx, url)
			mu.Lock()
			stats.Fetched += s.Fetched
			stats.Delivered += s.Delivered
			stats.Deduped += s.Deduped
			stats.Gated += s.Gated
			mu.Unlock()
		}(url)
	}
	wg.Wait()

	if m.shodan != nil {
		s := m.pollShodan(ctx)
		stats.Fetched += s.Fetched
		stats.Delivered += s.Delivered
		stats.Deduped += s.Deduped
	}

	m.logger.Info().
		Int("fetched", stats.Fetched).
		Int("delivered", stats.Delivered).
		Int("deduped", stats.Deduped).
		Int("gated", stats.Gated).
		Msg("Monitor poll complete")
	return stats
}

func (m *Monitor) pollFeed(ctx context.Context, url string) Stats {
	var stats Stats

	feed, err := m.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		m.logger.Warn().Err(err).Str("feed", url).Msg("Feed fetch failed")
		return stats
	}

	source := feed.Title
	if source == "" {
		source = url
	}

	items := feed.Items
	if len(items) > maxEntriesPerFeed {
		items = items[:maxEntriesPerFeed]
	}

	for _, item := range items {
		stats.Fetched++
		alert := alertFromItem(source, item)

		if !types.SeverityAtLeast(alert.Severity, m.opts.MinSeverity) {
			stats.Gated++
			continue
		}
		switch m.deliver(ctx, alert) {
		case deliverOK:
			stats.Delivered++
		case deliverDuplicate:
			stats.Deduped++
		}
	}

	if m.opts.FeedState != nil && !m.opts.DryRun {
		if err := m.opts.FeedState.SetFeedCheckedAt(url, time.Now()); err != nil {
			m.logger.Warn().Err(err).Str("feed", url).Msg("Feed cursor write failed")
		}
	}
	return stats
}

func alertFromItem(source string, item *gofeed.Item) types.Alert {
	title := truncate(item.Title, maxTitleLen)
	text := item.Title + " " + item.Description + " " + item.Content

	alert := types.Alert{
		Source:   source,
		Title:    title,
		URL:      item.Link,
		Severity: scoreSeverity(text),
	}
	if item.PublishedParsed != nil {
		alert.Published = *item.PublishedParsed
	}
	alert.Fingerprint = Fingerprint(alert.Source, alert.URL, alert.Title)
	return alert
}

type deliverResult int

const (
	deliverOK deliverResult = iota
	deliverDuplicate
	deliverDropped
)

// deliver pushes one alert through dedup, summarization, and the channel.
func (m *Monitor) deliver(ctx context.Context, alert types.Alert) deliverResult {
	m.mu.Lock()
	if _, dup := m.delivered[alert.Fingerprint]; dup {
		m.mu.Unlock()
		return deliverDuplicate
	}
	m.mu.Unlock()

	seen, err := m.opts.Seen.Seen(alert.Fingerprint)
	if err != nil {
		m.logger.Warn().Err(err).Str("fingerprint", alert.Fingerprint).Msg("Seen lookup failed")
	}
	if seen {
		return deliverDuplicate
	}

	if m.opts.DryRun {
		m.logger.Info().Str("severity", alert.Severity).Str("title", alert.Title).Msg("Alert (dry-run)")
		return deliverDropped
	}

	if alert.Summary == "" {
		alert.Summary = m.summarize(ctx, alert)
	}

	m.mu.Lock()
	m.delivered[alert.Fingerprint] = struct{}{}
	m.mu.Unlock()
	if err := m.opts.Seen.Mark(alert.Fingerprint, seenTTL); err != nil {
		m.logger.Warn().Err(err).Str("fingerprint", alert.Fingerprint).Msg("Seen mark failed")
	}

	m.opts.Notifier.Alert(ctx, alert)
	metrics.AlertsTotal.WithLabelValues(alert.Severity).Inc()
	if m.opts.Events != nil {
		m.opts.Events.Publish(&events.Event{
			Type:      events.EventAlertEmitted,
			Timestamp: time.Now(),
			Message:   alert.Title,
		})
	}
	return deliverOK
}

// summarize asks the free tier for a one-sentence summary, critical and
// high alerts only. Failures degrade to no summary.
func (m *Monitor) summarize(ctx context.Context, alert types.Alert) string {
	if m.opts.Router == nil || !m.opts.Router.HasProviders() {
		return ""
	}
	if !types.SeverityAtLeast(alert.Severity, types.SeverityHigh) {
		return ""
	}
	resp := m.opts.Router.Ask(ctx, router.Request{
		Prompt: fmt.Sprintf("Summarize this security alert in one sentence for an operator:\n%s\n%s", alert.Title, alert.URL),
		Tier:   router.TierFree,
	})
	if router.Unavailable(resp) {
		return ""
	}
	return truncate(resp, maxSummaryLen)
}

// TestAlert injects a synthetic critical alert through the full delivery
// path, including dedup and notification.
func (m *Monitor) TestAlert(ctx context.Context) {
	alert := types.Alert{
		Source:    "hexclaw-test",
		Title:     "Test alert: synthetic critical finding",
		URL:       "https://example.invalid/test-alert",
		Summary:   "Injected by --test-alert to verify the delivery path.",
		Severity:  types.SeverityCritical,
		Published: time.Now(),
	}
	alert.Fingerprint = Fingerprint(alert.Source, alert.URL, alert.Title)
	switch m.deliver(ctx, alert) {
	case deliverOK:
		m.logger.Info().Msg("Test alert delivered")
	case deliverDuplicate:
		m.logger.Info().Msg("Test alert suppressed as duplicate")
	}
}

// Fingerprint derives the dedup key for an alert: first 16 hex chars of
// sha256("source:url:title").
func Fingerprint(source, url, title string) string {
	sum := sha256.Sum256([]byte(source + ":" + url + ":" + title))
	return hex.EncodeToString(sum[:])[:16]
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
