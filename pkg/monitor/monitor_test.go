package monitor

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexclaw/hexclaw/pkg/approval"
	"github.com/hexclaw/hexclaw/pkg/channel"
	"github.com/hexclaw/hexclaw/pkg/storage"
	"github.com/hexclaw/hexclaw/pkg/types"
)

type fakeTransport struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeTransport) SendText(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeTransport) SendFile(context.Context, string, string) error { return nil }

func (f *fakeTransport) SendButtons(context.Context, string, []approval.Button) error { return nil }

func (f *fakeTransport) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func TestScoreSeverity(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"cvss critical", "New flaw, CVSS score 9.8, patch now", types.SeverityCritical},
		{"cvss high", "Rated CVSS: 7.5 by NVD", types.SeverityHigh},
		{"cvss medium", "CVSS 5.0 issue in parser", types.SeverityMedium},
		{"cvss low", "minor bug cvss 2.1", types.SeverityLow},
		{"keyword rce", "Unauthenticated RCE in router firmware", types.SeverityCritical},
		{"keyword zero day", "Zero-day exploited in the wild", types.SeverityCritical},
		{"keyword privesc", "Privilege escalation via sudo misconfig", types.SeverityHigh},
		{"keyword sqli", "SQL injection in login form", types.SeverityHigh},
		{"keyword xss", "Stored XSS in comment field", types.SeverityMedium},
		{"bare cve", "Details published for CVE-2024-12345", types.SeverityLow},
		{"plain news", "Company announces new security product", types.SeverityInfo},
		{"cvss beats keywords", "XSS writeup, CVSS 9.1", types.SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scoreSeverity(tt.text))
		})
	}
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint("src", "https://x/1", "Title")
	b := Fingerprint("src", "https://x/1", "Title")
	c := Fingerprint("src", "https://x/2", "Title")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}

func rssFeed(items ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel><title>Test Feed</title>`)
	for _, item := range items {
		b.WriteString(item)
	}
	b.WriteString(`</channel></rss>`)
	return b.String()
}

func rssItem(title, link, desc string) string {
	return fmt.Sprintf(`<item><title>%s</title><link>%s</link><description>%s</description></item>`, title, link, desc)
}

func serveFeed(t *testing.T, body *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, *body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestMonitor(t *testing.T, feedURL string, mutate func(*Options)) (*Monitor, *fakeTransport) {
	t.Helper()
	transport := &fakeTransport{}
	opts := Options{
		Feeds:       []string{feedURL},
		MinSeverity: types.SeverityMedium,
		Seen:        storage.NewMemorySeen(),
		Notifier:    channel.NewNotifier(transport),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts), transport
}

func TestRunOnceDeliversAndGates(t *testing.T) {
	body := rssFeed(
		rssItem("Unauthenticated RCE in Foo", "https://news/1", "critical bug"),
		rssItem("Stored XSS in Bar", "https://news/2", "medium bug"),
		rssItem("Vendor ships new dashboard", "https://news/3", "no severity here"),
	)
	srv := serveFeed(t, &body)
	m, transport := newTestMonitor(t, srv.URL, nil)

	stats := m.RunOnce(context.Background())
	assert.Equal(t, 3, stats.Fetched)
	assert.Equal(t, 2, stats.Delivered)
	assert.Equal(t, 1, stats.Gated)
	assert.Equal(t, 0, stats.Deduped)

	sent := transport.sent()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0]+sent[1], "Unauthenticated RCE in Foo")
}

// TestRunOnceDeduplicates covers the dedup invariant: a second poll of the
// same feed delivers nothing.
func TestRunOnceDeduplicates(t *testing.T) {
	body := rssFeed(rssItem("Unauthenticated RCE in Foo", "https://news/1", "x"))
	srv := serveFeed(t, &body)
	m, transport := newTestMonitor(t, srv.URL, nil)

	first := m.RunOnce(context.Background())
	assert.Equal(t, 1, first.Delivered)

	second := m.RunOnce(context.Background())
	assert.Equal(t, 0, second.Delivered)
	assert.Equal(t, 1, second.Deduped)
	assert.Len(t, transport.sent(), 1)
}

// TestDedupSurvivesSeenStoreLoss tests the process-local delivered set: even
// with a fresh (empty) seen store the same fingerprint is not re-sent.
func TestDedupSurvivesSeenStoreLoss(t *testing.T) {
	body := rssFeed(rssItem("Unauthenticated RCE in Foo", "https://news/1", "x"))
	srv := serveFeed(t, &body)
	m, transport := newTestMonitor(t, srv.URL, nil)

	m.RunOnce(context.Background())
	m.opts.Seen = storage.NewMemorySeen() // simulate store loss mid-process

	stats := m.RunOnce(context.Background())
	assert.Equal(t, 0, stats.Delivered)
	assert.Len(t, transport.sent(), 1)
}

func TestRunOnceWithBoltSeen(t *testing.T) {
	body := rssFeed(rssItem("SQL injection in Bar", "https://news/1", "x"))
	srv := serveFeed(t, &body)

	kv, err := storage.OpenBoltKV(t.TempDir() + "/kv.db")
	require.NoError(t, err)
	defer kv.Close()

	m, _ := newTestMonitor(t, srv.URL, func(o *Options) {
		o.Seen = kv
		o.FeedState = kv
	})
	stats := m.RunOnce(context.Background())
	assert.Equal(t, 1, stats.Delivered)

	seen, err := kv.Seen(Fingerprint("Test Feed", "https://news/1", "SQL injection in Bar"))
	require.NoError(t, err)
	assert.True(t, seen)

	_, ok, err := kv.FeedCheckedAt(srv.URL)
	require.NoError(t, err)
	assert.True(t, ok, "feed cursor recorded")
}

func TestDryRunDeliversNothing(t *testing.T) {
	body := rssFeed(rssItem("Unauthenticated RCE in Foo", "https://news/1", "x"))
	srv := serveFeed(t, &body)
	m, transport := newTestMonitor(t, srv.URL, func(o *Options) { o.DryRun = true })

	stats := m.RunOnce(context.Background())
	assert.Equal(t, 0, stats.Delivered)
	assert.Empty(t, transport.sent())

	// Nothing was marked seen, so a real run still delivers.
	m.opts.DryRun = false
	stats = m.RunOnce(context.Background())
	assert.Equal(t, 1, stats.Delivered)
}

func TestTestAlert(t *testing.T) {
	m, transport := newTestMonitor(t, "http://unused.invalid/feed", nil)

	m.TestAlert(context.Background())
	sent := transport.sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "Test alert")
	assert.Contains(t, sent[0], "CRITICAL")

	// Re-injection within the seen TTL is suppressed.
	m.TestAlert(context.Background())
	assert.Len(t, transport.sent(), 1)
}

func TestMinSeverityGate(t *testing.T) {
	body := rssFeed(
		rssItem("Stored XSS in Bar", "https://news/2", "medium bug"),
		rssItem("Details for CVE-2024-1111", "https://news/4", "low"),
	)
	srv := serveFeed(t, &body)
	m, _ := newTestMonitor(t, srv.URL, func(o *Options) { o.MinSeverity = types.SeverityHigh })

	stats := m.RunOnce(context.Background())
	assert.Equal(t, 0, stats.Delivered)
	assert.Equal(t, 2, stats.Gated)
}

func TestShodanPollAlertsOnOpenPorts(t *testing.T) {
	shodanSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/shodan/host/198.51.100.7")
		fmt.Fprint(w, `{"ports": [22, 8080]}`)
	}))
	defer shodanSrv.Close()

	transport := &fakeTransport{}
	m := New(Options{
		Feeds:       []string{"http://unused.invalid/feed"},
		MinSeverity: types.SeverityMedium,
		Seen:        storage.NewMemorySeen(),
		Notifier:    channel.NewNotifier(transport),
		ShodanKey:   "k",
		WatchHosts:  []string{"198.51.100.7"},
	})
	m.shodan.baseURL = shodanSrv.URL

	stats := m.pollShodan(context.Background())
	assert.Equal(t, 2, stats.Delivered)

	// Same ports on the next poll are duplicates.
	stats = m.pollShodan(context.Background())
	assert.Equal(t, 2, stats.Deduped)
	assert.Len(t, transport.sent(), 2)
}
