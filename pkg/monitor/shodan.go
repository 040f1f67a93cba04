package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hexclaw/hexclaw/pkg/types"
)

const shodanBaseURL = "https://api.shodan.io"

// shodanClient is a narrow shim over the Shodan host endpoint; the monitor
// only needs open ports per watched host.
type shodanClient struct {
	key     string
	baseURL string
	client  *http.Client
}

func newShodanClient(key string) *shodanClient {
	return &shodanClient{
		key:     key,
		baseURL: shodanBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// hostPorts returns the open ports Shodan reports for host.
func (s *shodanClient) hostPorts(ctx context.Context, host string) ([]int, error) {
	endpoint := fmt.Sprintf("%s/shodan/host/%s?key=%s", s.baseURL, url.PathEscape(host), url.QueryEscape(s.key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build shodan request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("shodan request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil // host unknown to shodan
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("shodan returned HTTP %d", resp.StatusCode)
	}

	var body struct {
		Ports []int `json:"ports"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode shodan response: %w", err)
	}
	return body.Ports, nil
}

// pollShodan checks each watched host and emits one alert per newly seen
// open port. Port alerts flow through the same fingerprint dedup as feed
// alerts, so a port already alerted on stays quiet for the seen TTL.
func (m *Monitor) pollShodan(ctx context.Context) Stats {
	var stats Stats
	for _, host := range m.opts.WatchHosts {
		ports, err := m.shodan.hostPorts(ctx, host)
		if err != nil {
			m.logger.Warn().Err(err).Str("host", host).Msg("Shodan lookup failed")
			continue
		}
		for _, port := range ports {
			stats.Fetched++
			alert := types.Alert{
				Source:    "shodan",
				Title:     fmt.Sprintf("Open port %d on watched host %s", port, host),
				URL:       fmt.Sprintf("https://www.shodan.io/host/%s", host),
				Severity:  types.SeverityHigh,
				Published: time.Now(),
			}
			alert.Fingerprint = Fingerprint(alert.Source, host, fmt.Sprintf("port-%d", port))
			switch m.deliver(ctx, alert) {
			case deliverOK:
				stats.Delivered++
			case deliverDuplicate:
				stats.Deduped++
			}
		}
	}
	return stats
}
