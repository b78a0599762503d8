package remote

import (
	"context"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"
)

// Probe is a polling connectivity check against the service host. It
// satisfies the orchestrator's Connectivity contract: Online reports
// the last observed state and Changes delivers transitions, true on
// reconnect.
type Probe struct {
	addr     string
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	online bool
	ch     chan bool
}

// NewProbe creates a connectivity probe for the service base URL
func NewProbe(baseURL string, interval time.Duration, logger *slog.Logger) (*Probe, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	host := u.Host
	if u.Port() == "" {
		port := "443"
		if u.Scheme == "http" {
			port = "80"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}

	return &Probe{
		addr:     host,
		interval: interval,
		timeout:  3 * time.Second,
		logger:   logger,
		online:   true,
		ch:       make(chan bool, 4),
	}, nil
}

// Online reports the last observed connectivity state
func (p *Probe) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// Changes delivers connectivity transitions
func (p *Probe) Changes() <-chan bool {
	return p.ch
}

// Run polls until the context is cancelled
func (p *Probe) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.check()
		}
	}
}

func (p *Probe) check() {
	conn, err := net.DialTimeout("tcp", p.addr, p.timeout)
	online := err == nil
	if conn != nil {
		conn.Close()
	}

	p.mu.Lock()
	changed := online != p.online
	p.online = online
	p.mu.Unlock()

	if !changed {
		return
	}

	p.logger.Info("connectivity changed", "addr", p.addr, "online", online)
	select {
	case p.ch <- online:
	default:
		// Consumer behind; the next transition carries the news
	}
}
