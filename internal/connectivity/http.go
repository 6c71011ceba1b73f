package connectivity

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	DefaultPollInterval = 15 * time.Second
	DefaultProbeTimeout = 5 * time.Second
)

// HTTPProbe polls a URL. Any HTTP response means reachable; only transport
// failures count as unreachable. It polls only while it has subscribers.
type HTTPProbe struct {
	url      string
	interval time.Duration
	client   *http.Client
	logger   *slog.Logger

	mu     sync.Mutex
	subs   map[int]func(bool)
	nextID int
	known  bool
	last   bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHTTPProbe returns a probe for url. Zero durations take the defaults.
func NewHTTPProbe(url string, interval, timeout time.Duration, logger *slog.Logger) *HTTPProbe {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPProbe{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With("component", "http-probe"),
		subs:     map[int]func(bool){},
	}
}

// CheckNow implements Probe.
func (p *HTTPProbe) CheckNow(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.logger.Error("invalid probe url", "url", p.url, "error", err)
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("probe failed", "error", err)
		return false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return true
}

// Subscribe implements Probe. The first observation after polling starts
// is always delivered.
func (p *HTTPProbe) Subscribe(cb func(bool)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = cb
	if p.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel
		p.done = make(chan struct{})
		p.known = false
		go p.poll(ctx, p.done)
	}
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { p.unsubscribe(id) })
	}
}

func (p *HTTPProbe) unsubscribe(id int) {
	p.mu.Lock()
	delete(p.subs, id)
	if len(p.subs) > 0 || p.cancel == nil {
		p.mu.Unlock()
		return
	}
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	cancel()
	<-done
}

func (p *HTTPProbe) poll(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.observe(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *HTTPProbe) observe(ctx context.Context) {
	ok := p.CheckNow(ctx)
	if ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	changed := !p.known || p.last != ok
	p.known, p.last = true, ok
	var subs []func(bool)
	if changed {
		for _, cb := range p.subs {
			subs = append(subs, cb)
		}
	}
	p.mu.Unlock()

	if changed {
		p.logger.Debug("reachability changed", "reachable", ok)
	}
	for _, cb := range subs {
		cb(ok)
	}
}
