// Package browser manages the Chrome connection the agent drives the
// host application through: attach to a running instance over the
// DevTools protocol, or launch a local one via the rod launcher.
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog"
)

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Headless applies only when launching locally. Driving a visible
	// session the user is watching is the common mode for this agent.
	Headless bool

	// BaseURL is the host application root, used to find its tab.
	BaseURL string
}

// Manager owns the Chrome connection.
type Manager struct {
	cfg     Config
	logger  zerolog.Logger
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewManager creates a Manager. Call Start to connect.
func NewManager(cfg Config, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger.With().Str("component", "browser").Logger(),
	}
}

// Start connects to Chrome (or launches one) and returns the handle.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}

	var wsURL string
	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		m.logger.Info().Str("url", wsURL).Msg("connecting to remote chrome")
	} else {
		l := launcher.New().
			Headless(m.cfg.Headless).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		m.logger.Info().Str("url", wsURL).Bool("headless", m.cfg.Headless).Msg("launched local chrome")
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	if err := b.IgnoreCertErrors(true); err != nil {
		m.logger.Warn().Err(err).Msg("ignore cert errors failed")
	}

	m.browser = b
	return b, nil
}

// Session returns a Session on the host application's tab. An existing
// tab whose URL starts with BaseURL is reused; otherwise a new tab is
// opened and navigated there.
func (m *Manager) Session(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	b := m.browser
	m.mu.Unlock()
	if b == nil {
		return nil, fmt.Errorf("browser: not started")
	}

	pages, err := b.Pages()
	if err != nil {
		return nil, fmt.Errorf("browser: list pages: %w", err)
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		if strings.HasPrefix(info.URL, m.cfg.BaseURL) {
			m.logger.Debug().Str("url", info.URL).Msg("reusing host application tab")
			return newSession(p, m.logger), nil
		}
	}

	var page *rod.Page
	if m.cfg.RemoteURL != "" {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	} else {
		page, err = stealth.Page(b)
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := page.Context(navCtx).Navigate(m.cfg.BaseURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", m.cfg.BaseURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		m.logger.Warn().Err(err).Str("url", m.cfg.BaseURL).Msg("wait load timeout")
	}

	return newSession(page, m.logger), nil
}

// Close shuts down the connection and any launched Chrome.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	return nil
}
