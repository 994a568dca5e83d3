// CLAUDE:SUMMARY Lazily launched headless Chrome (Rod + stealth) used to render JS-heavy pages for the crawler and to print reports to PDF.
// Package browser manages one headless Chrome for the process. Chrome is
// started on first use, either locally through the Rod launcher or by
// connecting to RemoteURL.
package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("browser: manager is closed")

// Config configures the Manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty = launch a local headless Chrome.
	RemoteURL string

	// Bin overrides the Chrome binary used by the launcher.
	Bin string

	// NavTimeout bounds navigation plus load. Default: 30s.
	NavTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns the Chrome process. Safe for concurrent use; each call opens
// its own tab.
type Manager struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// New creates a Manager. Chrome is not started until the first call.
func New(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

func (m *Manager) get() (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.browser != nil {
		return m.browser, nil
	}

	wsURL := m.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		m.cfg.Logger.Info("browser: launched local chrome", "url", wsURL)
	} else {
		m.cfg.Logger.Info("browser: connecting to remote", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		m.cleanup()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	m.browser = b
	return b, nil
}

// RenderHTML navigates a stealth tab to pageURL and returns the DOM after
// load, scripts included.
func (m *Manager) RenderHTML(ctx context.Context, pageURL string) (string, error) {
	b, err := m.get()
	if err != nil {
		return "", err
	}
	page, err := stealth.Page(b)
	if err != nil {
		return "", fmt.Errorf("browser: create tab: %w", err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavTimeout)
	defer cancel()
	p := page.Context(navCtx)
	if err := p.Navigate(pageURL); err != nil {
		return "", fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := p.WaitLoad(); err != nil {
		m.cfg.Logger.Warn("browser: wait load", "url", pageURL, "error", err)
	}
	html, err := p.HTML()
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return html, nil
}

// A4 in inches with 22mm margins.
const (
	a4Width  = 8.27
	a4Height = 11.69
	margin   = 22 / 25.4
)

// PDF prints a complete HTML document to A4 with page numbers in the footer.
func (m *Manager) PDF(ctx context.Context, fullHTML string) ([]byte, error) {
	b, err := m.get()
	if err != nil {
		return nil, err
	}
	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	defer page.Close()

	pctx, cancel := context.WithTimeout(ctx, m.cfg.NavTimeout)
	defer cancel()
	p := page.Context(pctx)
	if err := p.SetDocumentContent(fullHTML); err != nil {
		return nil, fmt.Errorf("browser: set content: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		m.cfg.Logger.Warn("browser: wait load for pdf", "error", err)
	}

	w, h, mg := a4Width, a4Height, margin
	r, err := p.PDF(&proto.PagePrintToPDF{
		PaperWidth:          &w,
		PaperHeight:         &h,
		MarginTop:           &mg,
		MarginBottom:        &mg,
		MarginLeft:          &mg,
		MarginRight:         &mg,
		PrintBackground:     true,
		DisplayHeaderFooter: true,
		HeaderTemplate:      `<span></span>`,
		FooterTemplate:      `<div style="font-size:9px;width:100%;text-align:center;color:#666"><span class="pageNumber"></span> / <span class="totalPages"></span></div>`,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: print: %w", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("browser: read pdf stream: %w", err)
	}
	return data, nil
}

// Close shuts Chrome down. Further calls return ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

func (m *Manager) cleanup() {
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
}
