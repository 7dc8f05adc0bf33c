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
	"go.uber.org/zap"
)

// Config holds the interactive-session settings.
type Config struct {
	// DebuggerURL attaches to an already-running Chrome with a signed-in
	// session. When empty a fresh browser is launched and the user must sign
	// in before the run starts.
	DebuggerURL string `yaml:"debugger_url"`
	Headless    bool   `yaml:"headless"`

	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`

	// MaxQuestions is the number of questions one unit renders. Zero means 5.
	MaxQuestions int `yaml:"max_questions"`

	NavigationTimeoutMs int `yaml:"navigation_timeout_ms"`
	SelectorTimeoutMs   int `yaml:"selector_timeout_ms"`
}

func (c Config) maxQuestions() int {
	if c.MaxQuestions <= 0 {
		return 5
	}
	return c.MaxQuestions
}

func (c Config) viewportWidth() int {
	if c.ViewportWidth <= 0 {
		return 1920
	}
	return c.ViewportWidth
}

func (c Config) viewportHeight() int {
	if c.ViewportHeight <= 0 {
		return 1080
	}
	return c.ViewportHeight
}

func (c Config) navigationTimeout() time.Duration {
	if c.NavigationTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

func (c Config) selectorTimeout() time.Duration {
	if c.SelectorTimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.SelectorTimeoutMs) * time.Millisecond
}

// screenOption is one parsed on-screen answer option. Value is the form
// control's value attribute, used later to click the matching label.
type screenOption struct {
	Label   string
	Content string
	Value   string
}

// pageOps is the slice of page behaviour the choreography needs. The rod
// implementation is the only production one; tests substitute a scripted
// fake.
type pageOps interface {
	Reload() error
	Visible(sel string) bool
	Text(sel string) (string, error)
	Count(sel string) (int, error)
	TextAt(sel string, i int) (string, error)
	ClickAt(sel string, i int) error
	ClickByText(sel, text string, timeout time.Duration) error
	Options(groupSel string) ([]screenOption, error)
	ClickOption(groupSel, value string) error
	WaitVisible(sel string, timeout time.Duration) error
	WaitHidden(sel string, timeout time.Duration) error
}

// Manager owns the Chrome connection for the run. All page access goes
// through the driver's dispatcher; the manager only handles lifecycle.
type Manager struct {
	cfg Config
	log *zap.Logger

	mu      sync.Mutex
	browser *rod.Browser
	page    *rod.Page
}

func NewManager(cfg Config, log *zap.Logger) *Manager {
	return &Manager{cfg: cfg, log: log}
}

// Start connects to or launches Chrome and binds the current page. With a
// debugger URL the active tab (the one left on the assessment site) is
// adopted rather than a new one opened.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser != nil {
		return nil
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" {
		url, err := launcher.New().Headless(m.cfg.Headless).Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	pages, err := b.Pages()
	if err != nil {
		b.Close()
		return fmt.Errorf("list pages: %w", err)
	}
	var page *rod.Page
	if len(pages) > 0 {
		page = pages.First()
	} else {
		page, err = b.Page(proto.TargetCreateTarget{})
		if err != nil {
			b.Close()
			return fmt.Errorf("create page: %w", err)
		}
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.viewportWidth(),
		Height:            m.cfg.viewportHeight(),
		DeviceScaleFactor: 1.0,
	}).Call(page); err != nil {
		m.log.Warn("failed to set viewport", zap.Error(err))
	}

	m.browser = b
	m.page = page
	m.log.Info("browser session attached", zap.String("control_url", controlURL))
	return nil
}

// IsAlive reports whether the browser connection still answers.
func (m *Manager) IsAlive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser == nil {
		return false
	}
	_, err := m.browser.Version()
	return err == nil
}

// Page returns the page operations bound to the adopted tab.
func (m *Manager) Page() pageOps {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &rodPage{page: m.page, cfg: m.cfg}
}

// Close shuts the connection down. A launched Chrome exits with it; an
// attached one is left running with the user's session intact.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser == nil {
		return nil
	}
	err := m.browser.Close()
	m.browser = nil
	m.page = nil
	return err
}

// rodPage implements pageOps over a live rod page.
type rodPage struct {
	page *rod.Page
	cfg  Config
}

func (p *rodPage) Reload() error {
	if err := p.page.Reload(); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return p.page.Timeout(p.cfg.navigationTimeout()).WaitLoad()
}

func (p *rodPage) Visible(sel string) bool {
	el, err := p.page.Timeout(time.Second).Element(sel)
	if err != nil {
		return false
	}
	visible, err := el.Visible()
	return err == nil && visible
}

func (p *rodPage) Text(sel string) (string, error) {
	el, err := p.page.Timeout(p.cfg.selectorTimeout()).Element(sel)
	if err != nil {
		return "", fmt.Errorf("element %q: %w", sel, err)
	}
	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("element %q text: %w", sel, err)
	}
	return text, nil
}

func (p *rodPage) Count(sel string) (int, error) {
	els, err := p.page.Elements(sel)
	if err != nil {
		return 0, fmt.Errorf("elements %q: %w", sel, err)
	}
	return len(els), nil
}

func (p *rodPage) TextAt(sel string, i int) (string, error) {
	els, err := p.page.Elements(sel)
	if err != nil {
		return "", fmt.Errorf("elements %q: %w", sel, err)
	}
	if i >= len(els) {
		return "", fmt.Errorf("elements %q: index %d out of %d", sel, i, len(els))
	}
	return els[i].Text()
}

func (p *rodPage) ClickAt(sel string, i int) error {
	els, err := p.page.Elements(sel)
	if err != nil {
		return fmt.Errorf("elements %q: %w", sel, err)
	}
	if i >= len(els) {
		return fmt.Errorf("elements %q: index %d out of %d", sel, i, len(els))
	}
	return els[i].Click(proto.InputMouseButtonLeft, 1)
}

// ClickByText clicks the first sel element whose text contains text.
func (p *rodPage) ClickByText(sel, text string, timeout time.Duration) error {
	el, err := p.page.Timeout(timeout).ElementR(sel, "/"+text+"/")
	if err != nil {
		return fmt.Errorf("element %q with text %q: %w", sel, text, err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// Options parses the option group rows: label badge, content span and the
// hidden input's value attribute.
func (p *rodPage) Options(groupSel string) ([]screenOption, error) {
	rows, err := p.page.Elements(groupSel)
	if err != nil {
		return nil, fmt.Errorf("option rows %q: %w", groupSel, err)
	}
	out := make([]screenOption, 0, len(rows))
	for _, row := range rows {
		var opt screenOption
		if el, err := row.Element(".option-answer"); err == nil {
			opt.Label, _ = el.Text()
		}
		if el, err := row.Element(".option-content"); err == nil {
			opt.Content, _ = el.Text()
		}
		if el, err := row.Element("input"); err == nil {
			if v, err := el.Attribute("value"); err == nil && v != nil {
				opt.Value = *v
			}
		}
		opt.Label = strings.TrimSpace(opt.Label)
		out = append(out, opt)
	}
	return out, nil
}

// ClickOption clicks the row label wrapping the input with the given value.
// The framework's styled controls ignore clicks on the input itself.
func (p *rodPage) ClickOption(groupSel, value string) error {
	sel := fmt.Sprintf(`%s:has(input[value=%q])`, groupSel, value)
	el, err := p.page.Timeout(p.cfg.selectorTimeout()).Element(sel)
	if err != nil {
		return fmt.Errorf("option %q value %q: %w", groupSel, value, err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (p *rodPage) WaitVisible(sel string, timeout time.Duration) error {
	el, err := p.page.Timeout(timeout).Element(sel)
	if err != nil {
		return fmt.Errorf("wait visible %q: %w", sel, err)
	}
	return el.Timeout(timeout).WaitVisible()
}

func (p *rodPage) WaitHidden(sel string, timeout time.Duration) error {
	el, err := p.page.Timeout(time.Second).Element(sel)
	if err != nil {
		// Already gone.
		return nil
	}
	return el.Timeout(timeout).WaitInvisible()
}
