package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// DefaultUserAgent is a mobile Safari user agent the portal serves its
// mobile layout to.
const DefaultUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_7_2 like Mac OS X) " +
	"AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4.1 Mobile/15E148 Safari/604.1"

const (
	viewportWidth  = 375
	viewportHeight = 812

	navigateTimeout = 60 * time.Second
	actionTimeout   = 10 * time.Second
	pollInterval    = 250 * time.Millisecond
)

// ChromeConfig configures a ChromeBrowser.
type ChromeConfig struct {
	// Headful shows the browser window.
	Headful bool
	// DisableSandbox is needed in most containers.
	DisableSandbox bool
	// ExecPath overrides the Chrome binary.
	ExecPath  string
	UserAgent string
}

// ChromeBrowser drives a local Chrome through the DevTools protocol.
type ChromeBrowser struct {
	cfg ChromeConfig
}

// NewChromeBrowser returns a browser launcher.
func NewChromeBrowser(cfg ChromeConfig) *ChromeBrowser {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	return &ChromeBrowser{cfg: cfg}
}

// Open launches Chrome and returns its first tab.
func (b *ChromeBrowser) Open(ctx context.Context) (Page, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(b.cfg.UserAgent),
		chromedp.WindowSize(viewportWidth, viewportHeight),
	)
	if b.cfg.Headful {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if b.cfg.DisableSandbox {
		opts = append(opts, chromedp.NoSandbox, chromedp.Flag("disable-setuid-sandbox", true))
	}
	if b.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(tabCtx, chromedp.EmulateViewport(viewportWidth, viewportHeight)); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	return &chromePage{
		ctx: tabCtx,
		cancel: func() {
			cancelTab()
			cancelAlloc()
		},
	}, nil
}

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func (p *chromePage) run(timeout time.Duration, actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	err := chromedp.Run(ctx, actions...)
	if errors.Is(err, context.DeadlineExceeded) && p.ctx.Err() == nil {
		return ErrWaitTimeout
	}
	return err
}

func (p *chromePage) Navigate(url string) error {
	return p.run(navigateTimeout, chromedp.Navigate(url))
}

func (p *chromePage) WaitVisible(selector string, timeout time.Duration) error {
	return p.run(timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *chromePage) Click(selector string) error {
	return p.run(actionTimeout, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *chromePage) Type(selector, text string) error {
	return p.run(actionTimeout, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

func (p *chromePage) ClickButton(label string, timeout time.Duration) error {
	expr := `(() => {
		const b = Array.from(document.querySelectorAll("button")).find(el => el.textContent.trim() === ` + strconv.Quote(label) + `);
		if (b) b.click();
		return !!b;
	})()`
	return p.poll(timeout, func(ctx context.Context) (bool, error) {
		var clicked bool
		err := chromedp.Evaluate(expr, &clicked).Do(ctx)
		return clicked, err
	})
}

func (p *chromePage) TextStartingWith(prefix string, timeout time.Duration) (string, error) {
	expr := `(() => {
		const el = Array.from(document.querySelectorAll("div")).find(d => d.textContent.trim().startsWith(` + strconv.Quote(prefix) + `));
		return el ? el.textContent : "";
	})()`
	var text string
	err := p.poll(timeout, func(ctx context.Context) (bool, error) {
		if err := chromedp.Evaluate(expr, &text).Do(ctx); err != nil {
			return false, err
		}
		return text != "", nil
	})
	return text, err
}

// poll evaluates check until it reports true or timeout elapses.
func (p *chromePage) poll(timeout time.Duration, check func(ctx context.Context) (bool, error)) error {
	return p.run(timeout, chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			ok, err := check(ctx)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}))
}

// LoadCookies restores cookies saved by SaveCookies.
func (p *chromePage) LoadCookies(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var cookies []*network.Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return fmt.Errorf("decode cookie jar: %w", err)
	}

	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: c.SameSite,
		}
		if !c.Session && c.Expires > 0 {
			expires := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			param.Expires = &expires
		}
		params = append(params, param)
	}

	return p.run(actionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookies(params).Do(ctx)
	}))
}

// SaveCookies writes the browser's cookies to path as JSON.
func (p *chromePage) SaveCookies(path string) error {
	var cookies []*network.Cookie
	err := p.run(actionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return fmt.Errorf("read cookies: %w", err)
	}

	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cookie jar: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (p *chromePage) Close() error {
	p.cancel()
	return nil
}
