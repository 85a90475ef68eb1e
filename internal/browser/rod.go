package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"browsernerd/internal/config"
	"browsernerd/internal/logging"
	"browsernerd/internal/types"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// rodDriver drives a single Chrome page through go-rod.
type rodDriver struct {
	cfg config.BrowserConfig
	log *zap.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	page     *rod.Page
	launched *launcher.Launcher
}

// NewRodDriver creates the production driver. The browser is not started
// until Open.
func NewRodDriver(cfg config.BrowserConfig) Driver {
	return &rodDriver{cfg: cfg, log: logging.Get(logging.CategoryBrowser)}
}

func (d *rodDriver) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.page != nil {
		return nil
	}

	controlURL := d.cfg.DebuggerURL
	if controlURL == "" {
		l := launcher.New().Headless(d.cfg.Headless)
		if d.cfg.Bin != "" {
			l = l.Bin(d.cfg.Bin)
		}
		url, err := l.Launch()
		if err != nil {
			return types.WrapError(types.KindResourceInit, err, "launch chrome")
		}
		d.launched = l
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return types.WrapError(types.KindResourceInit, err, "connect to chrome")
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		return types.WrapError(types.KindResourceInit, err, "create page")
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             d.cfg.GetViewportWidth(),
		Height:            d.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		d.log.Warn("failed to set viewport", zap.Error(err))
	}

	d.browser = browser
	d.page = page
	d.log.Info("browser page acquired", zap.Bool("headless", d.cfg.Headless))
	return nil
}

func (d *rodDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.page == nil && d.browser == nil {
		return nil
	}
	if d.page != nil {
		_ = d.page.Close()
		d.page = nil
	}
	var err error
	if d.browser != nil {
		err = d.browser.Close()
		d.browser = nil
	}
	if d.launched != nil {
		d.launched.Cleanup()
		d.launched = nil
	}
	d.log.Info("browser released")
	return err
}

func (d *rodDriver) currentPage() (*rod.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.page == nil {
		return nil, types.NewError(types.KindDriver, "browser not open")
	}
	return d.page, nil
}

func (d *rodDriver) Navigate(ctx context.Context, url string) error {
	page, err := d.currentPage()
	if err != nil {
		return err
	}
	p := page.Context(ctx).Timeout(d.cfg.NavigationTimeout())
	if err := p.Navigate(url); err != nil {
		return classify(err, types.KindNavigation, "navigate to %s", url)
	}
	if err := p.WaitLoad(); err != nil {
		return classify(err, types.KindNavigation, "load %s", url)
	}
	return nil
}

func (d *rodDriver) Click(ctx context.Context, t types.Target) (string, error) {
	el, final, err := d.resolve(ctx, t)
	if err != nil {
		return "", err
	}
	defer d.unmark(ctx)
	if err := el.ScrollIntoView(); err != nil {
		return final, classify(err, types.KindDriver, "scroll into view")
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return final, classify(err, types.KindDriver, "click")
	}
	return final, nil
}

func (d *rodDriver) Fill(ctx context.Context, t types.Target, value string) (string, error) {
	el, final, err := d.resolve(ctx, t)
	if err != nil {
		return "", err
	}
	defer d.unmark(ctx)
	if _, err := el.Eval(`() => { this.value = ''; }`); err != nil {
		return final, classify(err, types.KindDriver, "clear field")
	}
	if err := el.Input(value); err != nil {
		return final, classify(err, types.KindDriver, "input")
	}
	return final, nil
}

func (d *rodDriver) SelectOption(ctx context.Context, t types.Target, option string) (string, error) {
	el, final, err := d.resolve(ctx, t)
	if err != nil {
		return "", err
	}
	defer d.unmark(ctx)
	if err := el.Select([]string{option}, true, rod.SelectorTypeText); err != nil {
		return final, classify(err, types.KindDriver, "select %q", option)
	}
	return final, nil
}

func (d *rodDriver) Extract(ctx context.Context, t types.Target) (string, string, error) {
	el, final, err := d.resolve(ctx, t)
	if err != nil {
		return "", "", err
	}
	defer d.unmark(ctx)
	res, err := el.Eval(`() => this.value !== undefined && this.value !== '' ? String(this.value) : (this.textContent || '').trim()`)
	if err != nil {
		return "", final, classify(err, types.KindDriver, "extract")
	}
	return res.Value.Str(), final, nil
}

func (d *rodDriver) ScrollBy(ctx context.Context, direction string) error {
	page, err := d.currentPage()
	if err != nil {
		return err
	}
	dy := 600
	if direction == "up" {
		dy = -600
	}
	_, err = page.Context(ctx).Eval(`(dy) => window.scrollBy({top: dy, behavior: 'instant'})`, dy)
	if err != nil {
		return classify(err, types.KindDriver, "scroll %s", direction)
	}
	return nil
}

func (d *rodDriver) ScrollTo(ctx context.Context, t types.Target) (string, error) {
	el, final, err := d.resolve(ctx, t)
	if err != nil {
		return "", err
	}
	defer d.unmark(ctx)
	if err := el.ScrollIntoView(); err != nil {
		return final, classify(err, types.KindDriver, "scroll to target")
	}
	return final, nil
}

func (d *rodDriver) WaitFor(ctx context.Context, predicate string) error {
	page, err := d.currentPage()
	if err != nil {
		return err
	}
	err = page.Context(ctx).Wait(&rod.EvalOptions{
		JS: fmt.Sprintf(`() => Boolean(%s)`, predicate),
	})
	if err != nil {
		return classify(err, types.KindTimeout, "wait for %s", predicate)
	}
	return nil
}

// namedKeys maps the wire names manual clients send to rod key codes.
var namedKeys = map[string]input.Key{
	"Enter":      input.Enter,
	"Tab":        input.Tab,
	"Escape":     input.Escape,
	"Backspace":  input.Backspace,
	"Delete":     input.Delete,
	"ArrowUp":    input.ArrowUp,
	"ArrowDown":  input.ArrowDown,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
}

func (d *rodDriver) Press(ctx context.Context, key string) error {
	page, err := d.currentPage()
	if err != nil {
		return err
	}
	k, ok := namedKeys[key]
	if !ok {
		runes := []rune(key)
		if len(runes) != 1 {
			return types.NewError(types.KindDriver, "unknown key %q", key)
		}
		k = input.Key(runes[0])
	}
	if err := page.Context(ctx).Keyboard.Press(k); err != nil {
		return classify(err, types.KindDriver, "press %s", key)
	}
	return nil
}

func (d *rodDriver) Info(ctx context.Context) (PageInfo, error) {
	page, err := d.currentPage()
	if err != nil {
		return PageInfo{}, err
	}
	info, err := page.Context(ctx).Info()
	if err != nil {
		return PageInfo{}, classify(err, types.KindDriver, "page info")
	}
	return PageInfo{URL: info.URL, Title: info.Title}, nil
}

func (d *rodDriver) Screenshot(ctx context.Context, quality int) ([]byte, error) {
	page, err := d.currentPage()
	if err != nil {
		return nil, err
	}
	q := quality
	data, err := page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: &q,
	})
	if err != nil {
		return nil, classify(err, types.KindDriver, "screenshot")
	}
	return data, nil
}

// classify maps rod/context errors onto the failure taxonomy. Deadline and
// cancellation take precedence over the fallback kind.
func classify(err error, fallback types.ErrorKind, format string, args ...interface{}) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return types.WrapError(types.KindTimeout, err, format, args...)
	case errors.Is(err, context.Canceled):
		return types.WrapError(types.KindCancelled, err, format, args...)
	}
	if strings.Contains(err.Error(), "context deadline") {
		return types.WrapError(types.KindTimeout, err, format, args...)
	}
	return types.WrapError(fallback, err, format, args...)
}
