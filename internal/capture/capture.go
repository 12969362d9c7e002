package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/makt28/stockwatch/internal/config"
)

var tracer = otel.Tracer("stockwatch/capture")

// ErrCaptureDisabled is returned by Capture when screenshots are turned off.
var ErrCaptureDisabled = errors.New("screenshot capture is disabled")

const consentBudget = 5 * time.Second

// hideAutomation runs before any page script.
const hideAutomation = `Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
window.chrome = window.chrome || { runtime: {} };
Object.defineProperty(navigator, 'languages', { get: () => ['es-ES', 'fr-FR', 'en-US'] });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });`

type Options struct {
	Enabled         bool
	Headless        bool
	ExecPath        string
	UserAgent       string
	Width, Height   int
	ConsentSelector string
	AcceptLanguage  string
	SettleMin       time.Duration
	SettleMax       time.Duration
	OutputDir       string

	// Referer returns the Referer header for a host. Optional.
	Referer func(host string) string
}

// OptionsFromConfig maps the capture section of the config to Options.
func OptionsFromConfig(cfg config.CaptureConfig) Options {
	return Options{
		Enabled:         cfg.IsEnabled(),
		Headless:        cfg.IsHeadless(),
		ExecPath:        cfg.ExecPath,
		UserAgent:       cfg.UserAgent,
		Width:           cfg.ViewportWidth,
		Height:          cfg.ViewportHeight,
		ConsentSelector: cfg.ConsentSelector,
		AcceptLanguage:  cfg.AcceptLanguage,
		SettleMin:       time.Duration(cfg.SettleMin) * time.Millisecond,
		SettleMax:       time.Duration(cfg.SettleMax) * time.Millisecond,
		OutputDir:       cfg.OutputDir,
	}
}

// Screenshotter renders pages in a fresh headless Chrome per capture.
type Screenshotter struct {
	opts Options
	now  func() time.Time
}

func New(opts Options) *Screenshotter {
	return &Screenshotter{opts: opts, now: time.Now}
}

// Capture navigates to target and returns a PNG of the viewport. The
// browser is closed before returning.
func (s *Screenshotter) Capture(ctx context.Context, target string) ([]byte, error) {
	if !s.opts.Enabled {
		return nil, ErrCaptureDisabled
	}

	ctx, span := tracer.Start(ctx, "capture:Capture")
	defer span.End()
	span.SetAttributes(attribute.String("url", target))

	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q", target)
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, s.allocatorOptions()...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	headers := network.Headers{}
	if s.opts.AcceptLanguage != "" {
		headers["Accept-Language"] = s.opts.AcceptLanguage
	}
	if s.opts.Referer != nil {
		headers["Referer"] = s.opts.Referer(u.Hostname())
	}

	err = chromedp.Run(tabCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(headers),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(hideAutomation).Do(ctx)
			return err
		}),
		chromedp.Navigate(target),
		chromedp.Sleep(s.settle()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "navigate failed")
		return nil, fmt.Errorf("navigate: %w", err)
	}

	s.dismissConsent(tabCtx)

	var buf []byte
	err = chromedp.Run(tabCtx,
		chromedp.Sleep(s.settle()),
		chromedp.CaptureScreenshot(&buf),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "screenshot failed")
		return nil, fmt.Errorf("screenshot: %w", err)
	}

	if s.opts.OutputDir != "" {
		if path, err := s.save(u.Hostname(), buf); err != nil {
			slog.Warn("failed to save screenshot", "dir", s.opts.OutputDir, "error", err)
		} else {
			slog.Debug("screenshot saved", "path", path)
		}
	}
	return buf, nil
}

// dismissConsent clicks the cookie banner's reject button if it shows up.
func (s *Screenshotter) dismissConsent(tabCtx context.Context) {
	if s.opts.ConsentSelector == "" {
		return
	}
	ctx, cancel := context.WithTimeout(tabCtx, consentBudget)
	defer cancel()

	err := chromedp.Run(ctx,
		chromedp.WaitVisible(s.opts.ConsentSelector, chromedp.ByQuery),
		chromedp.Click(s.opts.ConsentSelector, chromedp.ByQuery),
	)
	if err != nil {
		slog.Debug("cookie consent button not found or not clickable", "selector", s.opts.ConsentSelector, "error", err)
		return
	}
	slog.Debug("cookie consent dismissed", "selector", s.opts.ConsentSelector)
}

func (s *Screenshotter) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", s.opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-features", "IsolateOrigins,site-per-process"),
		chromedp.Flag("disable-site-isolation-trials", true),
		chromedp.Flag("enable-automation", false),
	)
	if s.opts.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(s.opts.UserAgent))
	}
	if s.opts.Width > 0 && s.opts.Height > 0 {
		opts = append(opts, chromedp.WindowSize(s.opts.Width, s.opts.Height))
	}
	if s.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(s.opts.ExecPath))
	}
	return opts
}

func (s *Screenshotter) settle() time.Duration {
	lo, hi := s.opts.SettleMin, s.opts.SettleMax
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

func (s *Screenshotter) save(host string, png []byte) (string, error) {
	if err := os.MkdirAll(s.opts.OutputDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(s.opts.OutputDir, Filename(s.now(), host))
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Filename returns screenshot_<timestamp>_<domain>.png for a capture taken at t.
func Filename(t time.Time, host string) string {
	if host == "" {
		host = "unknown"
	}
	ts := t.UTC().Format("2006-01-02T15-04-05.000Z")
	return fmt.Sprintf("screenshot_%s_%s.png", ts, unsafeChars.ReplaceAllString(host, "_"))
}
