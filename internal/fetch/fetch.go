package fetch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	browser "github.com/EDDYCJY/fake-useragent"
	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/makt28/stockwatch/internal/config"
)

var tracer = otel.Tracer("stockwatch/fetch")

// Page is a fetched document.
type Page struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError is returned for responses outside the 2xx range.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

type Options struct {
	UserAgents     []string
	Headers        map[string]string
	Referrers      map[string]string // domain substring -> referer
	DefaultReferer string
	DelayMin       time.Duration
	DelayMax       time.Duration
	Timeout        time.Duration

	// Transport overrides the base transport wrapped by the Cloudflare
	// fingerprint adjustments.
	Transport http.RoundTripper
}

// OptionsFromConfig maps the stealth section of the config to Options.
func OptionsFromConfig(cfg config.StealthConfig) Options {
	return Options{
		UserAgents:     cfg.UserAgents,
		Headers:        cfg.Headers,
		Referrers:      cfg.Referrers,
		DefaultReferer: cfg.DefaultReferer,
		DelayMin:       time.Duration(cfg.DelayMin) * time.Millisecond,
		DelayMax:       time.Duration(cfg.DelayMax) * time.Millisecond,
		Timeout:        time.Duration(cfg.RequestTimeout) * time.Second,
	}
}

// Fetcher loads pages while looking like a regular browser visit.
type Fetcher struct {
	client *resty.Client
	opts   Options
	refKey []string // Referrers keys, sorted for deterministic matching
}

func New(opts Options) (*Fetcher, error) {
	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	if opts.Transport != nil {
		client.SetTransport(opts.Transport)
	}
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}

	keys := make([]string, 0, len(opts.Referrers))
	for k := range opts.Referrers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return &Fetcher{client: client, opts: opts, refKey: keys}, nil
}

// Fetch loads target in a single attempt after a random delay. Transport
// failures and non-2xx responses are errors.
func (f *Fetcher) Fetch(ctx context.Context, target string) (*Page, error) {
	ctx, span := tracer.Start(ctx, "fetch:Fetch", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("url", target))

	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		err = fmt.Errorf("invalid url %q", target)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid url")
		return nil, err
	}

	if err := sleep(ctx, randomBetween(f.opts.DelayMin, f.opts.DelayMax)); err != nil {
		return nil, err
	}

	ua := f.userAgent()
	req := f.client.R().
		SetContext(ctx).
		SetHeaders(f.opts.Headers).
		SetHeader("User-Agent", ua).
		SetHeader("Referer", f.Referer(u.Hostname()))
	for k, v := range clientHints(ua) {
		req.SetHeader(k, v)
	}

	res, err := req.Get(target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("get %s: %w", u.Hostname(), err)
	}
	span.SetAttributes(attribute.Int("status", res.StatusCode()))

	if res.StatusCode() < 200 || res.StatusCode() >= 300 {
		err := &StatusError{StatusCode: res.StatusCode()}
		span.RecordError(err)
		span.SetStatus(codes.Error, "unexpected status")
		return nil, err
	}

	return &Page{
		URL:        res.Request.URL,
		StatusCode: res.StatusCode(),
		Header:     res.Header(),
		Body:       res.Body(),
	}, nil
}

// Referer picks the referer for host: the first configured domain substring
// that matches, else a search for the domain.
func (f *Fetcher) Referer(host string) string {
	if host == "" {
		return f.opts.DefaultReferer
	}
	for _, k := range f.refKey {
		if strings.Contains(host, k) {
			return f.opts.Referrers[k]
		}
	}
	return "https://www.google.com/search?q=" + strings.ReplaceAll(host, ".", "+")
}

func (f *Fetcher) userAgent() string {
	if n := len(f.opts.UserAgents); n > 0 {
		return f.opts.UserAgents[rand.IntN(n)]
	}
	return browser.Random()
}

var chromeVersion = regexp.MustCompile(`Chrome/(\d+)`)

// clientHints returns the Sec-Ch-Ua headers a Chromium browser with ua would
// send. Other browsers send none.
func clientHints(ua string) map[string]string {
	m := chromeVersion.FindStringSubmatch(ua)
	if m == nil || strings.Contains(ua, "Edg/") {
		return nil
	}

	platform := "Windows"
	switch {
	case strings.Contains(ua, "Macintosh"):
		platform = "macOS"
	case strings.Contains(ua, "Android"):
		platform = "Android"
	case strings.Contains(ua, "Linux"):
		platform = "Linux"
	}
	mobile := "?0"
	if strings.Contains(ua, "Mobile") {
		mobile = "?1"
	}

	return map[string]string{
		"Sec-Ch-Ua":          fmt.Sprintf(`"Chromium";v="%s", "Google Chrome";v="%s", "Not-A.Brand";v="99"`, m[1], m[1]),
		"Sec-Ch-Ua-Mobile":   mobile,
		"Sec-Ch-Ua-Platform": `"` + platform + `"`,
	}
}

func randomBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
