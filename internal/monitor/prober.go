package monitor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/makt28/stockwatch/internal/fetch"
)

var tracer = otel.Tracer("stockwatch/monitor")

// Prober checks a page for availability and, on demand, captures it as evidence.
type Prober interface {
	Probe(ctx context.Context, target string) ProbeResult
	CaptureEvidence(ctx context.Context, target string) ([]byte, error)
}

// PageFetcher loads a page in a single attempt. A non-nil error means the page
// could not be loaded, which is distinct from a page saying "unavailable".
type PageFetcher interface {
	Fetch(ctx context.Context, target string) (*fetch.Page, error)
}

// Screenshotter renders a page and returns a PNG.
type Screenshotter interface {
	Capture(ctx context.Context, target string) ([]byte, error)
}

// AvailabilityProber classifies a fetched page by looking for known
// out-of-stock phrases.
type AvailabilityProber struct {
	fetcher        PageFetcher
	shots          Screenshotter
	phrases        []string
	captureTimeout time.Duration
}

// NewAvailabilityProber creates a prober. shots may be nil, in which case
// evidence capture always fails.
func NewAvailabilityProber(fetcher PageFetcher, shots Screenshotter, phrases []string, captureTimeout time.Duration) *AvailabilityProber {
	return &AvailabilityProber{
		fetcher:        fetcher,
		shots:          shots,
		phrases:        phrases,
		captureTimeout: captureTimeout,
	}
}

func (p *AvailabilityProber) Probe(ctx context.Context, target string) (result ProbeResult) {
	ctx, span := tracer.Start(ctx, "prober:Probe")
	defer span.End()
	span.SetAttributes(attribute.String("url", target))

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("probe panicked", "url", target, "panic", r)
			result = ProbeResult{Errored: true, Reason: fmt.Sprintf("probe panic: %v", r), Latency: time.Since(start)}
		}
	}()

	page, err := p.fetcher.Fetch(ctx, target)
	latency := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return ProbeResult{Errored: true, Reason: err.Error(), Latency: latency}
	}

	signal, title := Classify(page.Body, p.phrases)
	span.SetAttributes(attribute.String("signal", signal.String()))
	return ProbeResult{Signal: signal, Title: title, Latency: latency}
}

func (p *AvailabilityProber) CaptureEvidence(ctx context.Context, target string) (img []byte, err error) {
	if p.shots == nil {
		return nil, fmt.Errorf("capture %s: no screenshotter configured", target)
	}

	ctx, span := tracer.Start(ctx, "prober:CaptureEvidence")
	defer span.End()

	if p.captureTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.captureTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("capture panicked", "url", target, "panic", r)
			img, err = nil, fmt.Errorf("capture %s: panic: %v", target, r)
		}
	}()

	img, err = p.shots.Capture(ctx, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "capture failed")
		return nil, fmt.Errorf("capture %s: %w", target, err)
	}
	return img, nil
}

// Classify reports StatusUnavailable if the page contains any of the phrases,
// either verbatim in the markup or in its whitespace-normalised text, and
// StatusAvailable otherwise. It also returns the page title when present.
func Classify(body []byte, phrases []string) (Status, string) {
	raw := string(body)
	title := ""
	text := ""

	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		title = normalizeSpace(doc.Find("title").First().Text())
		text = normalizeSpace(doc.Text())
	}

	for _, phrase := range phrases {
		norm := normalizeSpace(phrase)
		if norm == "" {
			continue
		}
		if strings.Contains(raw, phrase) || strings.Contains(text, norm) {
			return StatusUnavailable, title
		}
	}
	return StatusAvailable, title
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
