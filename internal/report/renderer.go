package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/presence.report/internal/monitoring"
)

// ErrGeneratorFailed marks a text generator failure. Render recovers from it
// with the fallback and only logs it.
var ErrGeneratorFailed = errors.New("report generator failed")

// Report sources.
const (
	SourceGenerator = "generator"
	SourceFallback  = "fallback"
)

// Report is a rendered daily report.
type Report struct {
	Date   string
	HTML   string
	Source string
	// GeneratorErr is set when the fallback was used because the generator
	// failed. It always wraps ErrGeneratorFailed.
	GeneratorErr error
}

// Renderer produces report HTML, preferring the generator.
type Renderer struct {
	Generator TextGenerator
	Timeout   time.Duration
}

// NewRenderer returns a renderer. A nil generator always uses the fallback.
func NewRenderer(gen TextGenerator, timeout time.Duration) *Renderer {
	return &Renderer{Generator: gen, Timeout: timeout}
}

// Render asks the generator for the report and falls back to the
// deterministic HTML on any failure: an error, a timeout, an empty reply or
// one that is not HTML. The returned report is never empty.
func (r *Renderer) Render(ctx context.Context, s DailySummary) (Report, error) {
	if r.Generator != nil {
		html, err := r.generate(ctx, s)
		if err == nil {
			return Report{Date: s.Date, HTML: html, Source: SourceGenerator}, nil
		}
		monitoring.Logf("report %s: %v, using fallback", s.Date, err)
		rep, ferr := r.fallback(s)
		rep.GeneratorErr = err
		return rep, ferr
	}
	return r.fallback(s)
}

func (r *Renderer) generate(ctx context.Context, s DailySummary) (string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	html, err := r.Generator.Generate(ctx, s)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneratorFailed, err)
	}
	html = strings.TrimSpace(html)
	if html == "" {
		return "", fmt.Errorf("%w: empty response", ErrGeneratorFailed)
	}
	if !strings.Contains(html, "<") {
		return "", fmt.Errorf("%w: response is not HTML", ErrGeneratorFailed)
	}
	return html, nil
}

func (r *Renderer) fallback(s DailySummary) (Report, error) {
	html, err := Fallback(s)
	if err != nil {
		return Report{}, err
	}
	return Report{Date: s.Date, HTML: html, Source: SourceFallback}, nil
}
