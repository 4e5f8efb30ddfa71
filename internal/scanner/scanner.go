// Package scanner flags browser extensions and tooling that undermine
// proctoring, using only what an ordinary web page can observe.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kdimtricp/vproctor/internal/platform"
)

// ErrSuperseded is returned by a scan that a newer scan replaced before it
// could commit.
var (
	ErrSuperseded = errors.New("scan superseded by a newer scan")
	// ErrScanFailed means no probe produced a usable answer, so the page
	// cannot be reported clean.
	ErrScanFailed = errors.New("every environment probe failed")
)

type DetectedExtension struct {
	ID          string     `json:"id"`
	Category    Category   `json:"category"`
	Confidence  Confidence `json:"confidence"`
	Signature   string     `json:"signature"`
	Description string     `json:"description"`
}

type ExtensionScanResult struct {
	ScanID        uint64              `json:"scanId"`
	Extensions    []DetectedExtension `json:"extensions"`
	HasHighRisk   bool                `json:"hasHighRisk"`
	HasMediumRisk bool                `json:"hasMediumRisk"`
	ScanTime      time.Time           `json:"scanTime"`
	Duration      time.Duration       `json:"duration"`
	// FailedProbes names probes that errored; their findings are missing.
	FailedProbes []string `json:"failedProbes,omitempty"`
}

type Config struct {
	// BaitSettle is how long content blockers get to hide the bait.
	BaitSettle time.Duration
	// CleanupTimeout bounds bait removal after the scan context is gone.
	CleanupTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		BaitSettle:     150 * time.Millisecond,
		CleanupTimeout: 2 * time.Second,
	}
}

var defaultBaits = []platform.BaitSpec{
	{ID: "vp-bait-banner", ClassName: "adsbox ad-banner pub_300x250 text-ad textAd", Attrs: map[string]string{"data-ad-slot": "1"}},
	{ID: "vp-bait-google", ClassName: "adsbygoogle ad-placement sponsored-ad"},
}

type Scanner struct {
	page       platform.Page
	signatures *Signatures
	config     Config
	baits      []platform.BaitSpec

	current atomic.Uint64
	mu      sync.Mutex
	latest  *ExtensionScanResult
}

func New(page platform.Page, signatures *Signatures, config Config) *Scanner {
	if signatures == nil {
		signatures = DefaultSignatures()
	}
	def := DefaultConfig()
	if config.BaitSettle <= 0 {
		config.BaitSettle = def.BaitSettle
	}
	if config.CleanupTimeout <= 0 {
		config.CleanupTimeout = def.CleanupTimeout
	}
	return &Scanner{
		page:       page,
		signatures: signatures,
		config:     config,
		baits:      defaultBaits,
	}
}

// Latest returns the most recently committed result, or nil.
func (s *Scanner) Latest() *ExtensionScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Scan runs the global, DOM and bait probes in parallel. Starting a new
// scan invalidates any scan still in flight; the stale one returns
// ErrSuperseded and its findings are dropped.
func (s *Scanner) Scan(ctx context.Context) (*ExtensionScanResult, error) {
	id := s.current.Add(1)
	started := time.Now()

	probes := []struct {
		name string
		run  func(context.Context) ([]DetectedExtension, error)
	}{
		{"globals", s.probeGlobals},
		{"dom", s.probeSelectors},
		{"bait", s.probeBait},
	}

	found := make([][]DetectedExtension, len(probes))
	failures := make([]error, len(probes))
	var wg sync.WaitGroup
	for i, p := range probes {
		wg.Add(1)
		go func(i int, name string, run func(context.Context) ([]DetectedExtension, error)) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[SCAN] %s probe panicked: %v", name, r)
					failures[i] = fmt.Errorf("%s probe panicked: %v", name, r)
				}
			}()
			matches, err := run(ctx)
			if err != nil {
				log.Printf("[SCAN] %s probe failed: %v", name, err)
				failures[i] = fmt.Errorf("%s probe: %w", name, err)
			}
			found[i] = matches
		}(i, p.name, p.run)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var all []DetectedExtension
	var failed []string
	for i, matches := range found {
		all = append(all, matches...)
		if failures[i] != nil {
			failed = append(failed, probes[i].name)
		}
	}
	if len(failed) == len(probes) {
		log.Printf("[SCAN] Scan %d failed: no probe completed", id)
		return nil, fmt.Errorf("%w: %w", ErrScanFailed, errors.Join(failures...))
	}
	result := newResult(id, Dedupe(all), started)
	result.FailedProbes = failed

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.Load() != id {
		log.Printf("[SCAN] Discarding scan %d, superseded by %d", id, s.current.Load())
		return nil, ErrSuperseded
	}
	s.latest = result

	log.Printf("[SCAN] Scan %d found %d extension(s), high risk=%v, medium risk=%v, failed probes=%v",
		id, len(result.Extensions), result.HasHighRisk, result.HasMediumRisk, failed)
	return result, nil
}

func (s *Scanner) probeGlobals(ctx context.Context) ([]DetectedExtension, error) {
	var matches []DetectedExtension
	var errs []error

	webdriver, err := s.page.Webdriver(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("navigator.webdriver: %w", err))
	} else if webdriver {
		matches = append(matches, DetectedExtension{
			ID:          "webdriver",
			Category:    CategoryAutomation,
			Confidence:  ConfidenceHigh,
			Signature:   "navigator.webdriver",
			Description: "Browser is controlled by WebDriver automation",
		})
	}

	for _, sig := range s.signatures.Globals {
		ok, err := s.page.HasGlobal(ctx, sig.Name)
		if err != nil {
			errs = append(errs, fmt.Errorf("global %s: %w", sig.Name, err))
			continue
		}
		if ok {
			matches = append(matches, DetectedExtension{
				ID:          sig.ID,
				Category:    sig.Category,
				Confidence:  sig.Confidence,
				Signature:   "window." + sig.Name,
				Description: sig.Description,
			})
		}
	}
	return matches, errors.Join(errs...)
}

func (s *Scanner) probeSelectors(ctx context.Context) ([]DetectedExtension, error) {
	var matches []DetectedExtension
	var errs []error

	for _, sig := range s.signatures.Selectors {
		ok, err := s.page.MatchesSelector(ctx, sig.Selector)
		if err != nil {
			errs = append(errs, fmt.Errorf("selector %s: %w", sig.Selector, err))
			continue
		}
		if ok {
			matches = append(matches, DetectedExtension{
				ID:          sig.ID,
				Category:    sig.Category,
				Confidence:  sig.Confidence,
				Signature:   sig.Selector,
				Description: sig.Description,
			})
		}
	}
	return matches, errors.Join(errs...)
}

func (s *Scanner) probeBait(ctx context.Context) ([]DetectedExtension, error) {
	set, err := s.page.InsertBait(ctx, s.baits)
	if err != nil {
		return nil, fmt.Errorf("inserting bait: %w", err)
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.CleanupTimeout)
		defer cancel()
		if err := set.Remove(cleanupCtx); err != nil {
			log.Printf("[SCAN] Failed to remove bait elements: %v", err)
		}
	}()

	select {
	case <-time.After(s.config.BaitSettle):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	states, err := set.Inspect(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspecting bait: %w", err)
	}

	for _, st := range states {
		if st.Hidden || st.Width == 0 || st.Height == 0 || !st.HasParent {
			return []DetectedExtension{{
				ID:          "ad-blocker",
				Category:    CategoryAdBlocker,
				Confidence:  ConfidenceMedium,
				Signature:   "bait:" + st.ID,
				Description: "Content blocker hid advertisement bait",
			}}, nil
		}
	}
	return nil, nil
}

// Dedupe keeps the first entry for each extension id, preserving order.
func Dedupe(found []DetectedExtension) []DetectedExtension {
	seen := make(map[string]bool, len(found))
	out := make([]DetectedExtension, 0, len(found))
	for _, ext := range found {
		if seen[ext.ID] {
			continue
		}
		seen[ext.ID] = true
		out = append(out, ext)
	}
	return out
}

func newResult(id uint64, extensions []DetectedExtension, started time.Time) *ExtensionScanResult {
	result := &ExtensionScanResult{
		ScanID:     id,
		Extensions: extensions,
		ScanTime:   time.Now(),
		Duration:   time.Since(started),
	}
	for _, ext := range extensions {
		if ext.Confidence == ConfidenceHigh && (ext.Category == CategoryAutomation || ext.Category == CategoryScreenRecorder) {
			result.HasHighRisk = true
		}
		if ext.Confidence == ConfidenceHigh || ext.Confidence == ConfidenceMedium {
			result.HasMediumRisk = true
		}
	}
	return result
}
