// Package pipeline implements the serialized ASR -> Translate stage that
// turns one finalized utterance's PCM into a source transcript plus a
// per-target-language translation map.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"babblefish/internal/config"
	"babblefish/internal/langreg"
)

// Status mirrors the teacher's PipelineStatus tri-state, reduced to the
// two stage circuit breakers this pipeline actually runs (no per-stream
// health map: there are no long-lived streams to track, only permits).
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Health reports the pipeline's current operating condition for /healthz.
type Health struct {
	Status        Status        `json:"status"`
	ASR           BreakerStats  `json:"asr"`
	Translate     BreakerStats  `json:"translate"`
	PermitsInUse  int           `json:"permitsInUse"`
	PermitsTotal  int           `json:"permitsTotal"`
	TotalRequests int64         `json:"totalRequests"`
	TotalErrors   int64         `json:"totalErrors"`
	Uptime        time.Duration `json:"uptime"`
}

// FailureCause classifies which pipeline stage produced a
// TranscribeAndTranslate error, so callers (and operators reading logs)
// can tell an ASR outage apart from a translation outage instead of a
// single opaque failure.
type FailureCause string

const (
	CauseASR         FailureCause = "asr"
	CauseTranslation FailureCause = "translation"
)

// StageError wraps an underlying error with the pipeline stage that
// produced it.
type StageError struct {
	Cause FailureCause
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Cause, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// Result is one finalized utterance's processed output.
type Result struct {
	SourceLang   string
	SourceText   string
	Translations map[string]string // target short tag -> translation; missing key means that target failed
}

// ErrLanguageIndeterminate is returned when neither AWS's detected
// language nor the speaker's declared language resolves against the
// registry (§4.3 step 1).
var ErrLanguageIndeterminate = fmt.Errorf("source language indeterminate")

// transcribeClient and translateClient are the narrow seams Pipeline
// calls through. *transcriber and *textTranslator satisfy them against
// live AWS clients; tests substitute fakes to exercise failure paths
// (e.g. total translation failure) without a network call.
type transcribeClient interface {
	transcribe(ctx context.Context, pcm []float32) (transcribeResult, error)
}

type translateClient interface {
	translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// Pipeline is the single serialized ASR+Translate stage shared by every
// Room. Per spec §5/I2, TranscribeAndTranslate must not be invoked
// concurrently for overlapping calls beyond the configured permit count;
// the permits channel below is that enforcement, not just an
// optimization.
type Pipeline struct {
	transcriber      transcribeClient
	translator       translateClient
	cache            *translationCache
	asrBreaker       *CircuitBreaker
	translateBreaker *CircuitBreaker
	langs            *langreg.Registry

	permits  chan struct{}
	deadline time.Duration

	startTime     time.Time
	totalRequests int64
	totalErrors   int64

	closeOnce sync.Once
}

// New builds a Pipeline from configuration, loading AWS credentials and
// constructing the shared Transcribe/Translate clients per the teacher's
// NewPipeline.
func New(ctx context.Context, cfg *config.Config) (*Pipeline, error) {
	cl, err := newClients(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}

	langs := langreg.New()

	p := &Pipeline{
		transcriber:      newTranscriber(cl.transcribe, langs),
		translator:       newTextTranslator(cl.translate, langs),
		cache:            newTranslationCache(5*time.Minute, time.Minute),
		asrBreaker:       NewCircuitBreaker(DefaultCircuitBreakerConfig("asr")),
		translateBreaker: NewCircuitBreaker(DefaultCircuitBreakerConfig("translate")),
		langs:            langs,
		permits:          make(chan struct{}, cfg.Pipeline.Permits),
		deadline:         cfg.Pipeline.UtteranceDeadline,
		startTime:        time.Now(),
	}
	return p, nil
}

// TranscribeAndTranslate runs the blocking ASR->Translate contract of
// spec §4.3 for one finalized utterance: acquire a permit, transcribe the
// PCM, resolve the source language (falling back to the speaker's
// declared language when AWS's detection misses the registry), then
// translate into every remaining target in targets (the snapshot
// captured at job-acceptance time). The source language's own entry in
// Translations is the verbatim transcript with no translation call
// (step 2's identity mapping); a target that fails to translate is
// simply absent from Result.Translations (§7 partial failure
// semantics). The whole call fails on an ASR failure (including an open
// ASR breaker), a language-indeterminate result, or when every
// non-source target fails to translate.
func (p *Pipeline) TranscribeAndTranslate(ctx context.Context, pcm []float32, targets []string, declaredLang string) (*Result, error) {
	select {
	case p.permits <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-p.permits }()

	atomic.AddInt64(&p.totalRequests, 1)

	deadlineCtx := ctx
	var cancel context.CancelFunc
	if p.deadline > 0 {
		deadlineCtx, cancel = context.WithTimeout(ctx, p.deadline)
		defer cancel()
	}

	var asrResult transcribeResult
	err := p.asrBreaker.Execute(func() error {
		var transcribeErr error
		asrResult, transcribeErr = p.transcriber.transcribe(deadlineCtx, pcm)
		return transcribeErr
	})
	if err != nil {
		atomic.AddInt64(&p.totalErrors, 1)
		return nil, &StageError{Cause: CauseASR, Err: err}
	}

	if asrResult.text == "" {
		return &Result{Translations: map[string]string{}}, nil
	}

	sourceLang := asrResult.detectedShort
	if sourceLang == "" || !p.langs.IsSupported(sourceLang) {
		sourceLang = declaredLang
	}
	if !p.langs.IsSupported(sourceLang) {
		atomic.AddInt64(&p.totalErrors, 1)
		return nil, ErrLanguageIndeterminate
	}

	wanted := make(map[string]struct{}, len(targets))
	for _, target := range targets {
		if target != sourceLang {
			wanted[target] = struct{}{}
		}
	}

	translations := map[string]string{sourceLang: asrResult.text}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for target := range wanted {
		target := target
		wg.Add(1)
		go func() {
			defer wg.Done()
			text, ok := p.translateOne(deadlineCtx, asrResult.text, sourceLang, target)
			if !ok {
				return
			}
			mu.Lock()
			translations[target] = text
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Every non-source target failed: there is nothing useful to
	// broadcast, so this surfaces as a stage failure to the speaker
	// rather than a Result carrying only the identity entry.
	if len(wanted) > 0 && len(translations) == 1 {
		atomic.AddInt64(&p.totalErrors, 1)
		return nil, &StageError{
			Cause: CauseTranslation,
			Err:   fmt.Errorf("all %d target translations failed", len(wanted)),
		}
	}

	return &Result{SourceLang: sourceLang, SourceText: asrResult.text, Translations: translations}, nil
}

// translateOne resolves a single target through the cache, falling back
// to a live AWS Translate call under circuit-breaker protection. Returns
// ok=false on any failure, which the caller treats as a dropped key
// rather than an overall error (§7).
func (p *Pipeline) translateOne(ctx context.Context, text, source, target string) (string, bool) {
	if cached, ok := p.cache.Get(text, source, target); ok {
		return cached, true
	}

	var translated string
	err := p.translateBreaker.Execute(func() error {
		var translateErr error
		translated, translateErr = p.translator.translate(ctx, text, source, target)
		return translateErr
	})
	if err != nil {
		atomic.AddInt64(&p.totalErrors, 1)
		return "", false
	}

	p.cache.Put(text, source, target, translated)
	return translated, true
}

// Health reports a snapshot for /healthz, adapted from the teacher's
// Pipeline.GetHealth with the per-stream health map dropped: this
// pipeline has no long-lived streams, only a permit pool and two
// stage breakers (ASR, Translate) reported separately so an operator can
// tell which AWS service is degraded.
func (p *Pipeline) Health() *Health {
	asrStats := p.asrBreaker.Stats()
	translateStats := p.translateBreaker.Stats()

	status := worseStatus(stateStatus(asrStats.State), stateStatus(translateStats.State))

	return &Health{
		Status:        status,
		ASR:           asrStats,
		Translate:     translateStats,
		PermitsInUse:  len(p.permits),
		PermitsTotal:  cap(p.permits),
		TotalRequests: atomic.LoadInt64(&p.totalRequests),
		TotalErrors:   atomic.LoadInt64(&p.totalErrors),
		Uptime:        time.Since(p.startTime),
	}
}

func stateStatus(state string) Status {
	switch state {
	case StateOpen:
		return StatusUnhealthy
	case StateHalfOpen:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

var statusRank = map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}

func worseStatus(a, b Status) Status {
	if statusRank[b] > statusRank[a] {
		return b
	}
	return a
}

// Languages exposes the pipeline's language registry so the transport
// layer can validate a join request's declared language before admission.
func (p *Pipeline) Languages() *langreg.Registry {
	return p.langs
}

// Close releases the pipeline's background cache-cleanup goroutine.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		p.cache.Close()
	})
}
