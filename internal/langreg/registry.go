// Package langreg owns the only mapping between client-facing language
// tags and the model-facing tags the ASR/Translate collaborators expect.
package langreg

import "fmt"

// ErrUnsupportedLanguage is returned by Resolve for a short tag not in
// the static table.
type ErrUnsupportedLanguage struct {
	Short string
}

func (e *ErrUnsupportedLanguage) Error() string {
	return fmt.Sprintf("unsupported language: %q", e.Short)
}

// Tag pairs the client-visible short tag with the model tags consumed by
// the ASR and Translate collaborators. AWS Transcribe uses a
// language-region code (e.g. "en-US") while AWS Translate uses the bare
// language code (e.g. "en"), so the two are kept as distinct fields; this
// also lets a future model swap (e.g. a Flores-style tag for an offline
// NMT engine) avoid touching call sites.
type Tag struct {
	Short          string
	TranscribeCode string
	TranslateCode  string
}

// Registry is an immutable, built-once lookup between short tags and
// model tags. The zero value is not usable; construct with New.
type Registry struct {
	byShort map[string]Tag
	// byTranscribe maps the ASR's detected-language code back to our
	// short tag, used only when the ASR reports a detected source.
	byTranscribe map[string]string
}

// defaultTable is the static set of languages this deployment supports.
// Loaded once at process start; never mutated afterward.
var defaultTable = []Tag{
	{Short: "en", TranscribeCode: "en-US", TranslateCode: "en"},
	{Short: "es", TranscribeCode: "es-ES", TranslateCode: "es"},
	{Short: "fr", TranscribeCode: "fr-FR", TranslateCode: "fr"},
	{Short: "de", TranscribeCode: "de-DE", TranslateCode: "de"},
	{Short: "ja", TranscribeCode: "ja-JP", TranslateCode: "ja"},
	{Short: "ko", TranscribeCode: "ko-KR", TranslateCode: "ko"},
	{Short: "zh", TranscribeCode: "zh-CN", TranslateCode: "zh"},
}

// New builds a Registry from the built-in static table.
func New() *Registry {
	return NewFromTable(defaultTable)
}

// NewFromTable builds a Registry from an explicit table; exported mainly
// so tests can exercise a reduced or synthetic language set.
func NewFromTable(table []Tag) *Registry {
	r := &Registry{
		byShort:      make(map[string]Tag, len(table)),
		byTranscribe: make(map[string]string, len(table)),
	}
	for _, t := range table {
		r.byShort[t.Short] = t
		r.byTranscribe[t.TranscribeCode] = t.Short
	}
	return r
}

// Resolve returns the model tags for a client-facing short tag.
func (r *Registry) Resolve(short string) (Tag, error) {
	t, ok := r.byShort[short]
	if !ok {
		return Tag{}, &ErrUnsupportedLanguage{Short: short}
	}
	return t, nil
}

// ShortForTranscribeCode maps an ASR-detected language code back to our
// short tag, or ("", false) if the ASR returned something outside the
// table (§4.1: the pipeline then falls back to the speaker's declared
// language rather than treating this as fatal).
func (r *Registry) ShortForTranscribeCode(code string) (string, bool) {
	short, ok := r.byTranscribe[code]
	return short, ok
}

// Supported returns every short tag this registry knows.
func (r *Registry) Supported() []string {
	out := make([]string, 0, len(r.byShort))
	for short := range r.byShort {
		out = append(out, short)
	}
	return out
}

// IsSupported reports whether short is in the registry.
func (r *Registry) IsSupported(short string) bool {
	_, ok := r.byShort[short]
	return ok
}

// TranscribeCodes returns every AWS Transcribe language code this
// registry knows, for use as the LanguageOptions of an
// IdentifyLanguage-enabled streaming transcription.
func (r *Registry) TranscribeCodes() []string {
	out := make([]string, 0, len(r.byShort))
	for _, t := range r.byShort {
		out = append(out, t.TranscribeCode)
	}
	return out
}
