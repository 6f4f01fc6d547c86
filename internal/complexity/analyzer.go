package complexity

import (
	"strings"
	"unicode"

	"github.com/fedutinova/timegrid/internal/preprocess"
)

// Level buckets the complexity score.
type Level string

const (
	LevelSimple  Level = "simple"
	LevelMedium  Level = "medium"
	LevelComplex Level = "complex"
)

// Backend is the recommended extraction path.
type Backend string

const (
	BackendStructured Backend = "structured"
	BackendVision     Backend = "vision"
	BackendHybrid     Backend = "hybrid"
)

// Result is the deterministic classification of a preprocessed artifact.
type Result struct {
	Level       Level    `json:"level"`
	Score       float64  `json:"score"`
	Reasons     []string `json:"reasons"`
	Recommended Backend  `json:"recommended"`
}

// Factor weights. The weighted sum lands in [0,1].
const (
	weightLowOCRConfidence = 0.25
	weightHandwriting      = 0.30
	weightComplexLayout    = 0.15
	weightScannedPDF       = 0.05
	weightImageQuality     = 0.05
)

const (
	thresholdSimple = 0.30
	thresholdMedium = 0.60
)

// Analyzer scores artifacts. Pure and deterministic: the same artifact always
// classifies identically.
type Analyzer struct{}

func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Classify assigns a complexity level and a recommended backend.
func (a *Analyzer) Classify(artifact *preprocess.ProcessedArtifact) Result {
	var score float64
	var reasons []string
	handwriting := false

	if c := lowOCRConfidence(artifact.Text); c > 0 {
		score += c * weightLowOCRConfidence
		reasons = append(reasons, "low OCR confidence")
	}
	if h := handwritingIndicators(artifact.Text); h > 0 {
		score += h * weightHandwriting
		handwriting = true
		reasons = append(reasons, "handwriting indicators present")
	}
	if l := complexLayout(artifact.Text); l > 0 {
		score += l * weightComplexLayout
		reasons = append(reasons, "complex layout")
	}
	if artifact.MimeType == "application/pdf" && len(strings.TrimSpace(artifact.Text)) < 50 {
		score += weightScannedPDF
		reasons = append(reasons, "scanned PDF without text layer")
	}
	if q := imageQuality(artifact); q > 0 {
		score += q * weightImageQuality
		reasons = append(reasons, "image quality")
	}

	level := LevelSimple
	switch {
	case score >= thresholdMedium:
		level = LevelComplex
	case score >= thresholdSimple:
		level = LevelMedium
	}

	recommended := BackendStructured
	switch {
	case level == LevelComplex || handwriting:
		recommended = BackendVision
	case level == LevelMedium:
		recommended = BackendHybrid
	}

	if len(reasons) == 0 {
		reasons = append(reasons, "clean machine-printed text")
	}

	return Result{
		Level:       level,
		Score:       score,
		Reasons:     reasons,
		Recommended: recommended,
	}
}

// lowOCRConfidence infers recognition quality from text statistics:
// punctuation noise, stray single characters and vowel-less "words" are what
// tesseract produces on poor sources.
func lowOCRConfidence(text string) float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}

	var punct, total int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			punct++
		}
	}
	if total == 0 {
		return 0
	}

	words := strings.Fields(text)
	var single, vowelless int
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?()[]")
		if len(w) == 1 && unicode.IsLetter(rune(w[0])) {
			single++
		}
		if len(w) >= 3 && isAlpha(w) && !containsVowel(w) {
			vowelless++
		}
	}

	punctRatio := float64(punct) / float64(total)
	singleRatio := ratio(single, len(words))
	vowellessRatio := ratio(vowelless, len(words))

	var c float64
	if punctRatio > 0.25 {
		c += 0.4
	}
	if singleRatio > 0.2 {
		c += 0.3
	}
	if vowellessRatio > 0.15 {
		c += 0.3
	}
	if c > 1 {
		c = 1
	}
	return c
}

// handwritingIndicators looks for mid-word capitalization jitter combined
// with glyphs OCR typically confuses on cursive input.
func handwritingIndicators(text string) float64 {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}

	var mixedCase int
	for _, w := range words {
		if len(w) < 3 || !isAlpha(w) {
			continue
		}
		// capital letters after the first position
		for _, r := range w[1:] {
			if unicode.IsUpper(r) {
				mixedCase++
				break
			}
		}
	}

	confusion := 0
	for _, g := range []string{"|", "l1", "1l", "0O", "O0", "rn", "cl"} {
		confusion += strings.Count(text, g)
	}

	mixedRatio := ratio(mixedCase, len(words))
	if mixedRatio > 0.15 && confusion > 2 {
		return 1
	}
	if mixedRatio > 0.3 {
		return 0.6
	}
	return 0
}

// complexLayout flags OCR text whose lines are unusually short, which is what
// a multi-column or dense grid collapses into.
func complexLayout(text string) float64 {
	lines := strings.Split(text, "\n")
	var total, count int
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		total += len(l)
		count++
	}
	if count < 3 {
		return 0
	}
	avg := float64(total) / float64(count)
	if avg < 12 {
		return 1
	}
	if avg < 20 {
		return 0.5
	}
	return 0
}

// imageQuality is a stub: it contributes a fixed amount whenever image
// evidence is present. Measuring blur or DPI would need an image-science
// dependency nothing else here uses; the constant keeps the factor's slot in
// the weighted sum.
func imageQuality(artifact *preprocess.ProcessedArtifact) float64 {
	if artifact.HasImage() {
		return 0.5
	}
	return 0
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return len(s) > 0
}

func containsVowel(s string) bool {
	return strings.ContainsAny(strings.ToLower(s), "aeiouy")
}
