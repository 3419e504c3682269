package text

// Config holds the tunables for text post-processing: custom-word
// correction and dedup thresholds.
type Config struct {
	CustomWords             []string
	WordCorrectionThreshold float64
	DedupSimilarityThreshold float64
	DedupOverlapThresholdMs  int64
}

// DefaultConfig matches the documented defaults.
func DefaultConfig() Config {
	return Config{
		CustomWords:              nil,
		WordCorrectionThreshold:  0.21,
		DedupSimilarityThreshold: defaultSimilarityThreshold,
		DedupOverlapThresholdMs:  defaultOverlapThresholdMs,
	}
}

// Normalize clamps out-of-range values silently rather than rejecting them,
// per the configuration-error policy.
func (c *Config) Normalize() {
	if c.WordCorrectionThreshold <= 0 || c.WordCorrectionThreshold > 1 {
		c.WordCorrectionThreshold = 0.21
	}
	if c.DedupSimilarityThreshold <= 0 || c.DedupSimilarityThreshold > 1 {
		c.DedupSimilarityThreshold = defaultSimilarityThreshold
	}
	if c.DedupOverlapThresholdMs <= 0 {
		c.DedupOverlapThresholdMs = defaultOverlapThresholdMs
	}
}

// Processor bundles the configured thresholds so callers (the
// transcription engine, the session loop) do not have to thread raw
// numbers through every call.
type Processor struct {
	cfg Config
}

// New builds a Processor from cfg, normalizing it first.
func New(cfg Config) *Processor {
	cfg.Normalize()
	return &Processor{cfg: cfg}
}

// ProcessRaw runs the full post-ASR pipeline in the order the engine's
// decoding contract requires: custom-word correction first (so filler
// removal and hallucination checks see corrected words), then filtering.
func (p *Processor) ProcessRaw(rawText string) string {
	corrected := CorrectCustomWords(rawText, p.cfg.CustomWords, p.cfg.WordCorrectionThreshold)
	return FilterTranscriptionOutput(corrected)
}

// RemovePrefixOverlap exposes the package function with this processor's
// default minimum overlap of 2 words.
func (p *Processor) RemovePrefixOverlap(newText, prev string) string {
	return RemovePrefixOverlap(newText, prev, defaultMinOverlapWords)
}

// IsDuplicate exposes the package function using this processor's
// configured dedup thresholds.
func (p *Processor) IsDuplicate(newText string, newStart, newEnd int64, existingText string, existingStart, existingEnd int64) bool {
	return IsDuplicate(newText, newStart, newEnd, existingText, existingStart, existingEnd,
		p.cfg.DedupSimilarityThreshold, p.cfg.DedupOverlapThresholdMs)
}
