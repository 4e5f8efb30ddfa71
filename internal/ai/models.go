package ai

import (
	"fmt"
	"log"
)

type Config struct {
	GoogleVisionKey string
	OpenAIAPIKey    string
	// MinFaceSize is the smallest accepted face box edge in source pixels.
	MinFaceSize int
	// EdgeMargin is the fraction of the frame dimension a face center must
	// stay away from every edge.
	EdgeMargin float64
	// MatchThreshold is the similarity at or above which two faces are the
	// same person.
	MatchThreshold float64
}

func NewConfig() *Config {
	return &Config{
		MinFaceSize:    80,
		EdgeMargin:     0.10,
		MatchThreshold: 0.75,
	}
}

func (c *Config) withDefaults() *Config {
	out := *c
	def := NewConfig()
	if out.MinFaceSize <= 0 {
		out.MinFaceSize = def.MinFaceSize
	}
	if out.EdgeMargin <= 0 {
		out.EdgeMargin = def.EdgeMargin
	}
	if out.MatchThreshold <= 0 {
		out.MatchThreshold = def.MatchThreshold
	}
	return &out
}

// NewFaceModel picks the configured inference backend.
func NewFaceModel(config *Config) (FaceModel, error) {
	if config.GoogleVisionKey == "" {
		return nil, fmt.Errorf("no face detection backend configured (set GOOGLE_VISION_API_KEY)")
	}
	log.Printf("Face detection backend: Google Vision (API key)")
	return NewGoogleVisionClient(config.GoogleVisionKey), nil
}

// NewIdentityMatcher returns nil when identity matching is not configured;
// the monitor then skips FACE_MISMATCH checks.
func NewIdentityMatcher(config *Config) IdentityMatcher {
	if config.OpenAIAPIKey == "" {
		log.Printf("Identity matching disabled (no OpenAI API key)")
		return nil
	}
	log.Printf("Identity matching enabled (OpenAI vision)")
	return NewOpenAIClient(config.OpenAIAPIKey, config.withDefaults().MatchThreshold)
}
