// Package tts defines the Provider interface for speech synthesis backends
// that render one NPC line at a time to an audio file.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"time"
)

// Voice describes how an NPC should sound.
type Voice struct {
	// Reference is a path to a reference clip for voice cloning. Empty uses
	// the backend's default voice.
	Reference string

	// Emotion is an emotion tag such as "neutral", "joy" or "anger".
	Emotion string

	// Intensity in [0, 1] scales the emotion. Zero means 0.5.
	Intensity float64

	// Pace in [0.5, 2] scales speaking speed. Zero means 1.
	Pace float64
}

// Result describes a synthesised clip.
type Result struct {
	// AudioPath locates the rendered audio on the synthesis host.
	AudioPath string

	// Duration is the playback length.
	Duration time.Duration

	// Model names the backend model that rendered the clip.
	Model string

	// GenerationTime is the backend's reported render time.
	GenerationTime time.Duration
}

// Provider is the abstraction over any speech synthesis backend.
type Provider interface {
	// Synthesize renders text in voice. It returns an error if the backend
	// fails or ctx is cancelled.
	Synthesize(ctx context.Context, text string, voice Voice) (Result, error)
}
