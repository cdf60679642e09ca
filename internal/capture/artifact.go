package capture

import (
	"time"

	"github.com/google/uuid"

	"github.com/satindergrewal/pitchcoach/internal/pitch"
)

// Artifact is the immutable result of a finished session. EncodedAudio is
// base64 in JSON.
type Artifact struct {
	ID             uuid.UUID      `json:"id"`
	EncodedAudio   []byte         `json:"encodedAudio"`
	MimeType       string         `json:"mimeType"`
	Samples        []pitch.Sample `json:"samples"`
	CleanedSamples []pitch.Sample `json:"cleanedSamples"`
	AveragePitch   *float64       `json:"averagePitch"`
	StartedAt      time.Time      `json:"startedAt"`
	Duration       time.Duration  `json:"duration"`
}
