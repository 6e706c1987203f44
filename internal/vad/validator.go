package vad

import (
	"errors"

	"github.com/glossalabs/glossa-core/internal/config"
)

// Reject reasons surfaced by Validate. Rejections are expected on a live
// stream and are logged at low severity by the caller, never delivered.
var (
	ErrTooShort       = errors.New("segment below minimum duration")
	ErrTooFewVoiced   = errors.New("segment has too few voiced frames")
	ErrLowVoicedRatio = errors.New("segment voiced ratio below minimum")
	ErrNoiseShaped    = errors.New("segment energy profile looks like noise")
)

// Validator is the statistical gate in front of the expensive engines.
type Validator struct {
	cfg config.AudioConfig
}

func NewValidator(cfg config.AudioConfig) *Validator {
	return &Validator{cfg: cfg}
}

// Validate returns nil when the segment is speech-shaped, or a reject
// reason otherwise.
func (v *Validator) Validate(seg *Segment) error {
	if seg == nil || seg.Frames() == 0 {
		return ErrTooShort
	}
	if seg.DurationMS() < int64(v.cfg.MinSegmentMS) {
		return ErrTooShort
	}

	var voiced int
	var maxRMS, sumRMS float64
	for _, rms := range seg.FrameRMS {
		if rms >= v.cfg.RMSThreshold {
			voiced++
		}
		if rms > maxRMS {
			maxRMS = rms
		}
		sumRMS += rms
	}
	avgRMS := sumRMS / float64(seg.Frames())

	if voiced < v.cfg.MinVoicedFrames {
		return ErrTooFewVoiced
	}
	if float64(voiced)/float64(seg.Frames()) < v.cfg.MinVoicedRatio {
		return ErrLowVoicedRatio
	}
	if maxRMS < v.cfg.RMSThreshold*v.cfg.PeakFactor {
		return ErrNoiseShaped
	}
	if avgRMS < v.cfg.RMSThreshold*v.cfg.AverageFactor {
		return ErrNoiseShaped
	}
	return nil
}
