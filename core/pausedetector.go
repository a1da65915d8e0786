package orchestration

import (
	"math"
	"time"
)

// pauseDetector smooths the recognizer's pause-probability signal with an
// exponential moving average whose attack and release coefficients are tuned
// independently, and classifies turn-end/turn-resume against two thresholds.
//
// Not safe for concurrent use; it is only ever touched from the
// orchestrator's control loop.
type pauseDetector struct {
	value float64

	attackCoeff  float64
	releaseCoeff float64

	pauseThreshold  float64
	resumeThreshold float64
}

type pauseDetectorConfig struct {
	// AttackTau and ReleaseTau are the time constants applied while the
	// signal is rising respectively falling.
	AttackTau  time.Duration
	ReleaseTau time.Duration
	// FrameInterval is the expected spacing of recognizer updates; the
	// per-update coefficients are derived from it.
	FrameInterval time.Duration

	PauseThreshold  float64
	ResumeThreshold float64
}

func defaultPauseDetectorConfig() pauseDetectorConfig {
	return pauseDetectorConfig{
		AttackTau:       500 * time.Millisecond,
		ReleaseTau:      300 * time.Millisecond,
		FrameInterval:   80 * time.Millisecond,
		PauseThreshold:  0.6,
		ResumeThreshold: 0.4,
	}
}

func newPauseDetector(config pauseDetectorConfig) *pauseDetector {
	return &pauseDetector{
		attackCoeff:     smoothingCoefficient(config.AttackTau, config.FrameInterval),
		releaseCoeff:    smoothingCoefficient(config.ReleaseTau, config.FrameInterval),
		pauseThreshold:  config.PauseThreshold,
		resumeThreshold: config.ResumeThreshold,
	}
}

func smoothingCoefficient(tau time.Duration, frameInterval time.Duration) float64 {
	if tau <= 0 {
		return 1
	}
	return 1 - math.Exp(-frameInterval.Seconds()/tau.Seconds())
}

// Update folds one pause-probability sample into the smoothed value and
// returns it.
func (d *pauseDetector) Update(probability float64) float64 {
	coeff := d.releaseCoeff
	if probability > d.value {
		coeff = d.attackCoeff
	}
	d.value += coeff * (probability - d.value)
	return d.value
}

// IsPaused reports whether the user has paused long enough to hand the turn
// to the assistant.
func (d *pauseDetector) IsPaused() bool { return d.value > d.pauseThreshold }

// IsResumed reports whether the user has started talking again while the
// assistant holds the turn.
func (d *pauseDetector) IsResumed() bool { return d.value < d.resumeThreshold }

func (d *pauseDetector) Reset() { d.value = 0 }

func (d *pauseDetector) Value() float64 { return d.value }
