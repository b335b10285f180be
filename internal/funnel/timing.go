package funnel

import "time"

// Timing holds every delay the machine schedules.
type Timing struct {
	// Auto-advance delays for timer-driven stages.
	PreBoot              time.Duration
	Transition           time.Duration
	Calibration2Thinking time.Duration
	FinalThinking        time.Duration

	// MediaThreshold is the playback position that ends the transition stage early.
	MediaThreshold time.Duration

	// Effect windows keyed by the stage being entered.
	EffectCalibration2  time.Duration
	EffectCognition2    time.Duration
	EffectCommitment    time.Duration
	EffectContact       time.Duration
	EffectFinalThinking time.Duration
}

// DefaultTiming returns the reference timing: three thinking lines at 1.5s plus a 0.5s settle.
func DefaultTiming() Timing {
	thinking := 3*1500*time.Millisecond + 500*time.Millisecond

	return Timing{
		PreBoot:              thinking,
		Transition:           4 * time.Second,
		Calibration2Thinking: thinking,
		FinalThinking:        thinking,
		MediaThreshold:       3 * time.Second,
		EffectCalibration2:   2 * time.Second,
		EffectCognition2:     2 * time.Second,
		EffectCommitment:     2 * time.Second,
		EffectContact:        1500 * time.Millisecond,
		EffectFinalThinking:  1500 * time.Millisecond,
	}
}

// AutoDelay returns how long a timer-driven stage lasts before it advances on its own.
func (t Timing) AutoDelay(stage Stage) time.Duration {
	switch stage {
	case StagePreBoot:
		return t.PreBoot
	case StageTransition:
		return t.Transition
	case StageCalibration2Thinking:
		return t.Calibration2Thinking
	case StageFinalThinking:
		return t.FinalThinking
	default:
		return 0
	}
}

// EffectDelay returns the effect window that precedes entering target.
func (t Timing) EffectDelay(target Stage) time.Duration {
	switch target {
	case StageCalibration2:
		return t.EffectCalibration2
	case StageCognition2:
		return t.EffectCognition2
	case StageCommitment:
		return t.EffectCommitment
	case StageContact:
		return t.EffectContact
	case StageFinalThinking:
		return t.EffectFinalThinking
	default:
		return 0
	}
}
