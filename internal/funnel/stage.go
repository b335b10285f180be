// Package funnel implements the Clearity stage machine: the ordered, branchable sequence of
// funnel stages, the form state it accumulates and the checkpoints fired along the way.
package funnel

// Stage identifies a point in the funnel.
type Stage string

const (
	// StagePreBoot plays the boot sequence before the entity speaks.
	StagePreBoot Stage = "preBoot"
	// StageIntro introduces the entity and offers the yes/no choice.
	StageIntro Stage = "intro"
	// StageTransition plays the transition media after the visitor accepts.
	StageTransition Stage = "transition"
	// StageTerminated is the decline dead-end; it can only recover to intro.
	StageTerminated Stage = "terminated"
	// StageCalibration1 asks for the chaos level slider.
	StageCalibration1 Stage = "calibration1"
	// StageCalibration2 asks for the failure rate slider.
	StageCalibration2 Stage = "calibration2"
	// StageCalibration2Thinking shows the thinking sequence after calibration.
	StageCalibration2Thinking Stage = "calibration2Thinking"
	// StageCognition1 asks how the visitor fights mental noise.
	StageCognition1 Stage = "cognition1"
	// StageCognition2 asks how the entity could assist.
	StageCognition2 Stage = "cognition2"
	// StageCommitment asks which contributions the visitor is prepared to make.
	StageCommitment Stage = "commitment"
	// StageContact collects name and contact handles.
	StageContact Stage = "contact"
	// StageFinalThinking shows the closing thinking sequence.
	StageFinalThinking Stage = "finalThinking"
	// StageFinal is terminal and reveals the call to action.
	StageFinal Stage = "final"
)

// HappyPath lists the stages visited when the visitor accepts and answers everything.
var HappyPath = []Stage{
	StagePreBoot,
	StageIntro,
	StageTransition,
	StageCalibration1,
	StageCalibration2,
	StageCalibration2Thinking,
	StageCognition1,
	StageCognition2,
	StageCommitment,
	StageContact,
	StageFinalThinking,
	StageFinal,
}

// AllStages returns every stage, happy path first and the decline branch last.
func AllStages() []Stage {
	stages := make([]Stage, 0, len(HappyPath)+1)
	stages = append(stages, HappyPath...)
	return append(stages, StageTerminated)
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	for _, known := range AllStages() {
		if known == s {
			return true
		}
	}
	return false
}

// TimerDriven reports whether the stage leaves on its own once its timer expires.
func (s Stage) TimerDriven() bool {
	switch s {
	case StagePreBoot, StageTransition, StageCalibration2Thinking, StageFinalThinking:
		return true
	default:
		return false
	}
}

// Terminal reports whether no transition leaves the stage.
func (s Stage) Terminal() bool {
	return s == StageFinal
}

func (s Stage) String() string {
	return string(s)
}

// Trigger is the stimulus that makes the machine evaluate the current stage.
type Trigger string

const (
	// TriggerSubmit is an explicit submit of the stage's input.
	TriggerSubmit Trigger = "submit"
	// TriggerAccept is the "yes" branch choice.
	TriggerAccept Trigger = "accept"
	// TriggerDecline is the "no" branch choice.
	TriggerDecline Trigger = "decline"
	// TriggerRecover returns from the decline dead-end.
	TriggerRecover Trigger = "recover"
	// TriggerElapsed is a timer expiry, a finished thinking sequence or a media threshold.
	TriggerElapsed Trigger = "elapsed"
)

// Effect names the decorative effect played while a delayed transition is pending.
type Effect string

const (
	EffectNone          Effect = ""
	EffectNeuralPulse   Effect = "neural_pulse"
	EffectGeometricCube Effect = "geometric_cube"
	EffectDataParticles Effect = "data_particles"
	EffectNeuralCircuit Effect = "neural_circuit"
	EffectScanLine      Effect = "scan_line"
)

// effectBySource maps the stage being left to the effect it plays.
var effectBySource = map[Stage]Effect{
	StageCalibration1: EffectNeuralPulse,
	StageCalibration2: EffectGeometricCube,
	StageCognition1:   EffectDataParticles,
	StageCognition2:   EffectGeometricCube,
	StageCommitment:   EffectNeuralCircuit,
	StageContact:      EffectScanLine,
}

// EffectFor returns the effect played when leaving stage.
func EffectFor(stage Stage) Effect {
	return effectBySource[stage]
}
