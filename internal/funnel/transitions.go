package funnel

// transitions contains every permitted (stage, trigger) pair and its target stage.
var transitions = map[Stage]map[Trigger]Stage{
	StagePreBoot: {
		TriggerElapsed: StageIntro,
	},
	StageIntro: {
		TriggerAccept:  StageTransition,
		TriggerDecline: StageTerminated,
	},
	StageTerminated: {
		TriggerRecover: StageIntro,
	},
	StageTransition: {
		TriggerElapsed: StageCalibration1,
	},
	StageCalibration1: {
		TriggerSubmit: StageCalibration2,
	},
	StageCalibration2: {
		TriggerSubmit: StageCalibration2Thinking,
	},
	StageCalibration2Thinking: {
		TriggerElapsed: StageCognition1,
	},
	StageCognition1: {
		TriggerSubmit: StageCognition2,
	},
	StageCognition2: {
		TriggerSubmit: StageCommitment,
	},
	StageCommitment: {
		TriggerSubmit: StageContact,
	},
	StageContact: {
		TriggerSubmit: StageFinalThinking,
	},
	StageFinalThinking: {
		TriggerElapsed: StageFinal,
	},
}

// Next returns the stage reached from stage on trigger.
func Next(stage Stage, trigger Trigger) (Stage, bool) {
	byTrigger, ok := transitions[stage]
	if !ok {
		return stage, false
	}

	next, ok := byTrigger[trigger]
	if !ok {
		return stage, false
	}

	return next, true
}

// IsTransitionAllowed reports whether moving from one stage to another is valid.
func IsTransitionAllowed(from, to Stage) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}

	return false
}

// Triggers lists the triggers accepted by stage.
func Triggers(stage Stage) []Trigger {
	byTrigger := transitions[stage]
	triggers := make([]Trigger, 0, len(byTrigger))
	for _, t := range []Trigger{TriggerSubmit, TriggerAccept, TriggerDecline, TriggerRecover, TriggerElapsed} {
		if _, ok := byTrigger[t]; ok {
			triggers = append(triggers, t)
		}
	}
	return triggers
}
