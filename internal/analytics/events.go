// Package analytics delivers funnel checkpoints to analytics backends.
package analytics

// Event names understood by the analytics backend.
const (
	EventJourneyStarted   = "journey_started"
	EventJourneyDeclined  = "journey_declined"
	EventJourneyCompleted = "journey_completed"

	EventStageEntered   = "stage_entered"
	EventStageCompleted = "stage_completed"

	EventCalibration1Submitted = "calibration_1_submitted"
	EventCalibration2Submitted = "calibration_2_submitted"
	EventCognition1Submitted   = "cognition_1_submitted"
	EventCognition2Submitted   = "cognition_2_submitted"
	EventCommitmentSubmitted   = "commitment_submitted"
	EventContactInfoSubmitted  = "contact_info_submitted"

	EventAlignmentCallClicked = "alignment_call_clicked"
)

// Events lists every event name in a stable order.
func Events() []string {
	return []string{
		EventJourneyStarted,
		EventJourneyDeclined,
		EventJourneyCompleted,
		EventStageEntered,
		EventStageCompleted,
		EventCalibration1Submitted,
		EventCalibration2Submitted,
		EventCognition1Submitted,
		EventCognition2Submitted,
		EventCommitmentSubmitted,
		EventContactInfoSubmitted,
		EventAlignmentCallClicked,
	}
}

// Properties is a flat mapping of event attributes. Values are primitives or []string.
type Properties map[string]any

// Clone returns a shallow copy with string slices duplicated.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}

	copied := make(Properties, len(p))
	for k, v := range p {
		if list, ok := v.([]string); ok {
			v = append([]string(nil), list...)
		}
		copied[k] = v
	}
	return copied
}
