package funnel

import (
	"errors"
	"fmt"
	"slices"
)

const (
	// SliderMin is the lowest slider value.
	SliderMin = 0
	// SliderMax is the highest slider value.
	SliderMax = 10
	// DefaultSliderValue is used when the visitor never touches a slider.
	DefaultSliderValue = 5
)

// Field names, shared by validation errors, analytics and the submission payload.
const (
	FieldChaosLevel   = "chaosLevel"
	FieldFailureRate  = "failureRate"
	FieldFightNoise   = "fightNoise"
	FieldAssistance   = "assistance"
	FieldContribution = "contribution"
	FieldName         = "name"
	FieldEmail        = "email"
	FieldTelegram     = "telegram"
)

var (
	// ErrOutOfRange indicates a slider value outside SliderMin..SliderMax.
	ErrOutOfRange = errors.New("slider value out of range")
	// ErrUnknownOption indicates a contribution option that is not offered.
	ErrUnknownOption = errors.New("unknown contribution option")
)

// fieldOwner records which stage may write each field.
var fieldOwner = map[string]Stage{
	FieldChaosLevel:   StageCalibration1,
	FieldFailureRate:  StageCalibration2,
	FieldFightNoise:   StageCognition1,
	FieldAssistance:   StageCognition2,
	FieldContribution: StageCommitment,
	FieldName:         StageContact,
	FieldEmail:        StageContact,
	FieldTelegram:     StageContact,
}

// OwnerOf returns the stage that owns field.
func OwnerOf(field string) (Stage, bool) {
	stage, ok := fieldOwner[field]
	return stage, ok
}

// FormState accumulates every answer captured during a session.
type FormState struct {
	ChaosLevel   int      `json:"chaosLevel"`
	FailureRate  int      `json:"failureRate"`
	FightNoise   string   `json:"fightNoise"`
	Assistance   string   `json:"assistance"`
	Contribution []string `json:"contribution"`
	Name         string   `json:"name"`
	Email        string   `json:"email"`
	Telegram     string   `json:"telegram"`
}

// NewFormState returns a form with both sliders at their default.
func NewFormState() FormState {
	return FormState{
		ChaosLevel:   DefaultSliderValue,
		FailureRate:  DefaultSliderValue,
		Contribution: []string{},
	}
}

// Clone returns a deep copy of the form.
func (f FormState) Clone() FormState {
	copied := f
	copied.Contribution = slices.Clone(f.Contribution)
	if copied.Contribution == nil {
		copied.Contribution = []string{}
	}
	return copied
}

// Selected reports whether option is currently selected.
func (f FormState) Selected(option string) bool {
	return slices.Contains(f.Contribution, option)
}

// Toggle selects option, or removes it when already selected. Remaining options keep their order.
func (f *FormState) Toggle(option string) {
	if idx := slices.Index(f.Contribution, option); idx >= 0 {
		f.Contribution = slices.Delete(f.Contribution, idx, idx+1)
		return
	}
	f.Contribution = append(f.Contribution, option)
}

func setSlider(dst *int, value int) error {
	if value < SliderMin || value > SliderMax {
		return fmt.Errorf("%w: %d", ErrOutOfRange, value)
	}
	*dst = value
	return nil
}
