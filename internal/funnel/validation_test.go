package funnel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	filled := NewFormState()
	filled.FightNoise = "meditation"
	filled.Assistance = "focus"
	filled.Contribution = []string{"Join the community"}
	filled.Name = "Ada"
	filled.Email = "ada@example.com"
	filled.Telegram = "@ada"

	testCases := []struct {
		name   string
		stage  Stage
		mutate func(f *FormState)
		want   ValidationErrors
	}{
		{name: "cognition1 empty", stage: StageCognition1, mutate: func(f *FormState) { f.FightNoise = "" }, want: ValidationErrors{FieldFightNoise: MsgResponseRequired}},
		{name: "cognition1 whitespace", stage: StageCognition1, mutate: func(f *FormState) { f.FightNoise = " \n\t " }, want: ValidationErrors{FieldFightNoise: MsgResponseRequired}},
		{name: "cognition1 filled", stage: StageCognition1},
		{name: "cognition2 empty", stage: StageCognition2, mutate: func(f *FormState) { f.Assistance = "   " }, want: ValidationErrors{FieldAssistance: MsgResponseRequired}},
		{name: "commitment empty", stage: StageCommitment, mutate: func(f *FormState) { f.Contribution = nil }, want: ValidationErrors{FieldContribution: MsgSelectAtLeastOne}},
		{name: "commitment selected", stage: StageCommitment},
		{
			name:  "contact all missing",
			stage: StageContact,
			mutate: func(f *FormState) {
				f.Name, f.Email, f.Telegram = "", " ", "\t"
			},
			want: ValidationErrors{
				FieldName:     MsgNameRequired,
				FieldEmail:    MsgContactRequired,
				FieldTelegram: MsgContactMethodRequired,
			},
		},
		{name: "contact missing telegram", stage: StageContact, mutate: func(f *FormState) { f.Telegram = "" }, want: ValidationErrors{FieldTelegram: MsgContactMethodRequired}},
		{name: "slider stage never fails", stage: StageCalibration1, mutate: func(f *FormState) { f.FightNoise = "" }},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			form := filled.Clone()
			if tc.mutate != nil {
				tc.mutate(&form)
			}

			got := Validate(tc.stage, form)
			if tc.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestValidationErrorsError(t *testing.T) {
	errs := ValidationErrors{FieldName: MsgNameRequired, FieldEmail: MsgContactRequired}
	assert.Equal(t, "validation failed: email: contact required, name: name required", errs.Error())

	got, ok := AsValidationErrors(error(errs))
	require.True(t, ok)
	assert.Equal(t, errs, got)
}

func TestFormStateToggle(t *testing.T) {
	form := NewFormState()
	assert.Equal(t, DefaultSliderValue, form.ChaosLevel)
	assert.Equal(t, DefaultSliderValue, form.FailureRate)

	form.Toggle("Spread the signal")
	assert.Equal(t, []string{"Spread the signal"}, form.Contribution)

	form.Toggle("Spread the signal")
	assert.NotContains(t, form.Contribution, "Spread the signal")
	assert.Empty(t, form.Contribution)

	form.Toggle("Share ideas and insights")
	form.Toggle("Join the community")
	form.Toggle("Other")
	form.Toggle("Join the community")
	assert.Equal(t, []string{"Share ideas and insights", "Other"}, form.Contribution)
}

func TestFormStateCloneIsDeep(t *testing.T) {
	form := NewFormState()
	form.Toggle("Other")

	copied := form.Clone()
	copied.Toggle("Join the community")

	assert.Equal(t, []string{"Other"}, form.Contribution)
	assert.Equal(t, []string{"Other", "Join the community"}, copied.Contribution)
}
