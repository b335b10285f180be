package keyboard_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/clearity-bot/internal/bot/keyboard"
)

func TestEncodeCallback(t *testing.T) {
	tests := []struct {
		name    string
		unique  string
		data    string
		want    string
		wantErr error
	}{
		{name: "unique with visit and value", unique: "slider", data: "4:7", want: "slider:4:7"},
		{name: "bare unique", unique: "cta", want: "cta"},
		{name: "separator in unique", unique: "a:b", wantErr: keyboard.ErrInvalidUnique},
		{name: "empty unique", unique: "", data: "1", wantErr: keyboard.ErrInvalidUnique},
		{name: "over the limit", unique: "opt", data: strings.Repeat("9", keyboard.MaxCallbackData), wantErr: keyboard.ErrCallbackTooLong},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := keyboard.EncodeCallback(tc.unique, tc.data)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeCallbackSplitsAtFirstSeparator(t *testing.T) {
	unique, data, err := keyboard.DecodeCallback("field:12:email")
	require.NoError(t, err)
	assert.Equal(t, "field", unique)
	assert.Equal(t, "12:email", data)

	unique, data, err = keyboard.DecodeCallback("cta")
	require.NoError(t, err)
	assert.Equal(t, "cta", unique)
	assert.Empty(t, data)

	_, _, err = keyboard.DecodeCallback("")
	assert.ErrorIs(t, err, keyboard.ErrEmptyCallback)
}

func TestVisitData(t *testing.T) {
	visit, value, err := keyboard.DecodeVisit(keyboard.VisitData(42, "email"))
	require.NoError(t, err)
	assert.EqualValues(t, 42, visit)
	assert.Equal(t, "email", value)

	visit, value, err = keyboard.DecodeVisit(keyboard.VisitData(7, ""))
	require.NoError(t, err)
	assert.EqualValues(t, 7, visit)
	assert.Empty(t, value)

	_, _, err = keyboard.DecodeVisit("abc")
	assert.Error(t, err)
}
