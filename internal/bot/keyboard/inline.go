package keyboard

import (
	"fmt"

	telebot "gopkg.in/telebot.v3"
)

// InlineButton is a button definition. URL buttons open a link; the rest carry Unique and Data
// encoded as callback data.
type InlineButton struct {
	Text   string
	Unique string
	Data   string
	URL    string
}

func (b InlineButton) render() (telebot.InlineButton, error) {
	if b.URL != "" {
		return telebot.InlineButton{Text: b.Text, URL: b.URL}, nil
	}

	data, err := EncodeCallback(b.Unique, b.Data)
	if err != nil {
		return telebot.InlineButton{}, fmt.Errorf("button %q: %w", b.Text, err)
	}
	return telebot.InlineButton{Text: b.Text, Data: data}, nil
}

// InlineKeyboardBuilder collects rows of buttons and renders them as inline markup.
type InlineKeyboardBuilder struct {
	rows [][]InlineButton
}

// NewInlineKeyboard creates an empty builder.
func NewInlineKeyboard() *InlineKeyboardBuilder {
	return &InlineKeyboardBuilder{}
}

// AddRow appends one row. Empty rows are skipped.
func (b *InlineKeyboardBuilder) AddRow(buttons ...InlineButton) *InlineKeyboardBuilder {
	if len(buttons) > 0 {
		b.rows = append(b.rows, append([]InlineButton(nil), buttons...))
	}
	return b
}

// AddGrid lays buttons out left to right, perRow at a time.
func (b *InlineKeyboardBuilder) AddGrid(perRow int, buttons ...InlineButton) *InlineKeyboardBuilder {
	if perRow <= 0 {
		perRow = len(buttons)
	}
	for start := 0; start < len(buttons); start += perRow {
		b.AddRow(buttons[start:min(start+perRow, len(buttons))]...)
	}
	return b
}

// Rows returns the number of rows added so far.
func (b *InlineKeyboardBuilder) Rows() int {
	return len(b.rows)
}

// Build renders the markup. It fails when any callback exceeds Telegram's data limit.
func (b *InlineKeyboardBuilder) Build() (*telebot.ReplyMarkup, error) {
	markup := make([][]telebot.InlineButton, len(b.rows))
	for i, row := range b.rows {
		markup[i] = make([]telebot.InlineButton, len(row))
		for j, btn := range row {
			rendered, err := btn.render()
			if err != nil {
				return nil, err
			}
			markup[i][j] = rendered
		}
	}

	return &telebot.ReplyMarkup{InlineKeyboard: markup}, nil
}
