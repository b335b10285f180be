package keyboard

import (
	"log/slog"
	"strconv"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/clearity-bot/internal/funnel"
	"github.com/Proton-105/clearity-bot/internal/script"
)

// Callback uniques.
const (
	CallbackIntro   = "intro"
	CallbackRecover = "recover"
	CallbackSkip    = "skip"
	CallbackSlider  = "slider"
	CallbackOption  = "opt"
	CallbackField   = "field"
	CallbackSubmit  = "submit"
	CallbackCTA     = "cta"
)

// Intro choice values.
const (
	IntroAccept  = "yes"
	IntroDecline = "no"
)

const sliderButtonsPerRow = 6

// ContactFields lists the contact fields in the order they are asked.
var ContactFields = []string{funnel.FieldName, funnel.FieldEmail, funnel.FieldTelegram}

// Builder creates the inline keyboards of every funnel stage.
type Builder struct {
	script *script.Store
	log    *slog.Logger
}

// NewBuilder returns a new Builder instance.
func NewBuilder(store *script.Store, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{script: store, log: log}
}

// IntroChoice builds the yes/no buttons shown after the intro.
func (b *Builder) IntroChoice(visit uint64) (*telebot.ReplyMarkup, error) {
	c := b.script.Catalog()
	return NewInlineKeyboard().AddRow(
		InlineButton{Text: c.Text(script.KeyIntroAccept), Unique: CallbackIntro, Data: VisitData(visit, IntroAccept)},
		InlineButton{Text: c.Text(script.KeyIntroDecline), Unique: CallbackIntro, Data: VisitData(visit, IntroDecline)},
	).Build()
}

// Recover builds the single reconnect button of the terminated screen.
func (b *Builder) Recover(visit uint64) (*telebot.ReplyMarkup, error) {
	return b.single(script.KeyTerminatedRecover, CallbackRecover, visit)
}

// Skip builds the button that ends the transition early.
func (b *Builder) Skip(visit uint64) (*telebot.ReplyMarkup, error) {
	return b.single(script.KeyTransitionSkip, CallbackSkip, visit)
}

// Submit builds a lone submit button.
func (b *Builder) Submit(visit uint64) (*telebot.ReplyMarkup, error) {
	return b.single(script.KeySubmit, CallbackSubmit, visit)
}

// Slider builds the 0-10 scale with the current value marked, followed by submit.
func (b *Builder) Slider(visit uint64, value int) (*telebot.ReplyMarkup, error) {
	scale := make([]InlineButton, 0, funnel.SliderMax-funnel.SliderMin+1)
	for v := funnel.SliderMin; v <= funnel.SliderMax; v++ {
		label := strconv.Itoa(v)
		if v == value {
			label = "[" + label + "]"
		}
		scale = append(scale, InlineButton{Text: label, Unique: CallbackSlider, Data: VisitData(visit, strconv.Itoa(v))})
	}

	return NewInlineKeyboard().
		AddGrid(sliderButtonsPerRow, scale...).
		AddRow(b.submitButton(visit)).
		Build()
}

// Options builds one toggle per commitment option followed by submit.
func (b *Builder) Options(visit uint64, options, selected []string) (*telebot.ReplyMarkup, error) {
	mark := b.script.Catalog().Text(script.KeySelected)
	chosen := make(map[string]struct{}, len(selected))
	for _, s := range selected {
		chosen[s] = struct{}{}
	}

	kb := NewInlineKeyboard()
	for i, option := range options {
		label := option
		if _, ok := chosen[option]; ok {
			label = mark + " " + option
		}
		kb.AddRow(InlineButton{Text: label, Unique: CallbackOption, Data: VisitData(visit, strconv.Itoa(i))})
	}

	kb.AddRow(b.submitButton(visit))
	return kb.Build()
}

// Contact builds one button per contact field showing its value, followed by submit.
// The field currently awaiting input is marked.
func (b *Builder) Contact(visit uint64, form funnel.FormState, awaiting string) (*telebot.ReplyMarkup, error) {
	c := b.script.Catalog()
	values := map[string]string{
		funnel.FieldName:     form.Name,
		funnel.FieldEmail:    form.Email,
		funnel.FieldTelegram: form.Telegram,
	}

	kb := NewInlineKeyboard()
	for _, field := range ContactFields {
		label := c.Text(script.ContactFieldKey(field))
		if v := strings.TrimSpace(values[field]); v != "" {
			label += ": " + v
		}
		if field == awaiting {
			label = "› " + label
		}
		kb.AddRow(InlineButton{Text: label, Unique: CallbackField, Data: VisitData(visit, field)})
	}

	kb.AddRow(b.submitButton(visit))
	return kb.Build()
}

// CallToAction builds the scheduling button and, when communityURL is set, the community link.
func (b *Builder) CallToAction(visit uint64, communityURL string) (*telebot.ReplyMarkup, error) {
	c := b.script.Catalog()
	kb := NewInlineKeyboard().AddRow(InlineButton{Text: c.Text(script.KeyFinalCTA), Unique: CallbackCTA, Data: VisitData(visit, "")})
	if communityURL != "" {
		kb.AddRow(InlineButton{Text: c.Text(script.KeyFinalCommunity), URL: communityURL})
	}
	return kb.Build()
}

// Link builds a single link button.
func (b *Builder) Link(text, url string) (*telebot.ReplyMarkup, error) {
	return NewInlineKeyboard().AddRow(InlineButton{Text: text, URL: url}).Build()
}

func (b *Builder) single(key, unique string, visit uint64) (*telebot.ReplyMarkup, error) {
	return NewInlineKeyboard().AddRow(InlineButton{
		Text:   b.script.Catalog().Text(key),
		Unique: unique,
		Data:   VisitData(visit, ""),
	}).Build()
}

func (b *Builder) submitButton(visit uint64) InlineButton {
	return InlineButton{Text: b.script.Catalog().Text(script.KeySubmit), Unique: CallbackSubmit, Data: VisitData(visit, "")}
}
