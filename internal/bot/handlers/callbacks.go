package handlers

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/clearity-bot/internal/bot/keyboard"
	"github.com/Proton-105/clearity-bot/internal/funnel"
	"github.com/Proton-105/clearity-bot/internal/script"
)

// press is one decoded button press.
type press struct {
	machine *funnel.Machine
	view    View
	visit   uint64
	value   string
}

// Callbacks handles the inline buttons of every stage.
type Callbacks struct {
	rt    Runtime
	store *script.Store
	log   *slog.Logger
}

// NewCallbacks creates the callback handlers.
func NewCallbacks(rt Runtime, store *script.Store, log *slog.Logger) *Callbacks {
	if log == nil {
		log = slog.Default()
	}
	return &Callbacks{rt: rt, store: store, log: log}
}

// Intro handles the yes/no choice.
func (h *Callbacks) Intro() CallbackHandler {
	return h.handle(func(p press) error {
		switch p.value {
		case keyboard.IntroAccept:
			_, err := p.machine.AdvanceVisit(p.visit, funnel.TriggerAccept)
			return err
		case keyboard.IntroDecline:
			_, err := p.machine.AdvanceVisit(p.visit, funnel.TriggerDecline)
			return err
		default:
			return fmt.Errorf("%w: intro choice %q", funnel.ErrInvalidTransition, p.value)
		}
	})
}

// Recover handles the reconnect button.
func (h *Callbacks) Recover() CallbackHandler {
	return h.handle(func(p press) error {
		_, err := p.machine.AdvanceVisit(p.visit, funnel.TriggerRecover)
		return err
	})
}

// Skip ends the transition early.
func (h *Callbacks) Skip() CallbackHandler {
	return h.handle(func(p press) error {
		return p.machine.Elapse(p.visit)
	})
}

// Slider sets the value of the current calibration stage.
func (h *Callbacks) Slider() CallbackHandler {
	return h.handle(func(p press) error {
		if err := ensureVisit(p.machine, p.visit); err != nil {
			return err
		}

		value, err := strconv.Atoi(p.value)
		if err != nil {
			return fmt.Errorf("%w: %q", funnel.ErrOutOfRange, p.value)
		}

		switch p.machine.Stage() {
		case funnel.StageCalibration1:
			err = p.machine.SetChaosLevel(value)
		case funnel.StageCalibration2:
			err = p.machine.SetFailureRate(value)
		default:
			err = funnel.ErrActionUnavailable
		}
		if err != nil {
			return err
		}

		p.view.Refresh(p.machine.Snapshot())
		return nil
	})
}

// Option toggles a commitment option by its index.
func (h *Callbacks) Option() CallbackHandler {
	return h.handle(func(p press) error {
		idx, err := strconv.Atoi(p.value)
		if err != nil {
			return fmt.Errorf("%w: index %q", funnel.ErrUnknownOption, p.value)
		}

		if err := p.machine.ToggleOption(p.visit, idx); err != nil {
			return err
		}

		p.view.Refresh(p.machine.Snapshot())
		return nil
	})
}

// Field selects which contact field the next message fills.
func (h *Callbacks) Field() CallbackHandler {
	return h.handle(func(p press) error {
		if err := ensureVisit(p.machine, p.visit); err != nil {
			return err
		}
		if !slices.Contains(keyboard.ContactFields, p.value) {
			return fmt.Errorf("%w: %s", funnel.ErrFieldLocked, p.value)
		}
		if p.machine.Stage() != funnel.StageContact {
			return funnel.ErrActionUnavailable
		}

		p.view.Await(p.value)
		p.view.Refresh(p.machine.Snapshot())
		return nil
	})
}

// Submit submits the current stage.
func (h *Callbacks) Submit() CallbackHandler {
	return h.handle(func(p press) error {
		_, err := p.machine.AdvanceVisit(p.visit, funnel.TriggerSubmit)
		return err
	})
}

// CallToAction opens the scheduling link.
func (h *Callbacks) CallToAction() CallbackHandler {
	return h.handle(func(p press) error {
		if err := ensureVisit(p.machine, p.visit); err != nil {
			return err
		}
		_, err := p.machine.ActivateCallToAction()
		return err
	})
}

func (h *Callbacks) handle(fn func(p press) error) CallbackHandler {
	return func(c telebot.Context) error {
		cb := c.Callback()
		if cb == nil {
			return nil
		}
		if err := c.Respond(); err != nil {
			h.log.Debug("failed to answer callback", slog.Any("error", err))
		}

		unique, data, err := keyboard.DecodeCallback(cb.Data)
		if err != nil {
			h.log.Warn("invalid callback data", slog.String("data", cb.Data), slog.Any("error", err))
			return nil
		}
		visit, value, err := keyboard.DecodeVisit(data)
		if err != nil {
			h.log.Warn("invalid callback visit", slog.String("unique", unique), slog.Any("error", err))
			return nil
		}

		chatID, ok := ChatID(c)
		if !ok {
			return nil
		}
		machine, view, ok := h.rt.Lookup(chatID)
		if !ok {
			return c.Send(h.store.Catalog().Text(script.KeyUnknownCommand))
		}

		err = fn(press{machine: machine, view: view, visit: visit, value: value})
		return settle(machine, view, err, h.log.With(slog.String("unique", unique), slog.Int64("chat_id", chatID)))
	}
}
