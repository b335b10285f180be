package handlers

import (
	"errors"
	"log/slog"

	apperrors "github.com/Proton-105/clearity-bot/internal/errors"
	"github.com/Proton-105/clearity-bot/internal/funnel"
)

// settle turns a machine error into what the chat sees.
// Validation failures redraw the screen with messages; out-of-turn input is dropped.
func settle(m *funnel.Machine, view View, err error, log *slog.Logger) error {
	if err == nil {
		return nil
	}

	if _, ok := funnel.AsValidationErrors(err); ok {
		view.Refresh(m.Snapshot())
		return nil
	}

	switch {
	case errors.Is(err, funnel.ErrStaleVisit),
		errors.Is(err, funnel.ErrTransitionPending),
		errors.Is(err, funnel.ErrActionUnavailable),
		errors.Is(err, funnel.ErrInvalidTransition),
		errors.Is(err, funnel.ErrFieldLocked),
		errors.Is(err, funnel.ErrClosed),
		errors.Is(err, funnel.ErrNotStarted):
		log.Debug("input ignored", slog.Any("error", err))
		return nil
	case errors.Is(err, funnel.ErrOutOfRange), errors.Is(err, funnel.ErrUnknownOption):
		log.Warn("rejected input", slog.Any("error", err))
		return nil
	default:
		return apperrors.NewStageError(err)
	}
}

func ensureVisit(m *funnel.Machine, visit uint64) error {
	if m.Snapshot().Visit != visit {
		return funnel.ErrStaleVisit
	}
	return nil
}
