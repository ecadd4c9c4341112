package engine

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fjod/trophythreads/internal/domain"
)

// trackedAttempt logs and records every state change of one checkout attempt.
type trackedAttempt struct {
	*domain.Attempt
	recorder Recorder
	mode     domain.OrderMode
	logger   zerolog.Logger
}

func newTrackedAttempt(recorder Recorder, mode domain.OrderMode, owner domain.Owner) *trackedAttempt {
	return &trackedAttempt{
		Attempt:  domain.NewAttempt(),
		recorder: recorder,
		mode:     mode,
		logger:   log.With().Str("owner", owner.Key()).Str("mode", mode.String()).Logger(),
	}
}

func (a *trackedAttempt) to(next domain.AttemptState) {
	prev := a.State()
	if err := a.Transition(next); err != nil {
		a.logger.Error().Err(err).Str("from", prev.String()).Str("to", next.String()).Msg("checkout attempt transition")
		return
	}
	a.logger.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("checkout attempt transition")
	a.recorder.RecordAttempt(a.mode, next)
}

func (a *trackedAttempt) reject(cause error) {
	level := zerolog.WarnLevel
	if !domain.IsValidation(cause) && !domain.IsInsufficientStock(cause) {
		level = zerolog.ErrorLevel
	}
	a.logger.WithLevel(level).Err(cause).Str("state", a.State().String()).Msg("checkout attempt rejected")
	a.to(domain.AttemptRejected)
}
