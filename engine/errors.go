package engine

import (
	"fmt"

	"github.com/wfunc/picklo/errs"
)

var (
	// ErrRaceLost means another session already applied the write. Callers
	// inside the engine swallow it.
	ErrRaceLost = fmt.Errorf("%w: lost race", errs.ErrConflict)

	ErrAlreadySubmitted = fmt.Errorf("%w: already submitted this round", errs.ErrConflict)
	ErrAlreadyVoted     = fmt.Errorf("%w: already voted this round", errs.ErrConflict)

	ErrNotHost          = fmt.Errorf("%w: only the host can do that", errs.ErrValidation)
	ErrNoHand           = fmt.Errorf("%w: no images left in hand", errs.ErrValidation)
	ErrImageUnavailable = fmt.Errorf("%w: image is not available", errs.ErrValidation)
	ErrSelfVote         = fmt.Errorf("%w: cannot vote for your own image", errs.ErrValidation)
	ErrHandsNotReady    = fmt.Errorf("%w: not every player has a full hand", errs.ErrValidation)
	ErrWrongPhase       = fmt.Errorf("%w: room is not in the right phase", errs.ErrValidation)
	ErrWrongStatus      = fmt.Errorf("%w: round is not in the right status", errs.ErrValidation)
	ErrNotInRoom        = fmt.Errorf("%w: player is not in this room", errs.ErrValidation)
)
