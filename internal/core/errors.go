package core

import (
	"errors"
	"fmt"

	"github.com/Varsh1009/dnate-question-bot-backend/internal/store"
)

// Error kinds returned by the engine. Callers match them with errors.Is.
var (
	ErrNotFound              = errors.New("not found")
	ErrForbidden             = errors.New("forbidden")
	ErrInvalidState          = errors.New("invalid state")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrGenerationUnavailable = errors.New("generation unavailable")
	ErrStorageUnavailable    = errors.New("storage unavailable")
)

// storageError translates a store error into an engine error kind.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
}
