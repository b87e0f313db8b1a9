package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/coterm/coterm-core/logger"
	"github.com/coterm/coterm-core/manager"
	"github.com/coterm/coterm-core/persist"
	"github.com/coterm/coterm-core/ratelimit"
	"github.com/coterm/coterm-core/security"
)

// userMessage maps an internal error to the text shown to the user. The full
// error, with paths and ids, goes to the log; the user sees enough to act on
// and nothing about where or how records are stored.
func userMessage(err error) string {
	log := logger.WithComponent("cli")
	log.Error("command failed", "error", err)

	var limitErr *ratelimit.LimitError
	if errors.As(err, &limitErr) {
		return fmt.Sprintf("too many resume attempts, try again in %s", limitErr.RetryAfter.Round(time.Second))
	}

	switch {
	case errors.Is(err, persist.ErrNotFound):
		return "no saved session with that id"
	case errors.Is(err, persist.ErrInvalidSignature):
		return "the saved session failed integrity verification and cannot be resumed"
	case errors.Is(err, persist.ErrUnsupportedSchema):
		return "the saved session was written by a newer version of coterm"
	case errors.Is(err, persist.ErrSaveInProgress):
		return "a save is already running for this session, try again in a moment"
	case errors.Is(err, persist.ErrRecordTooLarge):
		return "the session is too large to save"
	case errors.Is(err, persist.ErrStoreFull):
		return "saved session limit reached, delete old sessions first"
	case errors.Is(err, manager.ErrSessionLimitReached):
		return "too many active sessions, close one first"
	case errors.Is(err, manager.ErrSessionNotFound):
		return "no active session with that id"
	case errors.Is(err, manager.ErrSessionActive):
		return "that session is already active"
	case errors.Is(err, manager.ErrProjectPathInUse):
		return "another active session is already using that project directory"
	case errors.Is(err, manager.ErrNameTooLong):
		return fmt.Sprintf("session name is too long (max %d characters)", manager.MaxNameLength)
	case errors.Is(err, security.ErrProjectPathChanged):
		return "the project directory changed since it was validated, resume aborted"
	case errors.Is(err, security.ErrNotADirectory):
		return "the project path is not a directory"
	}

	return "operation failed, see the log for details"
}
