// internal/apperror/app_errors.go
package apperror

import "errors"

// Rule violations. Expected and frequent; never change state.
var (
	ErrOutOfBounds       = errors.New("coordinate is outside the board")
	ErrWrongOwner        = errors.New("piece does not belong to you")
	ErrCaptureRequired   = errors.New("a capture is available and must be played")
	ErrIllegalMove       = errors.New("illegal move")
	ErrGameNotInProgress = errors.New("game is not in progress")
)

// Lifecycle conflicts.
var (
	ErrGameNotWaiting  = errors.New("game is not waiting for players")
	ErrGameFinished    = errors.New("game is already finished")
	ErrOpponentMissing = errors.New("game has no second player yet")
	ErrAlreadyInvited  = errors.New("game already has a second player")
	ErrAlreadyInRoom   = errors.New("connection is already in this room")
	ErrUserExists      = errors.New("email or username already taken")
)

// Authorization errors.
var (
	ErrNotYourTurn       = errors.New("it's not your turn")
	ErrNotParticipant    = errors.New("you are not a player in this game")
	ErrCannotInviteSelf  = errors.New("cannot invite yourself")
	ErrInvalidToken      = errors.New("invalid session token")
	ErrAlreadyAuthorized = errors.New("connection is already authenticated")
	ErrBadCredentials    = errors.New("invalid email or password")
)

// Protocol errors. Reported to the offending connection only.
var (
	ErrUnauthenticated    = errors.New("authentication required")
	ErrRateLimited        = errors.New("too many messages, please wait")
	ErrMessageTooLarge    = errors.New("message too large")
	ErrMalformedMessage   = errors.New("malformed message")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrInvalidChat        = errors.New("chat message is empty or too long")
)

// Resource not found.
var (
	ErrGameNotFound = errors.New("game not found")
	ErrUserNotFound = errors.New("user not found")
)

// ErrStorage wraps any failure of the persistence layer. It is the only fatal kind.
var ErrStorage = errors.New("storage failure")

// Kind groups errors by how callers must report them.
type Kind string

const (
	KindProtocol      Kind = "protocol"
	KindAuthorization Kind = "authorization"
	KindRule          Kind = "rule"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindFatal         Kind = "fatal"
)

var kinds = []struct {
	kind Kind
	errs []error
}{
	{KindFatal, []error{ErrStorage}},
	{KindRule, []error{ErrOutOfBounds, ErrWrongOwner, ErrCaptureRequired, ErrIllegalMove, ErrGameNotInProgress}},
	{KindConflict, []error{ErrGameNotWaiting, ErrGameFinished, ErrOpponentMissing, ErrAlreadyInvited, ErrAlreadyInRoom, ErrUserExists}},
	{KindAuthorization, []error{ErrNotYourTurn, ErrNotParticipant, ErrCannotInviteSelf, ErrInvalidToken, ErrAlreadyAuthorized, ErrBadCredentials}},
	{KindNotFound, []error{ErrGameNotFound, ErrUserNotFound}},
	{KindProtocol, []error{ErrUnauthenticated, ErrRateLimited, ErrMessageTooLarge, ErrMalformedMessage, ErrUnknownMessageType, ErrInvalidChat}},
}

// KindOf classifies err. Unknown errors are treated as fatal.
func KindOf(err error) Kind {
	for _, k := range kinds {
		for _, target := range k.errs {
			if errors.Is(err, target) {
				return k.kind
			}
		}
	}
	return KindFatal
}

// Reason returns the message that is safe to show a client.
// Fatal errors never leak their underlying cause.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	if KindOf(err) == KindFatal {
		return "internal server error"
	}
	for _, k := range kinds {
		for _, target := range k.errs {
			if errors.Is(err, target) {
				return target.Error()
			}
		}
	}
	return err.Error()
}
