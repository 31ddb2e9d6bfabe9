package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures for callers and transport adapters
type ErrorKind string

const (
	KindInvalidBet            ErrorKind = "invalid_bet"
	KindInsufficientBalance   ErrorKind = "insufficient_balance"
	KindInsufficientFreeSpins ErrorKind = "insufficient_free_spins"
	KindConfiguration         ErrorKind = "configuration_error"
	KindRngUnavailable        ErrorKind = "rng_unavailable"
	KindSettlementFailed      ErrorKind = "settlement_failed"
	KindNotFound              ErrorKind = "not_found"
	KindGameUnavailable       ErrorKind = "game_unavailable"
)

// Error is the typed error returned by the engine
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind when target carries no message,
// so errors.Is(err, ErrInvalidBet) works for every invalid bet.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Message == "" && t.Err == nil {
		return e.Kind == t.Kind
	}
	return e == t
}

// Kind sentinels, compared with errors.Is
var (
	ErrInvalidBet            = &Error{Kind: KindInvalidBet}
	ErrInsufficientBalance   = &Error{Kind: KindInsufficientBalance}
	ErrInsufficientFreeSpins = &Error{Kind: KindInsufficientFreeSpins}
	ErrConfiguration         = &Error{Kind: KindConfiguration}
	ErrRngUnavailable        = &Error{Kind: KindRngUnavailable}
	ErrSettlementFailed      = &Error{Kind: KindSettlementFailed}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrGameUnavailable       = &Error{Kind: KindGameUnavailable}
)

// InvalidBet reports a bet rejected before any draw
func InvalidBet(format string, args ...any) error {
	return &Error{Kind: KindInvalidBet, Message: fmt.Sprintf(format, args...)}
}

// InsufficientBalance reports a balance below the total wager
func InsufficientBalance(format string, args ...any) error {
	return &Error{Kind: KindInsufficientBalance, Message: fmt.Sprintf(format, args...)}
}

// InsufficientFreeSpins reports a free-spin request without a usable grant
func InsufficientFreeSpins(format string, args ...any) error {
	return &Error{Kind: KindInsufficientFreeSpins, Message: fmt.Sprintf(format, args...)}
}

// ConfigurationError reports a game whose configuration cannot be played
func ConfigurationError(format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing game, user or record
func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// GameUnavailable reports a disabled game or halted gaming
func GameUnavailable(format string, args ...any) error {
	return &Error{Kind: KindGameUnavailable, Message: fmt.Sprintf(format, args...)}
}

// RngUnavailable wraps an entropy failure
func RngUnavailable(err error) error {
	return &Error{Kind: KindRngUnavailable, Message: "random source unavailable", Err: err}
}

// SettlementFailed wraps a failed settlement transaction
func SettlementFailed(err error) error {
	var de *Error
	if errors.As(err, &de) && de.Kind == KindSettlementFailed {
		return err
	}
	return &Error{Kind: KindSettlementFailed, Message: "settlement failed", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when none
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
