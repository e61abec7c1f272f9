package chain

import (
	"errors"
	"fmt"
	"stakeledger/internal/util"
	"strings"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrWrongNetwork      = errors.New("wrong network")
	ErrReverted          = errors.New("transaction reverted")
	ErrUnexpectedOutput  = errors.New("unexpected contract output")
	ErrTxNotFound        = errors.New("transaction not found")
	ErrNoStakeEvent      = errors.New("transaction created no stake")
	ErrUnconfirmed       = errors.New("transaction not confirmed")
)

// UnconfirmedError is returned by a write whose transaction was broadcast but
// not seen mined before the deadline. It may still land.
type UnconfirmedError struct {
	Method string
	TxHash string
	Err    error
}

func (e *UnconfirmedError) Error() string {
	return fmt.Sprintf("%s: %s: waiting for %s: %v", e.Method, ErrUnconfirmed, e.TxHash, e.Err)
}

func (e *UnconfirmedError) Unwrap() error {
	return e.Err
}

func (e *UnconfirmedError) Is(target error) bool {
	return target == ErrUnconfirmed
}

// classify wraps raw RPC errors with the sentinel a caller can act on.
func classify(method string, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient"):
		return fmt.Errorf("%s: %w: %v", method, ErrInsufficientFunds, err)
	case strings.Contains(msg, "invalid chain id") || strings.Contains(msg, "chain id mismatch"):
		return fmt.Errorf("%s: %w: %v", method, ErrWrongNetwork, err)
	case strings.Contains(msg, "execution reverted"):
		return fmt.Errorf("%s: %w: %v", method, ErrReverted, err)
	}
	return fmt.Errorf("%s: %w", method, err)
}

// IsTransient reports whether a failed call may succeed if repeated.
func IsTransient(err error) bool {
	if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrWrongNetwork) || errors.Is(err, ErrReverted) ||
		errors.Is(err, ErrUnconfirmed) || errors.Is(err, ErrTxNotFound) || errors.Is(err, ErrNoStakeEvent) {
		return false
	}
	return util.IsTransient(err)
}
