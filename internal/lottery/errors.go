package lottery

import (
	"errors"
	"fmt"

	"raffle/internal/token"
)

// Every error below rejects the whole transition; none leaves partial state.
var (
	ErrInvalidRound        = errors.New("lottery: invalid round state")
	ErrInvalidAmount       = errors.New("lottery: amount must be positive")
	ErrInsufficientFunds   = errors.New("lottery: payment does not match")
	ErrWalletLimitExceeded = errors.New("lottery: wallet ticket limit exceeded")
	ErrUnknownToken        = token.ErrUnknownToken
	ErrNothingToClaim      = errors.New("lottery: nothing to claim")
	ErrArithmeticOverflow  = token.ErrOverflow
	ErrInvalidConfig       = errors.New("lottery: invalid round config")
	ErrUnauthorized        = errors.New("lottery: unauthorized")
	ErrConservation        = errors.New("lottery: allocation does not conserve funds")
)

// SendError reports a Send that failed after its first Sent transfers went out.
type SendError struct {
	Sent int
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("sent %d transfers before failing: %v", e.Sent, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
