package settle

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/updownlabs/updown/internal/domain"
)

// DefaultFeeRate is the platform fee charged on the total pot of decided
// outcomes. Draws are fee-free and refund both stakes.
var DefaultFeeRate = decimal.NewFromFloat(0.05)

// Outcome determines one side's result from the sign of the price change. A
// zero change is a draw for both sides.
func Outcome(direction domain.Direction, lockedPrice, finalPrice float64) domain.BetResult {
	change := finalPrice - lockedPrice
	switch {
	case change == 0:
		return domain.BetResultDraw
	case direction == domain.DirectionUp && change > 0,
		direction == domain.DirectionDown && change < 0:
		return domain.BetResultWin
	default:
		return domain.BetResultLoss
	}
}

// forResult computes the settlement record for a side given its result. Both
// sides stake equally, so the pot is twice the stake:
//
//	WIN:  payout = pot - fee, fee = pot * feeRate
//	LOSS: payout = 0, fee = 0 (the fee is carried on the winning row)
//	DRAW: payout = own stake refunded, fee = 0
func forResult(stake decimal.Decimal, result domain.BetResult, finalPrice float64, feeRate decimal.Decimal, at time.Time) domain.Settlement {
	s := domain.Settlement{
		Result:      result,
		FinalPrice:  finalPrice,
		FinalizedAt: at,
		Payout:      decimal.Zero,
		Fee:         decimal.Zero,
	}
	switch result {
	case domain.BetResultWin:
		pot := stake.Mul(decimal.NewFromInt(2))
		s.Fee = pot.Mul(feeRate)
		s.Payout = pot.Sub(s.Fee)
	case domain.BetResultDraw:
		s.Payout = stake
	}
	return s
}

// Compute settles one side from its own direction and locked price against
// the common final price.
func Compute(bet domain.Bet, finalPrice float64, feeRate decimal.Decimal, at time.Time) domain.Settlement {
	result := Outcome(bet.Direction, bet.LockedPrice, finalPrice)
	return forResult(bet.Stake, result, finalPrice, feeRate, at)
}

// ComputeMirror settles the opposite side of a pairing from the first side's
// already-computed result, so both sides always come from one source
// computation: WIN mirrors to LOSS, LOSS to WIN, DRAW to DRAW.
func ComputeMirror(peer domain.Bet, firstResult domain.BetResult, finalPrice float64, feeRate decimal.Decimal, at time.Time) domain.Settlement {
	return forResult(peer.Stake, firstResult.Mirror(), finalPrice, feeRate, at)
}
