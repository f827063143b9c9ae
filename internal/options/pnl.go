package options

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/havenark/wiggly/internal/model"
)

// Direction is the inferred market exposure of a trade.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// PnLResult carries a computed P&L alongside the prices as they should
// be reported: EntryPrice/ExitPrice always reflect true chronological
// order, regardless of which field the caller labeled "entry".
type PnLResult struct {
	PnL        decimal.Decimal `json:"pnl"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	IsProfit   bool            `json:"is_profit"` // pnl > 0; zero P&L is not profit
}

// TradeDirection infers long/short exposure from option type and position
// type. Buying a call or selling a put is bullish; selling a call or
// buying a put is bearish. Unrecognized option types fall back to long.
func TradeDirection(optionType, positionType string) Direction {
	switch optionType {
	case model.OptionCall:
		if positionType == model.PositionSell {
			return Short
		}
		return Long
	case model.OptionPut:
		if positionType == model.PositionSell {
			return Long
		}
		return Short
	default:
		return Long
	}
}

// ChronologicalPnL computes P&L with timestamp-order reconciliation.
//
// When both timestamps are present and the exit precedes the entry, the
// fields are assumed mislabeled rather than the trade genuinely
// backwards: the interpretation is swapped so the reported entry/exit
// reflect true chronological order. Without timestamps, positionType
// decides ("sell" opens short); with neither, standard long P&L.
func ChronologicalPnL(entryPrice, exitPrice decimal.Decimal, quantity int64, entryTime, exitTime *time.Time, positionType string) PnLResult {
	qty := decimal.NewFromInt(quantity)

	if entryTime != nil && exitTime != nil {
		if exitTime.Before(*entryTime) {
			pnl := entryPrice.Sub(exitPrice).Mul(qty)
			return PnLResult{
				PnL:        pnl,
				EntryPrice: exitPrice,
				ExitPrice:  entryPrice,
				IsProfit:   pnl.IsPositive(),
			}
		}
		pnl := exitPrice.Sub(entryPrice).Mul(qty)
		return PnLResult{
			PnL:        pnl,
			EntryPrice: entryPrice,
			ExitPrice:  exitPrice,
			IsProfit:   pnl.IsPositive(),
		}
	}

	if positionType == model.PositionSell {
		pnl := entryPrice.Sub(exitPrice).Mul(qty)
		return PnLResult{
			PnL:        pnl,
			EntryPrice: entryPrice,
			ExitPrice:  exitPrice,
			IsProfit:   pnl.IsPositive(),
		}
	}

	pnl := exitPrice.Sub(entryPrice).Mul(qty)
	return PnLResult{
		PnL:        pnl,
		EntryPrice: entryPrice,
		ExitPrice:  exitPrice,
		IsProfit:   pnl.IsPositive(),
	}
}

// OptionsPnL computes P&L for an options trade from its buy and sell
// legs. The economic P&L is always (sell - buy) * quantity; positionType
// only decides which leg is reported as the entry (a sell-to-open
// position enters at the sell price).
//
// optionType is accepted for context but does not change the arithmetic.
func OptionsPnL(buyPrice, sellPrice decimal.Decimal, quantity int64, optionType, positionType string) PnLResult {
	_ = optionType

	qty := decimal.NewFromInt(quantity)
	pnl := sellPrice.Sub(buyPrice).Mul(qty)

	entry, exit := buyPrice, sellPrice
	if positionType == model.PositionSell {
		entry, exit = sellPrice, buyPrice
	}

	return PnLResult{
		PnL:        pnl,
		EntryPrice: entry,
		ExitPrice:  exit,
		IsProfit:   pnl.IsPositive(),
	}
}
