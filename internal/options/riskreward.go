package options

import (
	"sort"
	"strconv"
	"strings"

	"github.com/havenark/wiggly/internal/model"
)

// RatioStat is the per-bucket win rate for one literal ratio string.
// "1:2" and "2:4" are distinct buckets even though they parse equal.
type RatioStat struct {
	Ratio   string  `json:"ratio"`
	Count   int     `json:"count"`
	WinRate float64 `json:"win_rate"`
}

// RiskRewardStats aggregates risk:reward over a trade collection.
type RiskRewardStats struct {
	TotalTrades      int         `json:"total_trades"`
	AvgRatio         float64     `json:"avg_ratio"`
	ProfitableRatios []RatioStat `json:"profitable_ratios"`
}

// maxProfitableRatios caps the number of buckets reported.
const maxProfitableRatios = 5

// ParseRiskRewardRatio parses "risk:reward" or "risk/reward" and returns
// reward/risk. Returns 0 on malformed input, non-numeric components, or
// zero risk — never an error.
func ParseRiskRewardRatio(ratio string) float64 {
	s := strings.TrimSpace(ratio)

	sep := ":"
	if !strings.Contains(s, sep) {
		sep = "/"
	}

	parts := strings.Split(s, sep)
	if len(parts) != 2 {
		return 0
	}

	risk, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0
	}
	reward, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0
	}
	if risk == 0 {
		return 0
	}

	return reward / risk
}

// ComputeRiskRewardStats filters to trades carrying a ratio string,
// averages the parseable ratios, and ranks the literal ratio buckets by
// win rate (pnl > 0 counts as a win). At most five buckets are returned,
// sorted descending by win rate.
func ComputeRiskRewardStats(trades []model.Trade) RiskRewardStats {
	var withRatio []model.Trade
	for _, t := range trades {
		if strings.TrimSpace(t.RiskReward) != "" {
			withRatio = append(withRatio, t)
		}
	}

	stats := RiskRewardStats{
		TotalTrades:      len(withRatio),
		ProfitableRatios: []RatioStat{},
	}
	if len(withRatio) == 0 {
		return stats
	}

	var sum float64
	var parsed int
	type bucket struct {
		count int
		wins  int
	}
	buckets := make(map[string]*bucket)

	for _, t := range withRatio {
		if r := ParseRiskRewardRatio(t.RiskReward); r != 0 {
			sum += r
			parsed++
		}

		b, ok := buckets[t.RiskReward]
		if !ok {
			b = &bucket{}
			buckets[t.RiskReward] = b
		}
		b.count++
		if t.PnL.IsPositive() {
			b.wins++
		}
	}

	if parsed > 0 {
		stats.AvgRatio = sum / float64(parsed)
	}

	ratios := make([]RatioStat, 0, len(buckets))
	for ratio, b := range buckets {
		ratios = append(ratios, RatioStat{
			Ratio:   ratio,
			Count:   b.count,
			WinRate: float64(b.wins) / float64(b.count) * 100,
		})
	}

	// Deterministic order: win rate desc, then count desc, then ratio.
	sort.Slice(ratios, func(i, j int) bool {
		if ratios[i].WinRate != ratios[j].WinRate {
			return ratios[i].WinRate > ratios[j].WinRate
		}
		if ratios[i].Count != ratios[j].Count {
			return ratios[i].Count > ratios[j].Count
		}
		return ratios[i].Ratio < ratios[j].Ratio
	})

	if len(ratios) > maxProfitableRatios {
		ratios = ratios[:maxProfitableRatios]
	}
	stats.ProfitableRatios = ratios

	return stats
}
