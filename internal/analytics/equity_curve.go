package analytics

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/yourusername/clever-backtest/internal/models"
)

// EquityPoint represents a point in the equity curve
type EquityPoint struct {
	Time     time.Time `json:"time"`
	Value    float64   `json:"value"`
	Drawdown float64   `json:"drawdown"`
	DailyPnL float64   `json:"daily_pnl"`
}

// EquityCurve represents a time-series of equity points
type EquityCurve []EquityPoint

// NewEquityCurve builds the curve from end-of-bar snapshots. The first point
// is the initial capital dated at the first snapshot, so the curve always has
// one more point than there are snapshots.
func NewEquityCurve(initial float64, snapshots []models.PortfolioState) EquityCurve {
	curve := make(EquityCurve, 0, len(snapshots)+1)
	start := time.Time{}
	if len(snapshots) > 0 {
		start = snapshots[0].Date
	}
	curve = append(curve, EquityPoint{Time: start, Value: initial})

	peak := initial
	prev := initial
	for _, s := range snapshots {
		value := s.Equity.InexactFloat64()
		if value > peak {
			peak = value
		}
		point := EquityPoint{Time: s.Date, Value: value, DailyPnL: value - prev}
		if peak > 0 {
			point.Drawdown = (peak - value) / peak
		}
		curve = append(curve, point)
		prev = value
	}
	return curve
}

// Returns calculates per-bar returns from the equity curve
func (e EquityCurve) Returns() []float64 {
	if len(e) < 2 {
		return []float64{}
	}
	returns := make([]float64, 0, len(e)-1)
	for i := 1; i < len(e); i++ {
		prev := e[i-1].Value
		curr := e[i].Value
		if prev == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, (curr-prev)/prev)
	}
	return returns
}

// MaxDrawdown returns the largest peak-to-trough relative decline
func (e EquityCurve) MaxDrawdown() float64 {
	maxDD := 0.0
	peak := 0.0
	for _, p := range e {
		if p.Value > peak {
			peak = p.Value
		}
		if peak == 0 {
			continue
		}
		if dd := (peak - p.Value) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// ToCSV exports equity curve to CSV string
func (e EquityCurve) ToCSV() string {
	var buf bytes.Buffer
	buf.WriteString("date,equity,drawdown,daily_pnl\n")
	for _, point := range e {
		buf.WriteString(point.Time.Format(models.DateLayout))
		buf.WriteString(",")
		buf.WriteString(formatFloat(point.Value))
		buf.WriteString(",")
		buf.WriteString(formatFloat(point.Drawdown))
		buf.WriteString(",")
		buf.WriteString(formatFloat(point.DailyPnL))
		buf.WriteString("\n")
	}
	return buf.String()
}

// ToJSON exports equity curve to JSON string
func (e EquityCurve) ToJSON() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
