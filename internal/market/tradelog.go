package market

import (
	"fmt"
	"strings"

	"github.com/GoSim-25-26J-441/evolution-core/pkg/models"
	"github.com/GoSim-25-26J-441/evolution-core/pkg/utils"
)

// TradeLog is the result of a logged replay
type TradeLog struct {
	BuyDays       []int               `json:"buy_days"`
	SellDays      []int               `json:"sell_days"`
	Events        []models.TradeEvent `json:"events"`
	InitialMoney  float64             `json:"initial_money"`
	FinalMoney    float64             `json:"final_money"`
	TotalGained   float64             `json:"total_gained"`
	InvestmentPct float64             `json:"investment_pct"`
	OpenQuantity  float64             `json:"open_quantity"`
	OpenPositions int                 `json:"open_positions"`
}

func (l *TradeLog) recordBuy(day int, units, cost, balance float64) {
	l.BuyDays = append(l.BuyDays, day)
	l.Events = append(l.Events, models.TradeEvent{
		Day:        day,
		Action:     models.ActionBuy.String(),
		Units:      units,
		PriceTotal: cost,
		Balance:    balance,
	})
}

func (l *TradeLog) recordSell(day int, units, proceeds, balance, investPct float64) {
	l.SellDays = append(l.SellDays, day)
	l.Events = append(l.Events, models.TradeEvent{
		Day:           day,
		Action:        models.ActionSell.String(),
		Units:         units,
		PriceTotal:    proceeds,
		Balance:       balance,
		InvestmentPct: &investPct,
	})
}

func (l *TradeLog) finish(cash, quantity float64, openPositions int) {
	l.FinalMoney = cash
	l.TotalGained = cash - l.InitialMoney
	l.InvestmentPct = utils.PercentChange(l.InitialMoney, cash)
	l.OpenQuantity = quantity
	l.OpenPositions = openPositions
}

// Summary renders the end-of-replay line
func (l *TradeLog) Summary() string {
	return fmt.Sprintf("total gained %f, total investment %f %%", l.TotalGained, l.InvestmentPct)
}

// String renders every trade record followed by a blank line and the summary
func (l *TradeLog) String() string {
	var b strings.Builder
	for _, e := range l.Events {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString(l.Summary())
	return b.String()
}
