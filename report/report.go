package report

import (
	"sort"

	"bookflow/models"
)

// OrderReport summarises the realised outcome of a single order from
// its fills. Only orders that sold something appear in a report: an
// order that merely accumulated has no realised result yet.
type OrderReport struct {
	OrderID       int64   `json:"orderId"`
	Symbol        string  `json:"symbol"`
	BuyCost       float64 `json:"buyCost"`
	SellValue     float64 `json:"sellValue"`
	Commission    float64 `json:"commission"`
	NetProfitLoss float64 `json:"netProfitLoss"`
	Status        string  `json:"status"`
}

// ProfitLossByOrder folds trade fills into per-order realised profit
// and loss. Net result is sell proceeds minus buy cost minus total
// commission. Reports come back ordered by order id so repeated calls
// over the same fills produce identical output.
func ProfitLossByOrder(trades []models.Trade) []OrderReport {
	byOrder := make(map[int64]*OrderReport)
	for _, trade := range trades {
		r, ok := byOrder[trade.OrderID]
		if !ok {
			r = &OrderReport{OrderID: trade.OrderID, Symbol: trade.Symbol}
			byOrder[trade.OrderID] = r
		}
		if trade.IsBuyer {
			r.BuyCost += trade.QuoteQty
		} else {
			r.SellValue += trade.QuoteQty
		}
		r.Commission += trade.Commission
	}

	reports := make([]OrderReport, 0, len(byOrder))
	for _, r := range byOrder {
		if r.SellValue == 0 {
			continue
		}
		r.NetProfitLoss = r.SellValue - r.BuyCost - r.Commission
		if r.NetProfitLoss >= 0 {
			r.Status = "profit"
		} else {
			r.Status = "loss"
		}
		reports = append(reports, *r)
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].OrderID < reports[j].OrderID
	})
	return reports
}

// AveragePrice derives the break-even price of the position still held
// after the given fills: net spend divided by net quantity. A flat or
// short net quantity has no meaningful average, so it reports zero.
func AveragePrice(trades []models.Trade) float64 {
	var buyValue, sellValue, buyQty, sellQty float64
	for _, trade := range trades {
		if trade.IsBuyer {
			buyValue += trade.QuoteQty
			buyQty += trade.Qty
		} else {
			sellValue += trade.QuoteQty
			sellQty += trade.Qty
		}
	}

	netQty := buyQty - sellQty
	if netQty <= 0 {
		return 0
	}
	return (buyValue - sellValue) / netQty
}
