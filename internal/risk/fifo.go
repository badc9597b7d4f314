package risk

// lot is an open quantity at one entry price. qty > 0 is long.
type lot struct {
	qty   float64
	price float64
}

// qtyEpsilon absorbs float residue from notional/price conversions.
const qtyEpsilon = 1e-12

// match applies a signed fill quantity to a FIFO queue. Opposite-sign lots
// at the head are consumed first; any residual opens a new lot at the tail.
// It returns the new queue and the realised PnL of the matched leg.
func match(lots []lot, qty, price float64) ([]lot, float64, bool) {
	var realised float64
	matched := false

	for qty != 0 && len(lots) > 0 && (lots[0].qty > 0) != (qty > 0) {
		head := &lots[0]
		closeQty := min(abs(qty), abs(head.qty))
		matched = true

		if head.qty > 0 {
			// selling into a long
			realised += (price - head.price) * closeQty
			head.qty -= closeQty
			qty += closeQty
		} else {
			realised += (head.price - price) * closeQty
			head.qty += closeQty
			qty -= closeQty
		}

		if abs(head.qty) <= qtyEpsilon {
			lots = lots[1:]
		}
		if abs(qty) <= qtyEpsilon {
			qty = 0
		}
	}

	if qty != 0 {
		lots = append(lots, lot{qty: qty, price: price})
	}
	return lots, realised, matched
}

func netQty(lots []lot) float64 {
	var q float64
	for _, l := range lots {
		q += l.qty
	}
	return q
}

// unrealised is the MTM of the queue against px.
func unrealised(lots []lot, px float64) float64 {
	var u float64
	for _, l := range lots {
		u += l.qty * (px - l.price)
	}
	return u
}

// marketValue is the signed value of the queue at px.
func marketValue(lots []lot, px float64) float64 {
	return netQty(lots) * px
}

// signedCost is the signed entry notional of the queue.
func signedCost(lots []lot) float64 {
	var c float64
	for _, l := range lots {
		c += l.qty * l.price
	}
	return c
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
