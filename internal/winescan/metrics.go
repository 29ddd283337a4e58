package winescan

// CalculateMarkup returns how far the restaurant price sits above the market
// price, in percent. A non-positive market price yields 0.
func CalculateMarkup(restaurantPrice, realPrice float64) float64 {
	if realPrice <= 0 {
		return 0
	}
	return ((restaurantPrice - realPrice) / realPrice) * 100
}

// valueScore rewards a high critic score, a low price and a low markup at
// the same time. ok is false when the wine lacks any required input.
func valueScore(w Wine) (float64, bool) {
	if w.CriticScore == nil || *w.CriticScore <= 0 {
		return 0, false
	}
	if w.RealPrice == nil || *w.RealPrice <= 0 || w.Markup == nil {
		return 0, false
	}
	if w.RestaurantPrice <= 0 {
		return 0, false
	}
	return (*w.CriticScore / w.RestaurantPrice) * (1 / (1 + *w.Markup/100)), true
}
