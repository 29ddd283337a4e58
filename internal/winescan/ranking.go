package winescan

import "sort"

// Rank builds the three ranked views. Sorting is stable, so wines that tie
// keep their input order. The input slice is not modified.
func Rank(wines []Wine) RankingResults {
	res := RankingResults{
		HighestRated:    []Wine{},
		BestValue:       []Wine{},
		MostInexpensive: []Wine{},
	}

	type valued struct {
		wine  Wine
		score float64
	}
	var best []valued

	for _, w := range wines {
		if w.RestaurantPrice <= 0 {
			continue
		}
		res.MostInexpensive = append(res.MostInexpensive, w)
		if w.CriticScore != nil && *w.CriticScore > 0 {
			res.HighestRated = append(res.HighestRated, w)
		}
		if v, ok := valueScore(w); ok {
			best = append(best, valued{wine: w, score: v})
		}
	}

	sort.SliceStable(res.HighestRated, func(i, j int) bool {
		return *res.HighestRated[i].CriticScore > *res.HighestRated[j].CriticScore
	})
	sort.SliceStable(res.MostInexpensive, func(i, j int) bool {
		return res.MostInexpensive[i].RestaurantPrice < res.MostInexpensive[j].RestaurantPrice
	})
	sort.SliceStable(best, func(i, j int) bool { return best[i].score > best[j].score })
	for _, b := range best {
		res.BestValue = append(res.BestValue, b.wine)
	}
	return res
}
