// Package score turns a discovery corpus into a ranked recommendation list.
//
// The weighting model: each candidate starts with its occurrence count in
// the corpus, gains +1 per genre shared with the user's rating history,
// gains its own catalog rating, and gains the occurrence count of any
// director/keyword/network annotation that also ranks in the user's
// frequency tables. Weights are then rescaled so the top item is 100.
package score

import (
	"math"
	"sort"

	"github.com/reelworthy/go-recommendation-flow/internal/catalog"
)

// Calculate scores a discovery corpus against the user's rating history.
// It is a pure function: the same inputs always produce the same ranking.
// tvDomain enables the network weight, which only exists for TV media.
func Calculate(discovered []catalog.Item, rated []RatedRef, freq Tables, tvDomain bool) []RankedItem {
	ratedIDs := make(map[int]bool, len(rated))
	ratedGenres := make(map[int]bool)
	for _, r := range rated {
		ratedIDs[r.ID] = true
		for _, g := range r.GenreIDs {
			ratedGenres[g] = true
		}
	}

	// Exclude already-rated items, tally occurrences, keep the first
	// instance of each id. The tally is the candidate's starting weight.
	weights := make(map[int]float64)
	var kept []catalog.Item
	for _, item := range discovered {
		if ratedIDs[item.ID] {
			continue
		}
		if _, seen := weights[item.ID]; !seen {
			kept = append(kept, item)
		}
		weights[item.ID]++
	}

	directors := tableIndex(freq.Directors)
	keywords := tableIndex(freq.Keywords)
	networks := tableIndex(freq.Networks)

	for _, item := range kept {
		for _, g := range item.GenreIDs {
			if ratedGenres[g] {
				weights[item.ID]++
			}
		}
		weights[item.ID] += round3(item.VoteAverage)
		if item.Director != "" {
			weights[item.ID] += float64(directors[item.Director])
		}
		if tvDomain && item.Network != "" {
			weights[item.ID] += float64(networks[item.Network])
		}
		if item.Keyword != "" {
			weights[item.ID] += float64(keywords[item.Keyword])
		}
	}

	if len(kept) == 0 {
		return nil
	}

	sort.Slice(kept, func(i, j int) bool {
		wi, wj := weights[kept[i].ID], weights[kept[j].ID]
		if wi != wj {
			return wi > wj
		}
		return kept[i].ID < kept[j].ID
	})

	baseline := weights[kept[0].ID]
	ranked := make([]RankedItem, 0, len(kept))
	for _, item := range kept {
		ranked = append(ranked, RankedItem{
			MediaID: item.ID,
			Weight:  int(math.Round(100 / baseline * weights[item.ID])),
			Info:    item,
		})
	}
	return ranked
}

func tableIndex(entries []FreqEntry) map[string]int {
	idx := make(map[string]int, len(entries))
	for _, e := range entries {
		idx[e.Key] = e.Count
	}
	return idx
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
