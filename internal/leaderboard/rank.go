package leaderboard

import (
	"sort"

	"github.com/Dengwilliam/cashiq/internal/domain"
)

// prizeSharePercent maps 1-based rank to its share of the weekly pool.
// Ranks beyond the fourth receive nothing.
var prizeSharePercent = []int64{30, 20, 10, 5}

// Rank produces the ranked board for one week from its score records and
// pool total. Higher score wins; on equal scores the earlier submission
// ranks higher. Pure: the board is re-derivable at any time and is never
// persisted on its own.
func Rank(weekID string, records []domain.ScoreRecord, poolTotal int64) domain.Leaderboard {
	sorted := append([]domain.ScoreRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].CreateTime.Before(sorted[j].CreateTime)
	})

	lb := domain.Leaderboard{
		WeekID:    weekID,
		PoolTotal: poolTotal,
		Entries:   make([]domain.LeaderboardEntry, 0, len(sorted)),
	}

	for i, rec := range sorted {
		lb.Entries = append(lb.Entries, domain.LeaderboardEntry{
			Rank:        i + 1,
			UserID:      rec.UserID,
			DisplayName: rec.DisplayName,
			Score:       rec.Score,
			CreateTime:  rec.CreateTime,
			PrizeShare:  prizeShare(i+1, poolTotal),
		})
	}

	return lb
}

func prizeShare(rank int, poolTotal int64) int64 {
	if rank < 1 || rank > len(prizeSharePercent) {
		return 0
	}
	return poolTotal * prizeSharePercent[rank-1] / 100
}
