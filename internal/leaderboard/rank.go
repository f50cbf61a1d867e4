// Package leaderboard ranks session members and durable profiles with dense
// ranking: tied entries share a rank and the next distinct value continues one
// past it.
package leaderboard

import (
	"sort"

	"quest-party-service/internal/domain"
)

// Rank orders members by playerScore descending and assigns dense ranks.
// Equal scores are ordered by display name so output is deterministic; the
// rank values themselves do not depend on the order of tied inputs.
func Rank(members []domain.Member) []domain.RankedMember {
	sorted := make([]domain.Member, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].PlayerScore != sorted[j].PlayerScore {
			return sorted[i].PlayerScore > sorted[j].PlayerScore
		}
		if sorted[i].DisplayName != sorted[j].DisplayName {
			return sorted[i].DisplayName < sorted[j].DisplayName
		}
		return sorted[i].UserID < sorted[j].UserID
	})

	ranked := make([]domain.RankedMember, 0, len(sorted))
	rank := 0
	for i, m := range sorted {
		if i == 0 || m.PlayerScore != sorted[i-1].PlayerScore {
			rank++
		}
		ranked = append(ranked, domain.RankedMember{Member: m, Rank: rank})
	}
	return ranked
}

// RankProfiles is the global variant: level descending, then experience
// descending, then username ascending. Profiles tie only when both level and
// experience match.
func RankProfiles(profiles []domain.Profile) []domain.RankedProfile {
	sorted := make([]domain.Profile, len(profiles))
	copy(sorted, profiles)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Level != sorted[j].Level {
			return sorted[i].Level > sorted[j].Level
		}
		if sorted[i].Exp != sorted[j].Exp {
			return sorted[i].Exp > sorted[j].Exp
		}
		return sorted[i].Username < sorted[j].Username
	})

	ranked := make([]domain.RankedProfile, 0, len(sorted))
	rank := 0
	for i, p := range sorted {
		if i == 0 || p.Level != sorted[i-1].Level || p.Exp != sorted[i-1].Exp {
			rank++
		}
		ranked = append(ranked, domain.RankedProfile{Profile: p, Rank: rank})
	}
	return ranked
}

// RankOf finds a player's rank by linear scan of the ranked order. O(n) per
// lookup, which is fine at the population sizes this serves.
func RankOf(ranked []domain.RankedProfile, username string) (int, bool) {
	for _, r := range ranked {
		if r.Username == username {
			return r.Rank, true
		}
	}
	return 0, false
}
