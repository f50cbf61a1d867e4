package leaderboard_test

import (
	"context"
	"errors"
	"testing"

	"quest-party-service/internal/docstore"
	"quest-party-service/internal/domain"
	"quest-party-service/internal/infra/memory"
	"quest-party-service/internal/leaderboard"
)

func member(userID, name string, score int) domain.Member {
	return domain.Member{UserID: userID, DisplayName: name, PlayerScore: score}
}

func TestRankDenseOnTies(t *testing.T) {
	ranked := leaderboard.Rank([]domain.Member{
		member("u1", "Alice", 5),
		member("u2", "Bob", 5),
		member("u3", "Cleo", 3),
	})

	if len(ranked) != 3 {
		t.Fatalf("got %d entries", len(ranked))
	}
	wantRanks := []int{1, 1, 2}
	for i, want := range wantRanks {
		if ranked[i].Rank != want {
			t.Fatalf("entry %d: rank %d, want %d (ranked: %+v)", i, ranked[i].Rank, want, ranked)
		}
	}
}

func TestRankDistinctScores(t *testing.T) {
	ranked := leaderboard.Rank([]domain.Member{
		member("u3", "Cleo", 3),
		member("u1", "Alice", 5),
		member("u2", "Bob", 4),
	})

	wantOrder := []string{"Alice", "Bob", "Cleo"}
	wantRanks := []int{1, 2, 3}
	for i := range wantOrder {
		if ranked[i].DisplayName != wantOrder[i] || ranked[i].Rank != wantRanks[i] {
			t.Fatalf("entry %d: got %s rank %d, want %s rank %d", i, ranked[i].DisplayName, ranked[i].Rank, wantOrder[i], wantRanks[i])
		}
	}
}

func TestRankEmpty(t *testing.T) {
	if got := leaderboard.Rank(nil); len(got) != 0 {
		t.Fatalf("expected empty ranking, got %+v", got)
	}
}

func TestRankProfilesTieNeedsLevelAndExp(t *testing.T) {
	ranked := leaderboard.RankProfiles([]domain.Profile{
		{Username: "ada", Level: 4, Exp: 100},
		{Username: "bea", Level: 4, Exp: 100},
		{Username: "cyd", Level: 4, Exp: 50},
		{Username: "dot", Level: 3, Exp: 400},
	})

	wantOrder := []string{"ada", "bea", "cyd", "dot"}
	wantRanks := []int{1, 1, 2, 3}
	for i := range wantOrder {
		if ranked[i].Username != wantOrder[i] || ranked[i].Rank != wantRanks[i] {
			t.Fatalf("entry %d: got %s rank %d, want %s rank %d", i, ranked[i].Username, ranked[i].Rank, wantOrder[i], wantRanks[i])
		}
	}
}

func TestRankOf(t *testing.T) {
	ranked := leaderboard.RankProfiles([]domain.Profile{
		{Username: "ada", Level: 4, Exp: 100},
		{Username: "bea", Level: 2, Exp: 10},
	})

	rank, ok := leaderboard.RankOf(ranked, "bea")
	if !ok || rank != 2 {
		t.Fatalf("RankOf(bea) = %d, %v", rank, ok)
	}
	if _, ok := leaderboard.RankOf(ranked, "nobody"); ok {
		t.Fatalf("expected miss for unknown username")
	}
}

func TestSessionLeaderboardReadsStore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := leaderboard.NewService(leaderboard.Config{Store: store})

	if _, err := svc.Session(ctx, "ZZZZZZ"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	mustSet(t, store, docstore.SessionPath("ABC123"), docstore.Fields{"phase": string(domain.PhaseLeaderboard)})
	mustSet(t, store, docstore.MemberPath("ABC123", "u1"), docstore.Fields{"userId": "u1", "displayName": "Alice", "playerScore": 7})
	mustSet(t, store, docstore.MemberPath("ABC123", "u2"), docstore.Fields{"userId": "u2", "displayName": "Bob", "playerScore": 9})

	ranked, err := svc.Session(ctx, "ABC123")
	if err != nil {
		t.Fatalf("session leaderboard: %v", err)
	}
	if len(ranked) != 2 || ranked[0].UserID != "u2" || ranked[0].Rank != 1 || ranked[1].Rank != 2 {
		t.Fatalf("unexpected ranking: %+v", ranked)
	}
}

func TestGlobalLeaderboardAndPlayerRank(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := leaderboard.NewService(leaderboard.Config{Store: store})

	mustSet(t, store, docstore.ProfilePath("u1"), docstore.Fields{"userId": "u1", "username": "ada", "level": 5, "exp": 10})
	mustSet(t, store, docstore.ProfilePath("u2"), docstore.Fields{"userId": "u2", "username": "bea", "level": 7, "exp": 0})
	mustSet(t, store, docstore.ProfilePath("u3"), docstore.Fields{"userId": "u3", "username": "cyd", "level": 5, "exp": 200})

	ranked, err := svc.Global(ctx)
	if err != nil {
		t.Fatalf("global leaderboard: %v", err)
	}
	wantOrder := []string{"bea", "cyd", "ada"}
	for i := range wantOrder {
		if ranked[i].Username != wantOrder[i] {
			t.Fatalf("unexpected order: %+v", ranked)
		}
	}

	rank, err := svc.PlayerRank(ctx, "ada")
	if err != nil {
		t.Fatalf("player rank: %v", err)
	}
	if rank != 3 {
		t.Fatalf("rank for ada = %d, want 3", rank)
	}
	if _, err := svc.PlayerRank(ctx, "nobody"); err == nil {
		t.Fatalf("expected error for unknown player")
	}
}

func mustSet(t *testing.T, store docstore.Store, path string, fields docstore.Fields) {
	t.Helper()
	if err := store.Set(context.Background(), path, fields); err != nil {
		t.Fatalf("set %s: %v", path, err)
	}
}
