package leaderboard

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"ecolearn-gamification/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }

func TestCompetitionRanking(t *testing.T) {
	idx := NewIndexWithClock(fixedClock)
	idx.Set("carol", 80, 1)
	idx.Set("alice", 100, 1)
	idx.Set("bob", 80, 1)
	idx.Set("dave", 50, 1)

	lb := idx.TopN(10)
	require.Len(t, lb.Entries, 4)
	assert.Equal(t, 4, lb.Total)
	assert.Equal(t, []domain.LeaderboardEntry{
		{UserID: "alice", Points: 100, Rank: 1},
		{UserID: "bob", Points: 80, Rank: 2},
		{UserID: "carol", Points: 80, Rank: 2},
		{UserID: "dave", Points: 50, Rank: 4},
	}, lb.Entries)

	e, err := idx.RankOf("carol")
	require.NoError(t, err)
	assert.Equal(t, 2, e.Rank)

	_, err = idx.RankOf("nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPageStartsMidTie(t *testing.T) {
	idx := NewIndexWithClock(fixedClock)
	for i, pts := range []int64{90, 70, 70, 70, 10} {
		idx.Set(fmt.Sprintf("u%d", i), pts, 1)
	}

	page := idx.Page(2, 2)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, "u2", page.Entries[0].UserID)
	assert.Equal(t, 2, page.Entries[0].Rank)
	assert.Equal(t, 2, page.Entries[1].Rank)

	last := idx.Page(4, 10)
	require.Len(t, last.Entries, 1)
	assert.Equal(t, 5, last.Entries[0].Rank)

	assert.Empty(t, idx.Page(5, 10).Entries)
	assert.Empty(t, idx.Page(0, 0).Entries)
}

func TestApplyPointDeltaMovesUser(t *testing.T) {
	idx := NewIndexWithClock(fixedClock)
	require.NoError(t, idx.ApplyPointDelta("a", 0, 10, 1))
	require.NoError(t, idx.ApplyPointDelta("b", 0, 20, 1))
	require.NoError(t, idx.ApplyPointDelta("a", 10, 30, 2))

	assert.Equal(t, "a", idx.TopN(1).Entries[0].UserID)
	assert.Equal(t, 2, idx.Len())
}

func TestApplyPointDeltaIgnoresStaleVersions(t *testing.T) {
	idx := NewIndexWithClock(fixedClock)
	require.NoError(t, idx.ApplyPointDelta("a", 0, 30, 3))
	// an older update arriving late must not roll the user back
	assert.NoError(t, idx.ApplyPointDelta("a", 10, 20, 2))

	e, err := idx.RankOf("a")
	require.NoError(t, err)
	assert.Equal(t, int64(30), e.Points)
}

func TestApplyPointDeltaReportsDrift(t *testing.T) {
	idx := NewIndexWithClock(fixedClock)
	require.NoError(t, idx.ApplyPointDelta("a", 0, 10, 1))

	err := idx.ApplyPointDelta("a", 25, 40, 3)
	assert.ErrorIs(t, err, ErrIndexDrift)

	e, _ := idx.RankOf("a")
	assert.Equal(t, int64(40), e.Points, "drifted update is still applied")

	assert.ErrorIs(t, idx.ApplyPointDelta("new", 15, 20, 2), ErrIndexDrift)
}

// Randomized check of the rank invariant against a brute-force model.
func TestRankMatchesBruteForce(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	idx := NewIndexWithClock(fixedClock)
	model := map[string]int64{}
	versions := map[string]int64{}

	for i := 0; i < 2000; i++ {
		user := fmt.Sprintf("u%02d", rnd.Intn(60))
		pts := int64(rnd.Intn(25) * 10)
		versions[user]++
		idx.Set(user, pts, versions[user])
		model[user] = pts
	}

	type pair struct {
		user   string
		points int64
	}
	var want []pair
	for u, p := range model {
		want = append(want, pair{u, p})
	}
	sort.Slice(want, func(i, j int) bool {
		if want[i].points != want[j].points {
			return want[i].points > want[j].points
		}
		return want[i].user < want[j].user
	})

	lb := idx.TopN(len(want) + 5)
	require.Len(t, lb.Entries, len(want))
	for i, e := range lb.Entries {
		assert.Equal(t, want[i].user, e.UserID)
		ahead := 0
		for _, other := range model {
			if other > e.Points {
				ahead++
			}
		}
		assert.Equal(t, ahead+1, e.Rank, "user %s", e.UserID)

		single, err := idx.RankOf(e.UserID)
		require.NoError(t, err)
		assert.Equal(t, e.Rank, single.Rank)
	}

	for offset := 0; offset < len(want); offset += 7 {
		page := idx.Page(offset, 7)
		for i, e := range page.Entries {
			assert.Equal(t, lb.Entries[offset+i], e)
		}
	}
}

func TestRebuildKeepsNewerEntries(t *testing.T) {
	idx := NewIndexWithClock(fixedClock)
	idx.Set("a", 50, 5)
	idx.Set("late", 5, 1)

	idx.Rebuild([]domain.UserProgress{
		{UserID: "a", TotalPoints: 30, Version: 4},
		{UserID: "b", TotalPoints: 70, Version: 2},
	})

	lb := idx.TopN(10)
	require.Len(t, lb.Entries, 3)
	assert.Equal(t, "b", lb.Entries[0].UserID)
	assert.Equal(t, int64(50), lb.Entries[1].Points)
	assert.Equal(t, "late", lb.Entries[2].UserID)
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	idx := NewIndexWithClock(fixedClock)
	idx.Set("a", 10, 1)

	ch, cancel := idx.Subscribe(2)
	defer cancel()

	initial := <-ch
	require.Len(t, initial.Entries, 1)

	idx.Set("b", 20, 1)
	update := <-ch
	require.Len(t, update.Entries, 2)
	assert.Equal(t, "b", update.Entries[0].UserID)
}

func TestSubscribeSlowReaderSeesLatest(t *testing.T) {
	idx := NewIndexWithClock(fixedClock)
	ch, cancel := idx.Subscribe(1)
	<-ch

	for i := 1; i <= 50; i++ {
		idx.Set("a", int64(i), int64(i))
	}

	require.Equal(t, 1, len(ch), "only the latest snapshot is buffered")
	last := <-ch
	require.Len(t, last.Entries, 1)
	assert.Equal(t, int64(50), last.Entries[0].Points)

	cancel()
	_, open := <-ch
	assert.False(t, open)
	cancel()
}
