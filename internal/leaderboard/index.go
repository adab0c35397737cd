// Package leaderboard keeps a ranked, in-memory view of every user's points.
//
// The index is derived from the ledger and can always be rebuilt from it.
// Ordering is points descending, then user ID ascending. Ranks follow
// standard competition ranking: tied users share a rank and the next rank
// skips accordingly (1, 2, 2, 4).
package leaderboard

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"ecolearn-gamification/internal/domain"
)

// ErrIndexDrift reports that the index did not hold the points the caller
// expected, so at least one earlier update was missed. The new value has
// been applied regardless.
var ErrIndexDrift = errors.New("leaderboard index drift")

const (
	maxLevel    = 32
	levelFactor = 0.25
)

type link struct {
	node *node
	span int
}

type node struct {
	userID string
	points int64
	next   []link
}

type entry struct {
	points  int64
	version int64
}

// Index is an order-statistic skip list plus a user lookup table.
// All methods are safe for concurrent use.
type Index struct {
	mu        sync.RWMutex
	head      *node
	level     int
	length    int
	users     map[string]entry
	rnd       *rand.Rand
	now       func() time.Time
	updatedAt time.Time

	subscribers map[chan domain.Leaderboard]int
}

func NewIndex() *Index {
	return NewIndexWithClock(time.Now)
}

// NewIndexWithClock is used by tests for deterministic timestamps.
func NewIndexWithClock(now func() time.Time) *Index {
	idx := &Index{
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
		now:         now,
		subscribers: make(map[chan domain.Leaderboard]int),
	}
	idx.resetLocked()
	return idx
}

func (x *Index) resetLocked() {
	x.head = &node{next: make([]link, maxLevel)}
	x.level = 1
	x.length = 0
	x.users = make(map[string]entry)
}

// ApplyPointDelta moves userID from oldPoints to newPoints. Versions not newer
// than the one already indexed are ignored, so late or duplicate updates
// cannot roll a user back. ErrIndexDrift is returned, after applying, when
// the indexed points did not match oldPoints.
func (x *Index) ApplyPointDelta(userID string, oldPoints, newPoints, version int64) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	cur, ok := x.users[userID]
	if ok && version <= cur.version {
		return nil
	}
	var err error
	if (ok && cur.points != oldPoints) || (!ok && oldPoints != 0) {
		err = ErrIndexDrift
	}
	x.setLocked(userID, newPoints, version)
	x.broadcastLocked()
	return err
}

// Set indexes an absolute value. It reports false when version is stale.
func (x *Index) Set(userID string, points, version int64) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if cur, ok := x.users[userID]; ok && version <= cur.version {
		return false
	}
	x.setLocked(userID, points, version)
	x.broadcastLocked()
	return true
}

// Rebuild reconstructs the skip list from ledger snapshots. Entries already
// indexed at a newer version than their snapshot, or missing from the
// snapshots, were written after the snapshots were read and are kept.
func (x *Index) Rebuild(snapshots []domain.UserProgress) {
	x.mu.Lock()
	defer x.mu.Unlock()

	merged := make(map[string]entry, len(snapshots)+len(x.users))
	for userID, e := range x.users {
		merged[userID] = e
	}
	for _, p := range snapshots {
		if p.UserID == "" {
			continue
		}
		if cur, ok := merged[p.UserID]; ok && cur.version > p.Version {
			continue
		}
		merged[p.UserID] = entry{points: p.TotalPoints, version: p.Version}
	}

	x.resetLocked()
	for userID, e := range merged {
		x.setLocked(userID, e.points, e.version)
	}
	x.broadcastLocked()
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.length
}

// Version returns the ledger version last indexed for userID.
func (x *Index) Version(userID string) (int64, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.users[userID]
	return e.version, ok
}

// TopN returns the first n entries.
func (x *Index) TopN(n int) domain.Leaderboard {
	return x.Page(0, n)
}

// Page returns up to limit entries starting at zero-based offset.
func (x *Index) Page(offset, limit int) domain.Leaderboard {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.pageLocked(offset, limit)
}

// RankOf returns the user's current entry or domain.ErrNotFound.
func (x *Index) RankOf(userID string) (domain.LeaderboardEntry, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.users[userID]
	if !ok {
		return domain.LeaderboardEntry{}, domain.ErrUserNotFound
	}
	return domain.LeaderboardEntry{
		UserID: userID,
		Points: e.points,
		Rank:   x.countAheadLocked(e.points, "") + 1,
	}, nil
}

// Subscribe streams the top n entries after every change. The current
// snapshot is delivered immediately. The channel holds a single snapshot, so
// a slow reader skips intermediate states and reads only the latest one. The
// caller must invoke cancel.
func (x *Index) Subscribe(n int) (<-chan domain.Leaderboard, func()) {
	ch := make(chan domain.Leaderboard, 1)

	x.mu.Lock()
	ch <- x.pageLocked(0, n)
	x.subscribers[ch] = n
	x.mu.Unlock()

	cancel := func() {
		x.mu.Lock()
		if _, ok := x.subscribers[ch]; ok {
			delete(x.subscribers, ch)
			close(ch)
		}
		x.mu.Unlock()
	}
	return ch, cancel
}

func (x *Index) broadcastLocked() {
	x.updatedAt = x.now()
	for ch, n := range x.subscribers {
		lb := x.pageLocked(0, n)
		select {
		case ch <- lb:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- lb
		}
	}
}

func (x *Index) pageLocked(offset, limit int) domain.Leaderboard {
	lb := domain.Leaderboard{Total: x.length, UpdatedAt: x.updatedAt, Entries: []domain.LeaderboardEntry{}}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || offset >= x.length {
		return lb
	}

	n := x.nodeAtLocked(offset + 1)
	pos := offset + 1
	rank := x.countAheadLocked(n.points, "") + 1
	var prev *node
	for ; n != nil && len(lb.Entries) < limit; n, pos = n.next[0].node, pos+1 {
		if prev != nil && prev.points != n.points {
			rank = pos
		}
		lb.Entries = append(lb.Entries, domain.LeaderboardEntry{UserID: n.userID, Points: n.points, Rank: rank})
		prev = n
	}
	return lb
}

func (x *Index) setLocked(userID string, points, version int64) {
	if cur, ok := x.users[userID]; ok {
		x.deleteLocked(userID, cur.points)
	}
	x.insertLocked(userID, points)
	x.users[userID] = entry{points: points, version: version}
}

func (x *Index) randomLevel() int {
	lvl := 1
	for lvl < maxLevel && x.rnd.Float64() < levelFactor {
		lvl++
	}
	return lvl
}

func (x *Index) insertLocked(userID string, points int64) {
	var update [maxLevel]*node
	var rank [maxLevel]int

	cur := x.head
	for i := x.level - 1; i >= 0; i-- {
		if i < x.level-1 {
			rank[i] = rank[i+1]
		}
		for nxt := cur.next[i].node; nxt != nil && nxt.sortsBefore(points, userID); nxt = cur.next[i].node {
			rank[i] += cur.next[i].span
			cur = nxt
		}
		update[i] = cur
	}

	lvl := x.randomLevel()
	if lvl > x.level {
		for i := x.level; i < lvl; i++ {
			rank[i] = 0
			update[i] = x.head
			update[i].next[i].span = x.length
		}
		x.level = lvl
	}

	n := &node{userID: userID, points: points, next: make([]link, lvl)}
	for i := 0; i < lvl; i++ {
		n.next[i].node = update[i].next[i].node
		update[i].next[i].node = n
		n.next[i].span = update[i].next[i].span - (rank[0] - rank[i])
		update[i].next[i].span = rank[0] - rank[i] + 1
	}
	for i := lvl; i < x.level; i++ {
		update[i].next[i].span++
	}
	x.length++
}

func (x *Index) deleteLocked(userID string, points int64) {
	var update [maxLevel]*node
	cur := x.head
	for i := x.level - 1; i >= 0; i-- {
		for nxt := cur.next[i].node; nxt != nil && nxt.sortsBefore(points, userID); nxt = cur.next[i].node {
			cur = nxt
		}
		update[i] = cur
	}

	target := cur.next[0].node
	if target == nil || target.userID != userID || target.points != points {
		return
	}
	for i := 0; i < x.level; i++ {
		if update[i].next[i].node == target {
			update[i].next[i].span += target.next[i].span - 1
			update[i].next[i].node = target.next[i].node
		} else {
			update[i].next[i].span--
		}
	}
	for x.level > 1 && x.head.next[x.level-1].node == nil {
		x.level--
	}
	x.length--
}

// countAheadLocked returns how many entries sort strictly before (points, userID).
// With an empty userID that is the number of users with more points.
func (x *Index) countAheadLocked(points int64, userID string) int {
	count := 0
	cur := x.head
	for i := x.level - 1; i >= 0; i-- {
		for nxt := cur.next[i].node; nxt != nil && nxt.sortsBefore(points, userID); nxt = cur.next[i].node {
			count += cur.next[i].span
			cur = nxt
		}
	}
	return count
}

// nodeAtLocked returns the node at 1-based position pos.
func (x *Index) nodeAtLocked(pos int) *node {
	traversed := 0
	cur := x.head
	for i := x.level - 1; i >= 0; i-- {
		for cur.next[i].node != nil && traversed+cur.next[i].span <= pos {
			traversed += cur.next[i].span
			cur = cur.next[i].node
		}
		if traversed == pos {
			return cur
		}
	}
	return nil
}

// sortsBefore reports whether n is ordered strictly ahead of (points, userID).
func (n *node) sortsBefore(points int64, userID string) bool {
	if n.points != points {
		return n.points > points
	}
	return n.userID < userID
}
