package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"countryball/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewSQLite(config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "countryball.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 4,
	})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedPlayer(t *testing.T, s *Store, discordID string) int64 {
	t.Helper()
	id, err := NewPlayers(s).Resolve(context.Background(), discordID)
	if err != nil {
		t.Fatalf("Resolve(%s) returned error: %v", discordID, err)
	}
	return id
}

func TestPlayersResolve_Idempotent(t *testing.T) {
	s := newTestStore(t)
	players := NewPlayers(s)
	ctx := context.Background()

	first, err := players.Resolve(ctx, "1001")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	second, err := players.Resolve(ctx, " 1001 ")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if first != second {
		t.Fatalf("expected same player id, got %d and %d", first, second)
	}

	other, err := players.Resolve(ctx, "1002")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if other == first {
		t.Fatalf("expected distinct ids for distinct accounts")
	}

	discordID, err := players.DiscordID(ctx, first)
	if err != nil || discordID != "1001" {
		t.Fatalf("DiscordID = %q, %v; want 1001", discordID, err)
	}
	if _, err := players.DiscordID(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := players.Resolve(ctx, ""); err == nil {
		t.Fatalf("expected error for empty discord id")
	}
}

func TestResources_TryLockIsExclusiveUnderContention(t *testing.T) {
	s := newTestStore(t)
	resources := NewResources(s)
	ctx := context.Background()
	owner := seedPlayer(t, s, "1")

	ball, err := resources.Create(ctx, owner, "Polandball", true)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	const contenders = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessionID := fmt.Sprintf("session-%d", i)
			ok, err := resources.TryLock(ctx, ball.ID, sessionID, time.Now())
			if err != nil {
				t.Errorf("TryLock returned error: %v", err)
				return
			}
			if ok {
				mu.Lock()
				winners = append(winners, sessionID)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %v", winners)
	}

	got, err := resources.Get(ctx, ball.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.LockedBy != winners[0] {
		t.Fatalf("locked_by = %q, want %q", got.LockedBy, winners[0])
	}
}

func TestResources_TryLockMissing(t *testing.T) {
	s := newTestStore(t)
	resources := NewResources(s)

	ok, err := resources.TryLock(context.Background(), 42, "session", time.Now())
	if ok || !errors.Is(err, ErrNotFound) {
		t.Fatalf("TryLock on missing = %v, %v; want false, ErrNotFound", ok, err)
	}
}

func TestResources_UnlockOnlyReleasesHolder(t *testing.T) {
	s := newTestStore(t)
	resources := NewResources(s)
	ctx := context.Background()
	owner := seedPlayer(t, s, "1")

	ball, err := resources.Create(ctx, owner, "Germanyball", true)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if ok, err := resources.TryLock(ctx, ball.ID, "holder", time.Now()); !ok || err != nil {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}

	if err := resources.Unlock(ctx, ball.ID, "intruder"); err != nil {
		t.Fatalf("Unlock by non-holder returned error: %v", err)
	}
	got, _ := resources.Get(ctx, ball.ID)
	if got.LockedBy != "holder" {
		t.Fatalf("non-holder unlock must not release the lock, locked_by=%q", got.LockedBy)
	}

	for i := 0; i < 2; i++ {
		if err := resources.Unlock(ctx, ball.ID, "holder"); err != nil {
			t.Fatalf("Unlock #%d returned error: %v", i+1, err)
		}
	}
	got, _ = resources.Get(ctx, ball.ID)
	if got.Locked() || !got.LockedAt.IsZero() {
		t.Fatalf("expected unlocked resource, got %+v", got)
	}
}

func TestResources_WithTransactionRollsBack(t *testing.T) {
	s := newTestStore(t)
	resources := NewResources(s)
	ctx := context.Background()
	alice := seedPlayer(t, s, "1")
	bob := seedPlayer(t, s, "2")

	ball, err := resources.Create(ctx, alice, "Franceball", true)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	boom := errors.New("boom")
	err = resources.WithTransaction(ctx, func(tx ResourceTx) error {
		res, err := tx.Get(ctx, ball.ID)
		if err != nil {
			return err
		}
		res.OwnerID = bob
		if err := tx.Save(ctx, res); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, _ := resources.Get(ctx, ball.ID)
	if got.OwnerID != alice {
		t.Fatalf("owner changed despite rollback: %d", got.OwnerID)
	}
}

func TestResources_RecordExchangeAndHistory(t *testing.T) {
	s := newTestStore(t)
	resources := NewResources(s)
	ctx := context.Background()
	alice := seedPlayer(t, s, "1")
	bob := seedPlayer(t, s, "2")

	x, _ := resources.Create(ctx, alice, "Polandball", true)
	y, _ := resources.Create(ctx, bob, "Russiaball", true)

	err := resources.WithTransaction(ctx, func(tx ResourceTx) error {
		_, err := tx.RecordExchange(ctx, ExchangeRecord{
			SessionID: "s-1",
			Scope:     "channel",
			PlayerA:   alice,
			PlayerB:   bob,
			Transfers: []Transfer{
				{ResourceID: x.ID, From: alice, To: bob},
				{ResourceID: y.ID, From: bob, To: alice},
			},
		})
		return err
	})
	if err != nil {
		t.Fatalf("RecordExchange returned error: %v", err)
	}

	history, err := resources.ListExchanges(ctx, bob, 10)
	if err != nil {
		t.Fatalf("ListExchanges returned error: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 record, got %d", len(history))
	}
	if history[0].SessionID != "s-1" || len(history[0].Transfers) != 2 {
		t.Fatalf("unexpected record %+v", history[0])
	}

	none, err := resources.ListExchanges(ctx, seedPlayer(t, s, "3"), 10)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected empty history, got %v, %v", none, err)
	}
}

func TestResources_ReleaseStaleLocks(t *testing.T) {
	s := newTestStore(t)
	resources := NewResources(s)
	ctx := context.Background()
	owner := seedPlayer(t, s, "1")

	old, _ := resources.Create(ctx, owner, "Old", true)
	fresh, _ := resources.Create(ctx, owner, "Fresh", true)

	now := time.Now()
	if ok, _ := resources.TryLock(ctx, old.ID, "dead", now.Add(-2*time.Hour)); !ok {
		t.Fatalf("lock old failed")
	}
	if ok, _ := resources.TryLock(ctx, fresh.ID, "live", now); !ok {
		t.Fatalf("lock fresh failed")
	}

	n, err := resources.ReleaseStaleLocks(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ReleaseStaleLocks returned error: %v", err)
	}
	if n != 1 {
		t.Fatalf("released %d locks, want 1", n)
	}

	if got, _ := resources.Get(ctx, fresh.ID); got.LockedBy != "live" {
		t.Fatalf("fresh lock must survive, got %q", got.LockedBy)
	}
	if got, _ := resources.Get(ctx, old.ID); got.Locked() {
		t.Fatalf("stale lock must be released")
	}
}

func TestResources_StaleSweepKeepsOtherInstanceLocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	open := func() *Store {
		s, err := NewSQLite(config.DatabaseConfig{Path: path, MaxOpenConns: 2})
		if err != nil {
			t.Fatalf("NewSQLite returned error: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	}
	first, second := open(), open()
	ctx := context.Background()
	owner := seedPlayer(t, first, "1")

	firstRes := NewResources(first)
	secondRes := NewResources(second)
	live, err := firstRes.Create(ctx, owner, "Live", true)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	crashed, err := firstRes.Create(ctx, owner, "Crashed", true)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	now := time.Now()
	if ok, _ := firstRes.TryLock(ctx, live.ID, "session-1", now.Add(-2*time.Second)); !ok {
		t.Fatalf("lock live failed")
	}
	if ok, _ := firstRes.TryLock(ctx, crashed.ID, "session-0", now.Add(-2*time.Hour)); !ok {
		t.Fatalf("lock crashed failed")
	}

	n, err := secondRes.ReleaseStaleLocks(ctx, now.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("ReleaseStaleLocks returned error: %v", err)
	}
	if n != 1 {
		t.Fatalf("released %d locks, want 1", n)
	}

	ok, err := secondRes.TryLock(ctx, live.ID, "session-2", now)
	if err != nil {
		t.Fatalf("TryLock returned error: %v", err)
	}
	if ok {
		t.Fatalf("second instance must not take a lock held by a live session")
	}
	if got, _ := firstRes.Get(ctx, live.ID); got.LockedBy != "session-1" {
		t.Fatalf("live lock holder changed to %q", got.LockedBy)
	}
	if ok, _ := secondRes.TryLock(ctx, crashed.ID, "session-2", now); !ok {
		t.Fatalf("stale lock should be reusable after the sweep")
	}
}

func TestResources_ListByOwner(t *testing.T) {
	s := newTestStore(t)
	resources := NewResources(s)
	ctx := context.Background()
	alice := seedPlayer(t, s, "1")
	bob := seedPlayer(t, s, "2")

	first, _ := resources.Create(ctx, alice, "Polandball", true)
	second, _ := resources.Create(ctx, alice, "Brazilball", false)
	if _, err := resources.Create(ctx, bob, "Kebab", true); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	owned, err := resources.ListByOwner(ctx, alice)
	if err != nil {
		t.Fatalf("ListByOwner returned error: %v", err)
	}
	if len(owned) != 2 || owned[0].ID != first.ID || owned[1].ID != second.ID {
		t.Fatalf("unexpected resources for owner: %+v", owned)
	}
	if owned[1].Tradeable {
		t.Errorf("tradeable flag should round-trip")
	}

	none, err := resources.ListByOwner(ctx, 9999)
	if err != nil {
		t.Fatalf("ListByOwner returned error: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no resources, got %d", len(none))
	}
}
