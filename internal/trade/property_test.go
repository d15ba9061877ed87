package trade

import (
	"context"
	"testing"

	"pgregory.net/rapid"
)

var propertyKinds = []CommandKind{CommandAdd, CommandAdd, CommandRemove, CommandLock, CommandAccept, CommandCancel}

// 任意操作序列下：锁只由活跃会话持有且与提案一致；完成时所有权恰好按提案交换；结束后不留锁。
func TestEngine_RandomCommandSequences(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		st := newMemStore()
		confirm := rapid.Bool().Draw(rt, "confirm")
		engine, err := NewEngine(Options{MaxItemsPerSide: 3, RequireConfirmation: confirm}, st, NewRegistry(), nil, nil)
		if err != nil {
			rt.Fatalf("NewEngine: %v", err)
		}
		defer func() { _ = engine.Shutdown(ctx) }()

		owners := []int64{alice, bob, carol}
		ids := make([]int64, 0)
		n := rapid.IntRange(1, 6).Draw(rt, "balls")
		for i := 0; i < n; i++ {
			owner := rapid.SampledFrom(owners).Draw(rt, "owner")
			ids = append(ids, st.add(owner, "ball", rapid.Bool().Draw(rt, "tradeable")))
		}
		original := make(map[int64]int64, len(ids))
		for _, id := range ids {
			original[id] = st.resource(id).OwnerID
		}

		h, err := engine.CreateSession(ctx, "g", alice, bob)
		if err != nil {
			rt.Fatalf("CreateSession: %v", err)
		}

		var last Snapshot
		steps := rapid.IntRange(1, 25).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			cmd := Command{
				Kind:       rapid.SampledFrom(propertyKinds).Draw(rt, "kind"),
				Scope:      "g",
				Identity:   rapid.SampledFrom([]int64{alice, bob}).Draw(rt, "identity"),
				ResourceID: rapid.SampledFrom(ids).Draw(rt, "resource"),
			}
			before, _ := engine.GetState("g", alice)
			snap, _ := engine.Dispatch(ctx, cmd)
			if snap.ID != "" {
				last = snap
			}

			if last.State == StateCompleted {
				pa, _ := before.Participant(alice)
				pb, _ := before.Participant(bob)
				for _, item := range pa.Items {
					if got := st.resource(item.ID).OwnerID; got != bob {
						rt.Fatalf("ball %d from alice ended with %d", item.ID, got)
					}
				}
				for _, item := range pb.Items {
					if got := st.resource(item.ID).OwnerID; got != alice {
						rt.Fatalf("ball %d from bob ended with %d", item.ID, got)
					}
				}
				break
			}
			if last.State.Terminal() {
				break
			}

			proposed := make(map[int64]int64)
			for _, p := range last.Participants {
				for _, item := range p.Items {
					proposed[item.ID] = p.Identity
				}
			}
			for _, id := range ids {
				r := st.resource(id)
				owner, inProposal := proposed[id]
				if inProposal != (r.LockedBy == h.ID) {
					rt.Fatalf("ball %d lock=%q but in proposal=%v", id, r.LockedBy, inProposal)
				}
				if inProposal && owner != r.OwnerID {
					rt.Fatalf("ball %d proposed by %d but owned by %d", id, owner, r.OwnerID)
				}
				if r.OwnerID != original[id] {
					rt.Fatalf("ball %d changed owner before completion", id)
				}
			}
		}

		_, _ = engine.Cancel(ctx, "g", alice)
		for _, id := range ids {
			if r := st.resource(id); r.Locked() {
				rt.Fatalf("ball %d still locked by %q after session ended", id, r.LockedBy)
			}
			if r := st.resource(id); r.OwnerID == carol && original[id] != carol {
				rt.Fatalf("ball %d leaked to a non-participant", id)
			}
		}
	})
}
