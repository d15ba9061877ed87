package trade

// Participant 为谈判的一方。只持有会话 id，不持有会话指针。
type Participant struct {
	Identity  int64
	SessionID string
	Proposal  []Item

	Locked    bool
	Cancelled bool
	Accepted  bool
}

func newParticipant(identity int64, sessionID string) *Participant {
	return &Participant{
		Identity:  identity,
		SessionID: sessionID,
	}
}

func (p *Participant) has(resourceID int64) bool {
	for _, item := range p.Proposal {
		if item.ID == resourceID {
			return true
		}
	}
	return false
}

func (p *Participant) remove(resourceID int64) bool {
	for i, item := range p.Proposal {
		if item.ID == resourceID {
			p.Proposal = append(p.Proposal[:i], p.Proposal[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Participant) ids() []int64 {
	out := make([]int64, len(p.Proposal))
	for i, item := range p.Proposal {
		out[i] = item.ID
	}
	return out
}

func (p *Participant) snapshot() ParticipantSnapshot {
	items := make([]Item, len(p.Proposal))
	copy(items, p.Proposal)
	return ParticipantSnapshot{
		Identity:  p.Identity,
		Items:     items,
		Locked:    p.Locked,
		Cancelled: p.Cancelled,
		Accepted:  p.Accepted,
	}
}
