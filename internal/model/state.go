package model

// FacilitatorState is the claim history of one account plus its in-flight claim.
type FacilitatorState struct {
	Account string `json:"account,omitempty"`
	// Claims are finalized, most recent first.
	Claims                 []ClaimRecord `json:"claims"`
	Pending                *ClaimRecord  `json:"pending,omitempty"`
	LastQueriedBlockHeight uint64        `json:"last_queried_block_height"`
}

// Clone returns a deep copy.
func (s FacilitatorState) Clone() FacilitatorState {
	out := FacilitatorState{
		Account:                s.Account,
		Claims:                 make([]ClaimRecord, 0, len(s.Claims)),
		LastQueriedBlockHeight: s.LastQueriedBlockHeight,
	}
	for _, claim := range s.Claims {
		out.Claims = append(out.Claims, claim.Clone())
	}
	if s.Pending != nil {
		pending := s.Pending.Clone()
		out.Pending = &pending
	}
	return out
}

// ClaimLog returns finalized claims followed by the pending claim, if any.
func (s FacilitatorState) ClaimLog() []ClaimRecord {
	log := make([]ClaimRecord, 0, len(s.Claims)+1)
	log = append(log, s.Claims...)
	if s.Pending != nil {
		log = append(log, *s.Pending)
	}
	return log
}
