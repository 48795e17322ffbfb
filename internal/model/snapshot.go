package model

// FacilitatorSnapshot holds the contract view values for an account. Amounts are base-10 integers
// in the smallest unit.
type FacilitatorSnapshot struct {
	Account           string `json:"account"`
	BlockNumber       uint64 `json:"block_number"`
	TokenAllocation   string `json:"token_allocation"`
	ClaimedTokens     string `json:"claimed_tokens"`
	GasAvailable      string `json:"gas_available"`
	GasUsed           string `json:"gas_used"`
	GasCost           string `json:"gas_cost"`
	GasPrice          string `json:"gas_price"`
	OracleWeiRequired string `json:"oracle_wei_required"`
}

// ClaimReport is what sinks persist after a refresh.
type ClaimReport struct {
	ChainID     uint64               `json:"chain_id"`
	Contract    string               `json:"contract"`
	Account     string               `json:"account"`
	State       FacilitatorState     `json:"state"`
	Snapshot    *FacilitatorSnapshot `json:"snapshot,omitempty"`
	GeneratedAt string               `json:"generated_at"`
}
