package model

// VaultEventKind names a vault ledger event.
type VaultEventKind string

const (
	EventRebalanceProposed     VaultEventKind = "rebalance_proposed"
	EventRebalanceExecuted     VaultEventKind = "rebalance_executed"
	EventAgentAuthorityUpdated VaultEventKind = "agent_authority_updated"
)

// VaultEvent is a decoded vault ledger event enriched with block metadata.
type VaultEvent struct {
	Kind         VaultEventKind `json:"kind"`
	ProposalID   uint64         `json:"proposal_id"`
	Pools        []string       `json:"pools,omitempty"`
	Ratios       []uint64       `json:"ratios,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	OldAuthority string         `json:"old_authority,omitempty"`
	NewAuthority string         `json:"new_authority,omitempty"`
	BlockNumber  uint64         `json:"block_number"`
	TxHash       string         `json:"tx_hash"`
	LogIndex     uint64         `json:"log_index"`
	Timestamp    uint64         `json:"timestamp"`
}
