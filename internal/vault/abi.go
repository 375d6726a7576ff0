package vault

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const vaultABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "proposalId", "type": "uint256"},
      {"indexed": false, "internalType": "address[]", "name": "pools", "type": "address[]"},
      {"indexed": false, "internalType": "uint256[]", "name": "ratios", "type": "uint256[]"},
      {"indexed": false, "internalType": "string", "name": "reason", "type": "string"}
    ],
    "name": "RebalanceProposed",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "proposalId", "type": "uint256"},
      {"indexed": false, "internalType": "address[]", "name": "pools", "type": "address[]"},
      {"indexed": false, "internalType": "uint256[]", "name": "ratios", "type": "uint256[]"}
    ],
    "name": "RebalanceExecuted",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "oldAuthority", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "newAuthority", "type": "address"}
    ],
    "name": "AgentAuthorityUpdated",
    "type": "event"
  },
  {
    "inputs": [
      {"internalType": "address[]", "name": "pools", "type": "address[]"},
      {"internalType": "uint256[]", "name": "ratios", "type": "uint256[]"},
      {"internalType": "string", "name": "reason", "type": "string"}
    ],
    "name": "proposeRebalance",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "uint256", "name": "proposalId", "type": "uint256"}],
    "name": "executeRebalance",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "address", "name": "newAuthority", "type": "address"}],
    "name": "updateAgentAuthority",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "getProposalCount",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "uint256", "name": "proposalId", "type": "uint256"}],
    "name": "getRebalanceProposal",
    "outputs": [
      {
        "components": [
          {"internalType": "address[]", "name": "pools", "type": "address[]"},
          {"internalType": "uint256[]", "name": "ratios", "type": "uint256[]"},
          {"internalType": "uint256", "name": "timestamp", "type": "uint256"},
          {"internalType": "bool", "name": "executed", "type": "bool"},
          {"internalType": "string", "name": "reason", "type": "string"}
        ],
        "internalType": "struct LiquidityVault.RebalanceProposal",
        "name": "",
        "type": "tuple"
      }
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "address", "name": "pool", "type": "address"}],
    "name": "getPoolAllocation",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "owner",
    "outputs": [{"internalType": "address", "name": "", "type": "address"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "agentAuthority",
    "outputs": [{"internalType": "address", "name": "", "type": "address"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

var (
	vaultABI     abi.ABI
	vaultABIOnce sync.Once
	vaultABIErr  error
)

// VaultABI returns the parsed liquidity vault ABI.
func VaultABI() (abi.ABI, error) {
	vaultABIOnce.Do(func() {
		vaultABI, vaultABIErr = abi.JSON(strings.NewReader(vaultABIJSON))
	})
	return vaultABI, vaultABIErr
}
