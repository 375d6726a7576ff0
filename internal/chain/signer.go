package chain

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer holds one signing identity. Proposing and executing use separate
// signers so that neither key alone can move funds end to end.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner parses a hex private key, with or without 0x prefix.
func NewSigner(hexKey string) (*Signer, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("private key is empty")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return NewSignerFromKey(key), nil
}

// NewSignerFromKey wraps an existing private key.
func NewSignerFromKey(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// GenerateSigner creates a throwaway identity.
func GenerateSigner() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return NewSignerFromKey(key), nil
}

// Address returns the account address of the signer.
func (s *Signer) Address() common.Address {
	if s == nil {
		return common.Address{}
	}
	return s.address
}

// SignTx signs tx for the given chain.
func (s *Signer) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if s == nil || s.key == nil {
		return nil, fmt.Errorf("signer is nil")
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}
