package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrReverted is returned when a mined transaction has a failed status.
	ErrReverted = errors.New("transaction reverted")
	// ErrConfirmTimeout is returned when no receipt arrives in time.
	ErrConfirmTimeout = errors.New("confirmation timed out")
)

// Stage names the step of a transaction that failed.
type Stage string

const (
	StageNonce    Stage = "nonce"
	StageGasPrice Stage = "gas_price"
	StageEstimate Stage = "estimate_gas"
	StageSign     Stage = "sign"
	StageSend     Stage = "send"
	StageConfirm  Stage = "confirm"
	StageCall     Stage = "call"
)

// TxError is a transport failure with the stage and transaction it belongs to.
type TxError struct {
	Stage  Stage
	TxHash common.Hash
	Err    error
}

func (e *TxError) Error() string {
	if e.TxHash != (common.Hash{}) {
		return fmt.Sprintf("%s %s: %v", e.Stage, e.TxHash.Hex(), e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }

// TxOptions tunes transaction submission.
type TxOptions struct {
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

func (o TxOptions) withDefaults() TxOptions {
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = 2 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 3 * time.Second
	}
	return o
}

// Transact signs and sends a call to contract `to`, then waits for its receipt.
// The returned receipt always has a successful status.
func Transact(ctx context.Context, backend Backend, signer *Signer, to common.Address, data []byte, opts TxOptions) (*types.Receipt, error) {
	opts = opts.withDefaults()
	from := signer.Address()

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, &TxError{Stage: StageNonce, Err: fmt.Errorf("chain id: %w", err)}
	}

	nonce, err := backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, &TxError{Stage: StageNonce, Err: err}
	}

	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, &TxError{Stage: StageGasPrice, Err: err}
	}
	gasPrice = new(big.Int).Div(new(big.Int).Mul(gasPrice, big.NewInt(11)), big.NewInt(10))

	gas, err := backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     from,
		To:       &to,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		// A failed estimate usually means the call would revert.
		return nil, &TxError{Stage: StageEstimate, Err: err}
	}
	gas = gas * 12 / 10

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := signer.SignTx(tx, chainID)
	if err != nil {
		return nil, &TxError{Stage: StageSign, Err: err}
	}

	if err := backend.SendTransaction(ctx, signed); err != nil {
		return nil, &TxError{Stage: StageSend, TxHash: signed.Hash(), Err: err}
	}

	return WaitReceipt(ctx, backend, signed.Hash(), opts)
}

// WaitReceipt polls for a receipt until it is mined, the timeout passes, or
// ctx is done.
func WaitReceipt(ctx context.Context, backend Backend, hash common.Hash, opts TxOptions) (*types.Receipt, error) {
	opts = opts.withDefaults()
	waitCtx, cancel := context.WithTimeout(ctx, opts.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := backend.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, &TxError{Stage: StageConfirm, TxHash: hash, Err: ErrReverted}
			}
			return receipt, nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, &TxError{Stage: StageConfirm, TxHash: hash, Err: ctx.Err()}
			}
			return nil, &TxError{Stage: StageConfirm, TxHash: hash, Err: ErrConfirmTimeout}
		case <-ticker.C:
		}
	}
}
