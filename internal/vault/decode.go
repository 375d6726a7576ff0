package vault

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"liquidAgent/internal/model"
)

// EventTopics returns the topic0 hashes of every vault event.
func EventTopics() ([]common.Hash, error) {
	vaultABI, err := VaultABI()
	if err != nil {
		return nil, err
	}
	return []common.Hash{
		vaultABI.Events["RebalanceProposed"].ID,
		vaultABI.Events["RebalanceExecuted"].ID,
		vaultABI.Events["AgentAuthorityUpdated"].ID,
	}, nil
}

// DecodeLog converts a raw vault log into a VaultEvent. Block timestamp is
// left for the caller to fill.
func DecodeLog(log types.Log) (model.VaultEvent, error) {
	vaultABI, err := VaultABI()
	if err != nil {
		return model.VaultEvent{}, err
	}
	if len(log.Topics) == 0 {
		return model.VaultEvent{}, fmt.Errorf("missing topics")
	}
	event, err := vaultABI.EventByID(log.Topics[0])
	if err != nil {
		return model.VaultEvent{}, fmt.Errorf("unsupported topic0: %s", log.Topics[0].Hex())
	}

	ev := model.VaultEvent{
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
		LogIndex:    uint64(log.Index),
	}

	switch event.Name {
	case "RebalanceProposed", "RebalanceExecuted":
		var indexed struct {
			ProposalId *big.Int
		}
		if err := parseIndexed(event, log.Topics, &indexed); err != nil {
			return model.VaultEvent{}, err
		}
		if !indexed.ProposalId.IsUint64() {
			return model.VaultEvent{}, fmt.Errorf("proposal id does not fit in uint64: %s", indexed.ProposalId)
		}
		ev.ProposalID = indexed.ProposalId.Uint64()

		values, err := event.Inputs.NonIndexed().Unpack(log.Data)
		if err != nil {
			return model.VaultEvent{}, fmt.Errorf("unpack %s: %w", event.Name, err)
		}
		if len(values) < 2 {
			return model.VaultEvent{}, fmt.Errorf("unexpected %s values: %d", event.Name, len(values))
		}
		pools, ok := values[0].([]common.Address)
		if !ok {
			return model.VaultEvent{}, fmt.Errorf("unsupported pools type %T", values[0])
		}
		ratios, err := asUint64Slice(values[1])
		if err != nil {
			return model.VaultEvent{}, err
		}
		ev.Pools = addressStrings(pools)
		ev.Ratios = ratios

		if event.Name == "RebalanceProposed" {
			ev.Kind = model.EventRebalanceProposed
			if len(values) != 3 {
				return model.VaultEvent{}, fmt.Errorf("unexpected %s values: %d", event.Name, len(values))
			}
			reason, ok := values[2].(string)
			if !ok {
				return model.VaultEvent{}, fmt.Errorf("unsupported reason type %T", values[2])
			}
			ev.Reason = reason
		} else {
			ev.Kind = model.EventRebalanceExecuted
		}

	case "AgentAuthorityUpdated":
		var indexed struct {
			OldAuthority common.Address
			NewAuthority common.Address
		}
		if err := parseIndexed(event, log.Topics, &indexed); err != nil {
			return model.VaultEvent{}, err
		}
		ev.Kind = model.EventAgentAuthorityUpdated
		ev.OldAuthority = indexed.OldAuthority.Hex()
		ev.NewAuthority = indexed.NewAuthority.Hex()

	default:
		return model.VaultEvent{}, fmt.Errorf("unsupported event: %s", event.Name)
	}

	return ev, nil
}

func parseIndexed(event *abi.Event, topics []common.Hash, out interface{}) error {
	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(topics) != len(indexed)+1 {
		return fmt.Errorf("expected %d topics, got %d", len(indexed)+1, len(topics))
	}
	if err := abi.ParseTopics(out, indexed, topics[1:]); err != nil {
		return fmt.Errorf("parse topics: %w", err)
	}
	return nil
}

func asUint64Slice(value interface{}) ([]uint64, error) {
	items, ok := value.([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("unsupported ratios type %T", value)
	}
	out := make([]uint64, 0, len(items))
	for _, item := range items {
		if !item.IsUint64() {
			return nil, fmt.Errorf("ratio does not fit in uint64: %s", item)
		}
		out = append(out, item.Uint64())
	}
	return out, nil
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}
