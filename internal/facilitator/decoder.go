package facilitator

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"claimScope/internal/model"
)

// Decoder turns raw Facilitator logs into typed events.
type Decoder struct {
	facilityABI abi.ABI
	topicToKind map[common.Hash]model.EventKind
	kindToEvent map[model.EventKind]abi.Event
}

// NewDecoder builds a decoder for every Facilitator event.
func NewDecoder() (*Decoder, error) {
	facilityABI, err := FacilityABI()
	if err != nil {
		return nil, fmt.Errorf("parse facility abi: %w", err)
	}

	d := &Decoder{
		facilityABI: facilityABI,
		topicToKind: make(map[common.Hash]model.EventKind),
		kindToEvent: make(map[model.EventKind]abi.Event),
	}
	kinds := append([]model.EventKind{}, model.ClaimEventKinds...)
	kinds = append(kinds, model.KindGasBudgetUpdated)
	for _, kind := range kinds {
		event, ok := facilityABI.Events[kind.String()]
		if !ok {
			return nil, fmt.Errorf("facility abi missing event %s", kind)
		}
		d.topicToKind[event.ID] = kind
		d.kindToEvent[kind] = event
	}
	return d, nil
}

// Topic0 returns the event signature hash for a kind.
func (d *Decoder) Topic0(kind model.EventKind) (common.Hash, error) {
	event, ok := d.kindToEvent[kind]
	if !ok {
		return common.Hash{}, fmt.Errorf("unsupported event kind: %s", kind)
	}
	return event.ID, nil
}

// CanDecode checks if the log's topic0 is a Facilitator event.
func (d *Decoder) CanDecode(log types.Log) bool {
	if len(log.Topics) == 0 {
		return false
	}
	_, ok := d.topicToKind[log.Topics[0]]
	return ok
}

// Decode converts a raw log into a typed event. Timestamp is left unresolved.
func (d *Decoder) Decode(log types.Log) (model.Event, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("missing topics")
	}
	kind, ok := d.topicToKind[log.Topics[0]]
	if !ok {
		return nil, fmt.Errorf("unsupported topic0: %s", log.Topics[0].Hex())
	}
	event := d.kindToEvent[kind]

	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return nil, err
	}
	var indexed struct {
		Account common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return nil, fmt.Errorf("parse %s topics: %w", event.Name, err)
	}

	meta := model.LogMeta{
		Account:     indexed.Account.Hex(),
		BlockNumber: log.BlockNumber,
		TxIndex:     uint64(log.TxIndex),
		LogIndex:    uint64(log.Index),
		TxHash:      log.TxHash.Hex(),
		BlockHash:   log.BlockHash.Hex(),
	}

	switch kind {
	case model.KindRequestingUpdate:
		return model.RequestingUpdate{LogMeta: meta}, nil
	case model.KindAllocationUpdated:
		amount, err := unpackAmount(event, log.Data)
		if err != nil {
			return nil, err
		}
		return model.AllocationUpdated{LogMeta: meta, Amount: amount}, nil
	case model.KindAllocationClaimed:
		amount, err := unpackAmount(event, log.Data)
		if err != nil {
			return nil, err
		}
		return model.AllocationClaimed{LogMeta: meta, Amount: amount}, nil
	case model.KindGasBudgetUpdated:
		amount, err := unpackAmount(event, log.Data)
		if err != nil {
			return nil, err
		}
		return model.GasBudgetUpdated{LogMeta: meta, Amount: amount}, nil
	default:
		return nil, fmt.Errorf("unsupported event kind: %s", kind)
	}
}

func parseIndexedTopics(event abi.Event, topics []common.Hash) ([]common.Hash, error) {
	indexedCount := len(indexedArguments(event.Inputs))
	if len(topics) != indexedCount+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", indexedCount+1, len(topics))
	}
	return topics[1:], nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func unpackAmount(event abi.Event, data []byte) (*big.Int, error) {
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected %s values: %d", event.Name, len(values))
	}
	return asBigInt(values[0])
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch typed := value.(type) {
	case *big.Int:
		return new(big.Int).Set(typed), nil
	case big.Int:
		return new(big.Int).Set(&typed), nil
	default:
		return nil, fmt.Errorf("unexpected integer type %T", value)
	}
}

func topicFromAddress(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}
