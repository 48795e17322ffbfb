package facilitator

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"claimScope/internal/model"
)

// CallClient is the subset of chain.Client used for contract view calls.
type CallClient interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// Reader reads Facilitator view methods.
type Reader struct {
	contract    common.Address
	client      CallClient
	facilityABI abi.ABI
	logger      *zap.Logger
}

// NewReader builds a Reader for the contract.
func NewReader(contract common.Address, client CallClient, logger *zap.Logger) (*Reader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	facilityABI, err := FacilityABI()
	if err != nil {
		return nil, fmt.Errorf("parse facility abi: %w", err)
	}
	return &Reader{
		contract:    contract,
		client:      client,
		facilityABI: facilityABI,
		logger:      logger,
	}, nil
}

// TokenAllocation returns allocatedTokens(account).
func (r *Reader) TokenAllocation(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error) {
	return r.callUint(ctx, "allocatedTokens", block, account)
}

// ClaimedTokens returns claimedTokens(account).
func (r *Reader) ClaimedTokens(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error) {
	return r.callUint(ctx, "claimedTokens", block, account)
}

// GasAvailable returns availableBudget(account).
func (r *Reader) GasAvailable(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error) {
	return r.callUint(ctx, "availableBudget", block, account)
}

// GasUsed returns usedBudget(account).
func (r *Reader) GasUsed(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error) {
	return r.callUint(ctx, "usedBudget", block, account)
}

// OracleWeiRequired returns GAS_COST * GAS_PRICE, the value a funding transaction must carry.
func (r *Reader) OracleWeiRequired(ctx context.Context, block *big.Int) (gasCost, gasPrice, required *big.Int, err error) {
	gasCost, err = r.callUint(ctx, "GAS_COST", block)
	if err != nil {
		return nil, nil, nil, err
	}
	gasPrice, err = r.callUint(ctx, "GAS_PRICE", block)
	if err != nil {
		return nil, nil, nil, err
	}
	return gasCost, gasPrice, new(big.Int).Mul(gasCost, gasPrice), nil
}

// Snapshot reads every account view at one block so the values are consistent.
func (r *Reader) Snapshot(ctx context.Context, account string) (model.FacilitatorSnapshot, error) {
	if r == nil || r.client == nil {
		return model.FacilitatorSnapshot{}, ErrNotInitialized
	}
	accountAddr, err := ParseAddress(account)
	if err != nil {
		return model.FacilitatorSnapshot{}, err
	}

	latest, err := r.client.LatestBlockNumber(ctx)
	if err != nil {
		return model.FacilitatorSnapshot{}, fmt.Errorf("get latest block: %w", err)
	}
	block := new(big.Int).SetUint64(latest)

	allocation, err := r.TokenAllocation(ctx, accountAddr, block)
	if err != nil {
		return model.FacilitatorSnapshot{}, err
	}
	claimed, err := r.ClaimedTokens(ctx, accountAddr, block)
	if err != nil {
		return model.FacilitatorSnapshot{}, err
	}
	available, err := r.GasAvailable(ctx, accountAddr, block)
	if err != nil {
		return model.FacilitatorSnapshot{}, err
	}
	used, err := r.GasUsed(ctx, accountAddr, block)
	if err != nil {
		return model.FacilitatorSnapshot{}, err
	}
	gasCost, gasPrice, required, err := r.OracleWeiRequired(ctx, block)
	if err != nil {
		return model.FacilitatorSnapshot{}, err
	}

	return model.FacilitatorSnapshot{
		Account:           accountAddr.Hex(),
		BlockNumber:       latest,
		TokenAllocation:   allocation.String(),
		ClaimedTokens:     claimed.String(),
		GasAvailable:      available.String(),
		GasUsed:           used.String(),
		GasCost:           gasCost.String(),
		GasPrice:          gasPrice.String(),
		OracleWeiRequired: required.String(),
	}, nil
}

func (r *Reader) callUint(ctx context.Context, method string, block *big.Int, args ...interface{}) (*big.Int, error) {
	if r == nil || r.client == nil {
		return nil, ErrNotInitialized
	}
	data, err := r.facilityABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &r.contract, Data: data}
	resp, err := r.client.CallContract(ctx, msg, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := r.facilityABI.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected %s values: %d", method, len(values))
	}
	return asBigInt(values[0])
}
