package chain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const registryABI = `[{"constant":true,"inputs":[{"name":"actionType","type":"uint8"}],"name":"actionRewards","outputs":[{"name":"baseReward","type":"uint256"},{"name":"multiplier","type":"uint256"}],"payable":false,"stateMutability":"view","type":"function"},{"constant":true,"inputs":[{"name":"user","type":"address"}],"name":"userGameStats","outputs":[{"name":"level","type":"uint256"},{"name":"journeysCompleted","type":"uint256"},{"name":"referralCount","type":"uint256"},{"name":"referralEarnings","type":"uint256"}],"payable":false,"stateMutability":"view","type":"function"},{"constant":false,"inputs":[{"name":"user","type":"address"},{"name":"actionType","type":"uint8"},{"name":"baseAmount","type":"uint256"},{"name":"qualityScore","type":"uint256"},{"name":"actionId","type":"string"},{"name":"extraData","type":"bytes"}],"name":"processAction","outputs":[],"payable":false,"stateMutability":"nonpayable","type":"function"}]`

const tokenABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"payable":false,"stateMutability":"view","type":"function"},{"constant":true,"inputs":[{"name":"user","type":"address"}],"name":"userStats","outputs":[{"name":"totalEarned","type":"uint256"},{"name":"totalWords","type":"uint256"},{"name":"totalCharacters","type":"uint256"},{"name":"qualityScore","type":"uint256"},{"name":"lastActive","type":"uint256"},{"name":"contributionDays","type":"uint256"},{"name":"currentStreak","type":"uint256"},{"name":"longestStreak","type":"uint256"}],"payable":false,"stateMutability":"view","type":"function"}]`

// Registry binds the contribution registry contract: reward
// configuration, per-user game stats and action settlement.
type Registry struct {
	contract *bind.BoundContract
	address  common.Address
}

func NewRegistry(address common.Address, backend bind.ContractBackend) (*Registry, error) {
	parsedABI, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, err
	}

	boundContract := bind.NewBoundContract(address, parsedABI, backend, backend, backend)

	return &Registry{
		contract: boundContract,
		address:  address,
	}, nil
}

func (r *Registry) Address() common.Address {
	return r.address
}

func (r *Registry) ActionRewards(opts *bind.CallOpts, actionType uint8) (*big.Int, *big.Int, error) {
	var out []interface{}
	err := r.contract.Call(opts, &out, "actionRewards", actionType)
	if err != nil {
		return nil, nil, err
	}
	return out[0].(*big.Int), out[1].(*big.Int), nil
}

func (r *Registry) UserGameStats(opts *bind.CallOpts, user common.Address) ([]*big.Int, error) {
	var out []interface{}
	err := r.contract.Call(opts, &out, "userGameStats", user)
	if err != nil {
		return nil, err
	}
	stats := make([]*big.Int, len(out))
	for i := range out {
		stats[i] = out[i].(*big.Int)
	}
	return stats, nil
}

func (r *Registry) ProcessAction(opts *bind.TransactOpts, user common.Address, actionType uint8, baseAmount, qualityScore *big.Int, actionID string, extraData []byte) (*types.Transaction, error) {
	return r.contract.Transact(opts, "processAction", user, actionType, baseAmount, qualityScore, actionID, extraData)
}

// Token binds the CTXT token contract.
type Token struct {
	contract *bind.BoundContract
	address  common.Address
}

func NewToken(address common.Address, backend bind.ContractBackend) (*Token, error) {
	parsedABI, err := abi.JSON(strings.NewReader(tokenABI))
	if err != nil {
		return nil, err
	}

	boundContract := bind.NewBoundContract(address, parsedABI, backend, backend, backend)

	return &Token{
		contract: boundContract,
		address:  address,
	}, nil
}

func (t *Token) Address() common.Address {
	return t.address
}

func (t *Token) BalanceOf(opts *bind.CallOpts, owner common.Address) (*big.Int, error) {
	var out []interface{}
	err := t.contract.Call(opts, &out, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (t *Token) UserStats(opts *bind.CallOpts, user common.Address) ([]*big.Int, error) {
	var out []interface{}
	err := t.contract.Call(opts, &out, "userStats", user)
	if err != nil {
		return nil, err
	}
	stats := make([]*big.Int, len(out))
	for i := range out {
		stats[i] = out[i].(*big.Int)
	}
	return stats, nil
}
