package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	"contextly-rewards/pkg/config"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("chain",
	fx.Provide(New),
)

type EthClient struct {
	rpc      *ethclient.Client
	registry *Registry
	token    *Token

	signerKey  *ecdsa.PrivateKey
	signerAddr common.Address
	chainID    *big.Int
	gasLimit   uint64
	timeout    time.Duration
}

type Params struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
}

func New(p Params) (Client, error) {
	rpc, err := ethclient.Dial(p.Config.Chain.RPCURL)
	if err != nil {
		return nil, err
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(p.Config.Chain.SignerKey, "0x"))
	if err != nil {
		return nil, err
	}
	signerAddr := crypto.PubkeyToAddress(key.PublicKey)

	registry, err := NewRegistry(common.HexToAddress(p.Config.Chain.RegistryAddress), rpc)
	if err != nil {
		return nil, err
	}

	token, err := NewToken(common.HexToAddress(p.Config.Chain.TokenAddress), rpc)
	if err != nil {
		return nil, err
	}

	c := &EthClient{
		rpc:        rpc,
		registry:   registry,
		token:      token,
		signerKey:  key,
		signerAddr: signerAddr,
		chainID:    big.NewInt(p.Config.Chain.ChainID),
		gasLimit:   p.Config.Chain.GasLimit,
		timeout:    p.Config.Chain.SubmitTimeout,
	}

	zap.L().Info("[Chain] ✅ Chain client initialized",
		zap.String("rpc_url", p.Config.Chain.RPCURL),
		zap.String("signer", signerAddr.Hex()),
		zap.Int64("chain_id", p.Config.Chain.ChainID),
	)

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			rpc.Close()
			return nil
		},
	})

	return c, nil
}

func (c *EthClient) SignerAddress() common.Address {
	return c.signerAddr
}

func (c *EthClient) PendingNonce(ctx context.Context) (uint64, error) {
	return c.rpc.PendingNonceAt(ctx, c.signerAddr)
}

func (c *EthClient) ReadActionConfig(ctx context.Context, actionCode uint8) (ActionConfig, error) {
	baseReward, multiplier, err := c.registry.ActionRewards(&bind.CallOpts{Context: ctx}, actionCode)
	if err != nil {
		return ActionConfig{}, err
	}

	return ActionConfig{
		BaseReward: WeiToTokens(baseReward),
		Multiplier: float64(multiplier.Int64()) / 10000,
	}, nil
}

func (c *EthClient) ReadBalance(ctx context.Context, wallet common.Address) (float64, error) {
	balance, err := c.token.BalanceOf(&bind.CallOpts{Context: ctx}, wallet)
	if err != nil {
		return 0, err
	}
	return WeiToTokens(balance), nil
}

func (c *EthClient) ReadUserStats(ctx context.Context, wallet common.Address) (UserLedgerStats, error) {
	tokenStats, err := c.token.UserStats(&bind.CallOpts{Context: ctx}, wallet)
	if err != nil {
		return UserLedgerStats{}, err
	}

	gameStats, err := c.registry.UserGameStats(&bind.CallOpts{Context: ctx}, wallet)
	if err != nil {
		return UserLedgerStats{}, err
	}

	balance, err := c.token.BalanceOf(&bind.CallOpts{Context: ctx}, wallet)
	if err != nil {
		return UserLedgerStats{}, err
	}

	return UserLedgerStats{
		Balance:          WeiToTokens(balance),
		TotalEarned:      WeiToTokens(tokenStats[0]),
		TotalWords:       tokenStats[1].Int64(),
		TotalCharacters:  tokenStats[2].Int64(),
		QualityScore:     float64(tokenStats[3].Int64()) / 100,
		LastActive:       time.Unix(tokenStats[4].Int64(), 0).UTC(),
		ContributionDays: tokenStats[5].Int64(),
		CurrentStreak:    tokenStats[6].Int64(),
		LongestStreak:    tokenStats[7].Int64(),
		JourneyCount:     gameStats[1].Int64(),
		ReferralCount:    gameStats[2].Int64(),
		ReferralEarnings: WeiToTokens(gameStats[3]),
	}, nil
}

func (c *EthClient) SubmitAction(ctx context.Context, sub ActionSubmission) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	opts, err := bind.NewKeyedTransactorWithChainID(c.signerKey, c.chainID)
	if err != nil {
		return "", &SubmitError{ActionID: sub.ActionID, Err: err}
	}
	opts.Context = ctx
	opts.Nonce = new(big.Int).SetUint64(sub.Nonce)
	opts.GasLimit = c.gasLimit

	tx, err := c.registry.ProcessAction(
		opts,
		sub.Wallet,
		sub.ActionCode,
		TokensToWei(sub.BaseAmount),
		QualityBasisPoints(sub.QualityScore),
		sub.ActionID,
		sub.ExtraData,
	)
	if err != nil {
		return "", &SubmitError{ActionID: sub.ActionID, Err: err}
	}

	zap.L().Info("📤 Action transaction sent",
		zap.String("action_id", sub.ActionID),
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.Uint64("nonce", sub.Nonce),
	)

	return tx.Hash().Hex(), nil
}
