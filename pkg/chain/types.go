package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Client wraps every on-chain interaction the reward pipeline needs:
// reward configuration reads, balance/stats reads and settlement
// transaction submission from the single backend signer.
type Client interface {
	SignerAddress() common.Address
	PendingNonce(ctx context.Context) (uint64, error)
	ReadActionConfig(ctx context.Context, actionCode uint8) (ActionConfig, error)
	ReadBalance(ctx context.Context, wallet common.Address) (float64, error)
	ReadUserStats(ctx context.Context, wallet common.Address) (UserLedgerStats, error)
	SubmitAction(ctx context.Context, sub ActionSubmission) (string, error)
}

// ActionConfig is the ledger-published (base reward, multiplier) pair
// for one action type. Multiplier is stored on-chain in basis points
// and converted to a plain factor here.
type ActionConfig struct {
	BaseReward float64
	Multiplier float64
}

// UserLedgerStats is the authoritative per-wallet snapshot assembled
// from the token and registry contracts.
type UserLedgerStats struct {
	Balance          float64
	TotalEarned      float64
	TotalWords       int64
	TotalCharacters  int64
	QualityScore     float64
	LastActive       time.Time
	ContributionDays int64
	CurrentStreak    int64
	LongestStreak    int64
	JourneyCount     int64
	ReferralCount    int64
	ReferralEarnings float64
}

// ActionSubmission is one settlement transaction.
type ActionSubmission struct {
	Wallet       common.Address
	ActionCode   uint8
	BaseAmount   float64
	QualityScore float64
	ActionID     string
	ExtraData    []byte
	Nonce        uint64
}

// SubmitError wraps any failure between transaction construction and
// acceptance by the RPC node. It is always recoverable from the
// processor's point of view and drives a retry.
type SubmitError struct {
	ActionID string
	Err      error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("submit action %s: %v", e.ActionID, e.Err)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

const tokenDecimals = 18

var weiPerToken = new(big.Float).SetFloat64(1e18)

// IsValidAddress reports whether s is a well-formed hex address.
func IsValidAddress(s string) bool {
	return common.IsHexAddress(s)
}

// ChecksumAddress normalises s to its EIP-55 checksummed form.
func ChecksumAddress(s string) string {
	return common.HexToAddress(s).Hex()
}

// TokensToWei converts a CTXT amount to wei.
func TokensToWei(amount float64) *big.Int {
	f := new(big.Float).Mul(new(big.Float).SetFloat64(amount), weiPerToken)
	wei, _ := f.Int(nil)
	return wei
}

// WeiToTokens converts wei to a CTXT amount.
func WeiToTokens(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerToken)
	out, _ := f.Float64()
	return out
}

// QualityBasisPoints scales a [0,1] quality score to the contract's
// basis point representation.
func QualityBasisPoints(q float64) *big.Int {
	return big.NewInt(int64(q * 10000))
}
