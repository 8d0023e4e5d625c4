package balances

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"condor/registry"
)

// balanceOf(address) selector.
var balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// ChainClient is the read-only subset of the EVM RPC client the fetcher
// needs. *ethclient.Client satisfies it.
type ChainClient interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Fetcher performs batched balance lookups across the registry token set.
// It never mutates chain state.
type Fetcher struct {
	client ChainClient
	reg    *registry.Registry
}

// NewFetcher constructs a fetcher over the supplied client and registry.
func NewFetcher(client ChainClient, reg *registry.Registry) (*Fetcher, error) {
	if client == nil {
		return nil, fmt.Errorf("chain client required")
	}
	if reg == nil {
		return nil, fmt.Errorf("token registry required")
	}
	return &Fetcher{client: client, reg: reg}, nil
}

// Fetch resolves the wallet's balance for every registry token. Individual
// token failures zero that entry rather than failing the batch; only a
// cancelled context aborts.
func (f *Fetcher) Fetch(ctx context.Context, wallet string) (map[string]string, error) {
	if f == nil {
		return nil, fmt.Errorf("fetcher not configured")
	}
	trimmed := strings.TrimSpace(wallet)
	if !common.IsHexAddress(trimmed) {
		return nil, fmt.Errorf("invalid wallet address %q", wallet)
	}
	account := common.HexToAddress(trimmed)
	out := make(map[string]string)
	for _, token := range f.reg.Tokens() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := f.fetchOne(ctx, account, token)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			out[token.Symbol] = "0"
			continue
		}
		out[token.Symbol] = FormatUnits(raw, token.Decimals)
	}
	return out, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, account common.Address, token registry.Token) (*uint256.Int, error) {
	if token.Native {
		raw, err := f.client.BalanceAt(ctx, account, nil)
		if err != nil {
			return nil, fmt.Errorf("native balance: %w", err)
		}
		amount, overflow := uint256.FromBig(raw)
		if overflow {
			return nil, fmt.Errorf("native balance overflows uint256")
		}
		return amount, nil
	}
	contract := common.HexToAddress(token.Address)
	data := make([]byte, 0, 36)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(account.Bytes(), 32)...)
	result, err := f.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf %s: %w", token.Symbol, err)
	}
	if len(result) == 0 {
		return uint256.NewInt(0), nil
	}
	if len(result) > 32 {
		result = result[len(result)-32:]
	}
	amount, overflow := uint256.FromBig(new(big.Int).SetBytes(result))
	if overflow {
		return nil, fmt.Errorf("balanceOf %s overflows uint256", token.Symbol)
	}
	return amount, nil
}

// FormatUnits renders a raw chain amount as a decimal string scaled by the
// token's decimals, with trailing zeros trimmed.
func FormatUnits(amount *uint256.Int, decimals uint8) string {
	if amount == nil || amount.IsZero() {
		return "0"
	}
	digits := amount.Dec()
	if decimals == 0 {
		return digits
	}
	if len(digits) <= int(decimals) {
		digits = strings.Repeat("0", int(decimals)-len(digits)+1) + digits
	}
	split := len(digits) - int(decimals)
	whole, frac := digits[:split], digits[split:]
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}
