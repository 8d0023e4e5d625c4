package registry

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Token describes a tradable asset known to the service. Identity is the
// symbol; the contract address is a secondary lookup key for ERC20 assets.
type Token struct {
	Symbol   string `toml:"symbol" json:"symbol"`
	Name     string `toml:"name" json:"name"`
	Address  string `toml:"address" json:"address,omitempty"`
	Decimals uint8  `toml:"decimals" json:"decimals"`
	Icon     string `toml:"icon" json:"icon,omitempty"`
	Native   bool   `toml:"native" json:"native"`
}

// Registry holds the immutable token set loaded at boot.
type Registry struct {
	bySymbol  map[string]Token
	byAddress map[string]Token
	ordered   []Token
}

type registryFile struct {
	Tokens []Token `toml:"tokens"`
}

// Load reads the token registry from a TOML file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	var file registryFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	return New(file.Tokens)
}

// New builds a registry from the supplied token list.
func New(tokens []Token) (*Registry, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("registry requires at least one token")
	}
	reg := &Registry{
		bySymbol:  make(map[string]Token, len(tokens)),
		byAddress: make(map[string]Token, len(tokens)),
		ordered:   make([]Token, 0, len(tokens)),
	}
	for _, token := range tokens {
		symbol := strings.ToUpper(strings.TrimSpace(token.Symbol))
		if symbol == "" {
			return nil, fmt.Errorf("token symbol required")
		}
		if _, exists := reg.bySymbol[symbol]; exists {
			return nil, fmt.Errorf("duplicate token symbol %s", symbol)
		}
		if token.Decimals > 36 {
			return nil, fmt.Errorf("token %s: decimals out of range", symbol)
		}
		address := strings.TrimSpace(token.Address)
		if token.Native {
			if address != "" {
				return nil, fmt.Errorf("token %s: native token must not carry an address", symbol)
			}
		} else {
			if !common.IsHexAddress(address) {
				return nil, fmt.Errorf("token %s: invalid contract address %q", symbol, address)
			}
			address = common.HexToAddress(address).Hex()
		}
		token.Symbol = symbol
		token.Address = address
		reg.bySymbol[symbol] = token
		if address != "" {
			reg.byAddress[strings.ToLower(address)] = token
		}
		reg.ordered = append(reg.ordered, token)
	}
	sort.Slice(reg.ordered, func(i, j int) bool {
		return reg.ordered[i].Symbol < reg.ordered[j].Symbol
	})
	return reg, nil
}

// Lookup resolves a token by symbol.
func (r *Registry) Lookup(symbol string) (Token, bool) {
	if r == nil {
		return Token{}, false
	}
	token, ok := r.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	return token, ok
}

// LookupAddress resolves a token by its case-normalized contract address.
func (r *Registry) LookupAddress(address string) (Token, bool) {
	if r == nil {
		return Token{}, false
	}
	token, ok := r.byAddress[strings.ToLower(strings.TrimSpace(address))]
	return token, ok
}

// Tokens returns the full token set ordered by symbol.
func (r *Registry) Tokens() []Token {
	if r == nil {
		return nil
	}
	return append([]Token{}, r.ordered...)
}

// Symbols returns the ordered symbol list.
func (r *Registry) Symbols() []string {
	if r == nil {
		return nil
	}
	symbols := make([]string, 0, len(r.ordered))
	for _, token := range r.ordered {
		symbols = append(symbols, token.Symbol)
	}
	return symbols
}
