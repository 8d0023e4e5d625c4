package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func testTokens() []Token {
	return []Token{
		{Symbol: "hype", Name: "Hyperliquid", Decimals: 18, Native: true},
		{Symbol: "USDT", Name: "Tether USD", Address: "0xb8ce59fc3717ada4c02eadf9682a9e934f625ebb", Decimals: 6},
		{Symbol: "UETH", Name: "Unit Ethereum", Address: "0xBe6727B535545C67d5cAa73dEa54865B92CF7907", Decimals: 18},
	}
}

func TestNewNormalizesSymbolsAndAddresses(t *testing.T) {
	reg, err := New(testTokens())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	token, ok := reg.Lookup("hype")
	if !ok {
		t.Fatalf("expected HYPE lookup to succeed")
	}
	if token.Symbol != "HYPE" {
		t.Fatalf("expected upper-cased symbol, got %s", token.Symbol)
	}
	if !token.Native || token.Address != "" {
		t.Fatalf("native token must carry no address")
	}
	byAddr, ok := reg.LookupAddress("0xB8CE59FC3717ada4C02eaDF9682A9e934F625ebb")
	if !ok {
		t.Fatalf("expected case-insensitive address lookup")
	}
	if byAddr.Symbol != "USDT" {
		t.Fatalf("unexpected token %s", byAddr.Symbol)
	}
}

func TestNewRejectsDuplicatesAndBadAddresses(t *testing.T) {
	tokens := testTokens()
	tokens = append(tokens, Token{Symbol: "usdt", Address: "0xb8ce59fc3717ada4c02eadf9682a9e934f625ebb", Decimals: 6})
	if _, err := New(tokens); err == nil {
		t.Fatalf("expected duplicate symbol error")
	}
	if _, err := New([]Token{{Symbol: "BAD", Address: "not-an-address", Decimals: 18}}); err == nil {
		t.Fatalf("expected invalid address error")
	}
	if _, err := New(nil); err == nil {
		t.Fatalf("expected empty registry error")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.toml")
	contents := `
[[tokens]]
symbol = "HYPE"
name = "Hyperliquid"
decimals = 18
native = true

[[tokens]]
symbol = "USDT"
name = "Tether USD"
address = "0xb8ce59fc3717ada4c02eadf9682a9e934f625ebb"
decimals = 6
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write registry file: %v", err)
	}
	reg, err := Load(path)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	if got := len(reg.Tokens()); got != 2 {
		t.Fatalf("expected 2 tokens, got %d", got)
	}
	symbols := reg.Symbols()
	if symbols[0] != "HYPE" || symbols[1] != "USDT" {
		t.Fatalf("unexpected symbol order %v", symbols)
	}
}
