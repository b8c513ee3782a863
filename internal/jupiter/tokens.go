package jupiter

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Token is a swappable SPL token.
type Token struct {
	Symbol   string `yaml:"symbol" json:"symbol"`
	Mint     string `yaml:"mint" json:"mint"`
	Decimals int32  `yaml:"decimals" json:"decimals"`
}

// ToBase converts a UI amount to base units, truncating sub-unit dust.
func (t Token) ToBase(ui decimal.Decimal) decimal.Decimal {
	return ui.Shift(t.Decimals).Truncate(0)
}

// ToUI converts base units to a UI amount.
func (t Token) ToUI(base decimal.Decimal) decimal.Decimal {
	return base.Shift(-t.Decimals)
}

// TokenTable resolves tokens by symbol or mint.
type TokenTable struct {
	bySymbol map[string]Token
	byMint   map[string]Token
}

// DefaultTokens is the built-in token list.
func DefaultTokens() []Token {
	return []Token{
		{Symbol: "SOL", Mint: "So11111111111111111111111111111111111111112", Decimals: 9},
		{Symbol: "USDC", Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6},
		{Symbol: "USDT", Mint: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", Decimals: 6},
		{Symbol: "JUP", Mint: "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN", Decimals: 6},
		{Symbol: "BONK", Mint: "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263", Decimals: 5},
	}
}

// NewTokenTable indexes tokens. Symbols are case-insensitive.
func NewTokenTable(tokens []Token) (*TokenTable, error) {
	tt := &TokenTable{
		bySymbol: make(map[string]Token, len(tokens)),
		byMint:   make(map[string]Token, len(tokens)),
	}
	for _, tok := range tokens {
		if tok.Symbol == "" || tok.Mint == "" {
			return nil, fmt.Errorf("jupiter: token %q: symbol and mint are required", tok.Symbol)
		}
		if tok.Decimals < 0 || tok.Decimals > 18 {
			return nil, fmt.Errorf("jupiter: token %s: decimals %d out of range", tok.Symbol, tok.Decimals)
		}
		sym := strings.ToUpper(tok.Symbol)
		if _, dup := tt.bySymbol[sym]; dup {
			return nil, fmt.Errorf("jupiter: duplicate token symbol %s", sym)
		}
		tok.Symbol = sym
		tt.bySymbol[sym] = tok
		tt.byMint[tok.Mint] = tok
	}
	return tt, nil
}

// Lookup resolves a symbol or mint address.
func (tt *TokenTable) Lookup(asset string) (Token, bool) {
	if tok, ok := tt.bySymbol[strings.ToUpper(asset)]; ok {
		return tok, true
	}
	tok, ok := tt.byMint[asset]
	return tok, ok
}
