package jupiter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/solstake/ledger-engine/internal/ledger"
	"github.com/solstake/ledger-engine/internal/model"
)

const (
	solMint  = "So11111111111111111111111111111111111111112"
	usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTestClient(t *testing.T, h http.HandlerFunc, sub Submitter) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	tokens, err := NewTokenTable(DefaultTokens())
	if err != nil {
		t.Fatalf("NewTokenTable: %v", err)
	}
	return New(srv.URL, tokens, sub, 0)
}

const sampleQuote = `{
  "inputMint": "So11111111111111111111111111111111111111112",
  "inAmount": "1500000000",
  "outputMint": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
  "outAmount": "210450000",
  "otherAmountThreshold": "208345500",
  "swapMode": "ExactIn",
  "slippageBps": 100,
  "priceImpactPct": "0.0012",
  "routePlan": [
    {"swapInfo": {"label": "Whirlpool", "feeAmount": "300000", "feeMint": "So11111111111111111111111111111111111111112"}, "percent": 100}
  ]
}`

func TestQuote(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("inputMint") != solMint || q.Get("outputMint") != usdcMint {
			t.Errorf("unexpected mints %v", q)
		}
		if q.Get("amount") != "1500000000" {
			t.Errorf("expected base amount 1500000000, got %s", q.Get("amount"))
		}
		if q.Get("slippageBps") != "100" {
			t.Errorf("expected slippageBps 100, got %s", q.Get("slippageBps"))
		}
		w.Write([]byte(sampleQuote))
	}, nil)

	quote, err := c.Quote(context.Background(), ledger.QuoteRequest{
		InputAsset:  "sol",
		OutputAsset: "USDC",
		Amount:      d(1.5),
		SlippagePct: d(1),
	})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}

	if quote.InputAsset != "SOL" || quote.OutputAsset != "USDC" {
		t.Errorf("unexpected assets %s/%s", quote.InputAsset, quote.OutputAsset)
	}
	if !quote.InputAmount.Equal(d(1.5)) {
		t.Errorf("expected input 1.5, got %s", quote.InputAmount)
	}
	if !quote.OutputAmount.Equal(d(210.45)) {
		t.Errorf("expected output 210.45, got %s", quote.OutputAmount)
	}
	if !quote.Fees.Equal(d(0.0003)) {
		t.Errorf("expected fees 0.0003, got %s", quote.Fees)
	}
	if !quote.PriceImpactPct.Equal(d(0.12)) {
		t.Errorf("expected impact 0.12%%, got %s", quote.PriceImpactPct)
	}
	if !json.Valid(quote.Route.Raw) || quote.Route.SlippageBps != 100 {
		t.Errorf("route not populated: %+v", quote.Route)
	}
}

func TestQuote_UnknownToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}, nil)

	_, err := c.Quote(context.Background(), ledger.QuoteRequest{InputAsset: "SOL", OutputAsset: "DOGE", Amount: d(1)})
	if !errors.Is(err, ErrUnknownToken) {
		t.Errorf("expected ErrUnknownToken, got %v", err)
	}
}

func TestQuote_NoRoute(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"Could not find any route","errorCode":"COULD_NOT_FIND_ANY_ROUTE"}`))
	}, nil)

	_, err := c.Quote(context.Background(), ledger.QuoteRequest{InputAsset: "SOL", OutputAsset: "BONK", Amount: d(1)})
	if !errors.Is(err, ErrNoRoute) {
		t.Errorf("expected ErrNoRoute, got %v", err)
	}
	if errors.Is(err, ledger.ErrProviderUnavailable) {
		t.Error("a 4xx must not report the provider as unavailable")
	}
}

func TestQuote_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, nil)

	_, err := c.Quote(context.Background(), ledger.QuoteRequest{InputAsset: "SOL", OutputAsset: "USDC", Amount: d(1)})
	if !errors.Is(err, ledger.ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestBuildSwap(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/swap" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var req swapRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("decode swap request: %v", err)
			return
		}
		if req.UserPublicKey != "wallet1" || !req.WrapAndUnwrapSol {
			t.Errorf("unexpected swap request %+v", req)
		}
		var q quoteResponse
		if err := json.Unmarshal(req.QuoteResponse, &q); err != nil || q.OutAmount != "210450000" {
			t.Errorf("quote payload not forwarded verbatim: %s", req.QuoteResponse)
		}
		w.Write([]byte(`{"swapTransaction":"AQID","lastValidBlockHeight":279632475}`))
	}, nil)

	tx, err := c.BuildSwap(context.Background(), model.Route{Raw: json.RawMessage(sampleQuote)}, "wallet1")
	if err != nil {
		t.Fatalf("BuildSwap: %v", err)
	}
	if tx != "AQID" {
		t.Errorf("expected AQID, got %s", tx)
	}
}

type fakeSubmitter struct {
	raw        []byte
	submitErr  error
	confirmErr error
}

func (f *fakeSubmitter) Submit(_ context.Context, rawTx []byte) (string, error) {
	f.raw = rawTx
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "5sig", nil
}

func (f *fakeSubmitter) Confirm(context.Context, string) error {
	return f.confirmErr
}

func TestInputAmount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleQuote))
	}, nil)

	quote, err := c.Quote(context.Background(), ledger.QuoteRequest{InputAsset: "SOL", OutputAsset: "USDC", Amount: d(1.5), SlippagePct: d(1)})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	got, err := c.InputAmount(quote.Route)
	if err != nil {
		t.Fatalf("InputAmount: %v", err)
	}
	if !got.Equal(quote.InputAmount) {
		t.Errorf("route input %s should equal quoted input %s", got, quote.InputAmount)
	}

	bare := model.Route{InputMint: usdcMint, InAmount: decimal.NewFromInt(2500000)}
	if got, err := c.InputAmount(bare); err != nil || !got.Equal(d(2.5)) {
		t.Errorf("expected 2.5 USDC, got %s (%v)", got, err)
	}

	edited := quote.Route
	edited.InAmount = decimal.NewFromInt(900000000000)
	if _, err := c.InputAmount(edited); err == nil {
		t.Error("expected an error when InAmount disagrees with the quote payload")
	}

	if _, err := c.InputAmount(model.Route{InputMint: "unknown-mint", InAmount: decimal.NewFromInt(1)}); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("expected ErrUnknownToken, got %v", err)
	}
}

func TestExecute(t *testing.T) {
	sub := &fakeSubmitter{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {}, sub)

	route := model.Route{
		OutputMint: usdcMint,
		OutAmount:  decimal.NewFromInt(210450000),
		SignedTx:   base64.StdEncoding.EncodeToString([]byte{1, 2, 3}),
	}
	res, err := c.Execute(context.Background(), route)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.TxHash != "5sig" {
		t.Errorf("unexpected result %+v", res)
	}
	if !res.OutAmount.Equal(d(210.45)) {
		t.Errorf("expected 210.45 out, got %s", res.OutAmount)
	}
	if string(sub.raw) != "\x01\x02\x03" {
		t.Errorf("signed tx not decoded before submit: %v", sub.raw)
	}
}

func TestExecute_Failures(t *testing.T) {
	signed := base64.StdEncoding.EncodeToString([]byte{1})

	noSub := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {}, nil)
	if _, err := noSub.Execute(context.Background(), model.Route{SignedTx: signed}); !errors.Is(err, ledger.ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable, got %v", err)
	}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {}, &fakeSubmitter{})
	if _, err := c.Execute(context.Background(), model.Route{}); !errors.Is(err, ErrUnsigned) {
		t.Errorf("expected ErrUnsigned, got %v", err)
	}

	rejected := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {}, &fakeSubmitter{confirmErr: errors.New("blockhash expired")})
	res, err := rejected.Execute(context.Background(), model.Route{SignedTx: signed})
	if err != nil {
		t.Fatalf("confirmation failure should be a result, got %v", err)
	}
	if res.Success || res.TxHash != "5sig" || res.Error != "blockhash expired" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestNewTokenTable_Validation(t *testing.T) {
	if _, err := NewTokenTable([]Token{{Symbol: "X"}}); err == nil {
		t.Error("expected error for missing mint")
	}
	if _, err := NewTokenTable([]Token{{Symbol: "A", Mint: "m1"}, {Symbol: "a", Mint: "m2"}}); err == nil {
		t.Error("expected error for duplicate symbol")
	}

	tt, err := NewTokenTable(DefaultTokens())
	if err != nil {
		t.Fatalf("NewTokenTable: %v", err)
	}
	tok, ok := tt.Lookup(usdcMint)
	if !ok || tok.Symbol != "USDC" {
		t.Errorf("lookup by mint failed: %+v", tok)
	}
	if !tok.ToBase(d(1.2345678)).Equal(decimal.NewFromInt(1234567)) {
		t.Errorf("ToBase should truncate dust, got %s", tok.ToBase(d(1.2345678)))
	}
}
