// Package jupiter quotes and executes token swaps through the Jupiter v6
// aggregator API. Execution submits the transaction the user's wallet signed
// for a quoted route and waits for on-chain confirmation.
package jupiter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solstake/ledger-engine/internal/ledger"
	"github.com/solstake/ledger-engine/internal/model"
)

// DefaultBaseURL is the public Jupiter v6 endpoint.
const DefaultBaseURL = "https://quote-api.jup.ag/v6"

var (
	// ErrUnknownToken is returned for assets missing from the token table.
	ErrUnknownToken = errors.New("jupiter: unknown token")

	// ErrNoRoute is returned when Jupiter cannot route the pair or amount.
	ErrNoRoute = errors.New("jupiter: no route")

	// ErrUnsigned is returned by Execute for a route without a signed
	// transaction.
	ErrUnsigned = errors.New("jupiter: route carries no signed transaction")
)

// Submitter sends signed transactions to the chain.
type Submitter interface {
	Submit(ctx context.Context, rawTx []byte) (string, error)
	Confirm(ctx context.Context, signature string) error
}

// Client implements ledger.Quoter.
type Client struct {
	BaseURL        string
	HTTP           *http.Client
	Tokens         *TokenTable
	Submitter      Submitter
	ConfirmTimeout time.Duration
}

var _ ledger.Quoter = (*Client)(nil)

// New creates a client. submitter may be nil, in which case Execute fails.
func New(baseURL string, tokens *TokenTable, submitter Submitter, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:        baseURL,
		HTTP:           &http.Client{Timeout: timeout},
		Tokens:         tokens,
		Submitter:      submitter,
		ConfirmTimeout: 60 * time.Second,
	}
}

// quoteResponse is the subset of the /quote payload the ledger reads. The
// full payload is kept verbatim in Route.Raw for /swap.
type quoteResponse struct {
	InputMint      string `json:"inputMint"`
	InAmount       string `json:"inAmount"`
	OutputMint     string `json:"outputMint"`
	OutAmount      string `json:"outAmount"`
	SlippageBps    int    `json:"slippageBps"`
	PriceImpactPct string `json:"priceImpactPct"`
	RoutePlan      []struct {
		SwapInfo struct {
			Label     string `json:"label"`
			FeeAmount string `json:"feeAmount"`
			FeeMint   string `json:"feeMint"`
		} `json:"swapInfo"`
	} `json:"routePlan"`
}

type swapRequest struct {
	QuoteResponse           json.RawMessage `json:"quoteResponse"`
	UserPublicKey           string          `json:"userPublicKey"`
	WrapAndUnwrapSol        bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit bool            `json:"dynamicComputeUnitLimit"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

type errorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
}

// Quote looks up the best route for req.
func (c *Client) Quote(ctx context.Context, req ledger.QuoteRequest) (*model.Quote, error) {
	in, ok := c.Tokens.Lookup(req.InputAsset)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, req.InputAsset)
	}
	out, ok := c.Tokens.Lookup(req.OutputAsset)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, req.OutputAsset)
	}

	amount := in.ToBase(req.Amount)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount %s below one base unit of %s", ErrNoRoute, req.Amount, in.Symbol)
	}
	slippageBps := req.SlippagePct.Mul(decimal.NewFromInt(100)).Round(0).IntPart()

	u, err := c.buildURL("/quote", map[string]string{
		"inputMint":   in.Mint,
		"outputMint":  out.Mint,
		"amount":      amount.String(),
		"slippageBps": strconv.FormatInt(slippageBps, 10),
	})
	if err != nil {
		return nil, err
	}
	raw, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	var qr quoteResponse
	if err := json.Unmarshal(raw, &qr); err != nil {
		return nil, fmt.Errorf("jupiter: decode quote: %w", err)
	}
	inBase, err := decimal.NewFromString(qr.InAmount)
	if err != nil {
		return nil, fmt.Errorf("jupiter: quote inAmount %q: %w", qr.InAmount, err)
	}
	outBase, err := decimal.NewFromString(qr.OutAmount)
	if err != nil {
		return nil, fmt.Errorf("jupiter: quote outAmount %q: %w", qr.OutAmount, err)
	}
	impact, _ := decimal.NewFromString(qr.PriceImpactPct)

	// Fees are reported per hop; only those charged in the input mint are
	// comparable to the input amount.
	fees := decimal.Zero
	for _, hop := range qr.RoutePlan {
		if hop.SwapInfo.FeeMint != in.Mint {
			continue
		}
		if f, err := decimal.NewFromString(hop.SwapInfo.FeeAmount); err == nil {
			fees = fees.Add(f)
		}
	}

	return &model.Quote{
		InputAsset:     in.Symbol,
		OutputAsset:    out.Symbol,
		InputAmount:    in.ToUI(inBase),
		OutputAmount:   out.ToUI(outBase),
		PriceImpactPct: impact.Mul(decimal.NewFromInt(100)),
		Fees:           in.ToUI(fees),
		Route: model.Route{
			InputMint:   in.Mint,
			OutputMint:  out.Mint,
			InAmount:    inBase,
			OutAmount:   outBase,
			SlippageBps: qr.SlippageBps,
			Raw:         raw,
		},
	}, nil
}

// BuildSwap returns the base64 unsigned transaction for route, to be signed
// by walletAddress.
func (c *Client) BuildSwap(ctx context.Context, route model.Route, walletAddress string) (string, error) {
	if len(route.Raw) == 0 {
		return "", fmt.Errorf("%w: route has no quote payload", ErrNoRoute)
	}
	body, err := json.Marshal(swapRequest{
		QuoteResponse:           route.Raw,
		UserPublicKey:           walletAddress,
		WrapAndUnwrapSol:        true,
		DynamicComputeUnitLimit: true,
	})
	if err != nil {
		return "", err
	}
	u, err := c.buildURL("/swap", nil)
	if err != nil {
		return "", err
	}
	raw, err := c.do(ctx, http.MethodPost, u, body)
	if err != nil {
		return "", err
	}

	var sr swapResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return "", fmt.Errorf("jupiter: decode swap: %w", err)
	}
	if sr.SwapTransaction == "" {
		return "", fmt.Errorf("jupiter: empty swap transaction")
	}
	return sr.SwapTransaction, nil
}

// InputAmount returns route.InAmount in UI units of the input mint. When the
// route carries its quote payload, the payload's inAmount must agree.
func (c *Client) InputAmount(route model.Route) (decimal.Decimal, error) {
	in, ok := c.Tokens.Lookup(route.InputMint)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownToken, route.InputMint)
	}
	if len(route.Raw) > 0 {
		var qr quoteResponse
		if err := json.Unmarshal(route.Raw, &qr); err != nil {
			return decimal.Zero, fmt.Errorf("jupiter: decode route payload: %w", err)
		}
		raw, err := decimal.NewFromString(qr.InAmount)
		if err != nil || !raw.Equal(route.InAmount) || qr.InputMint != route.InputMint {
			return decimal.Zero, fmt.Errorf("jupiter: route input %s %s disagrees with quote payload %s %s",
				route.InAmount, route.InputMint, qr.InAmount, qr.InputMint)
		}
	}
	return in.ToUI(route.InAmount), nil
}

// Execute submits the route's signed transaction and waits for
// confirmation. The output amount reported is the quoted one.
func (c *Client) Execute(ctx context.Context, route model.Route) (*ledger.ExecResult, error) {
	if c.Submitter == nil {
		return nil, fmt.Errorf("%w: no transaction submitter", ledger.ErrProviderUnavailable)
	}
	if route.SignedTx == "" {
		return nil, ErrUnsigned
	}
	rawTx, err := base64.StdEncoding.DecodeString(route.SignedTx)
	if err != nil {
		return nil, fmt.Errorf("jupiter: decode signed transaction: %w", err)
	}

	sig, err := c.Submitter.Submit(ctx, rawTx)
	if err != nil {
		return nil, err
	}

	confirmCtx, cancel := context.WithTimeout(ctx, c.ConfirmTimeout)
	defer cancel()
	if err := c.Submitter.Confirm(confirmCtx, sig); err != nil {
		return &ledger.ExecResult{Success: false, TxHash: sig, Error: err.Error()}, nil
	}

	outUI := route.OutAmount
	if tok, ok := c.Tokens.Lookup(route.OutputMint); ok {
		outUI = tok.ToUI(route.OutAmount)
	}
	return &ledger.ExecResult{Success: true, TxHash: sig, OutAmount: outUI}, nil
}

func (c *Client) buildURL(path string, query map[string]string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	q := u.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// do performs a request. Transport failures and 5xx responses wrap
// ledger.ErrProviderUnavailable; 4xx responses wrap ErrNoRoute.
func (c *Client) do(ctx context.Context, method, u string, body []byte) (json.RawMessage, error) {
	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: jupiter: %w", ledger.ErrProviderUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: jupiter: read body: %w", ledger.ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: jupiter http %d", ledger.ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		var er errorResponse
		_ = json.Unmarshal(b, &er)
		if er.Error == "" {
			er.Error = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %s", ErrNoRoute, er.Error)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("jupiter: unexpected http %d", resp.StatusCode)
	}
	return json.RawMessage(b), nil
}
