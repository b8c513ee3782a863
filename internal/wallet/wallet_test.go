package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const (
	testAddress   = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	testSignature = "gD3jeeaPNiyuJvTKXNEv1gntazWEkvpocofEmrz2rL6Fi4prWSsBH6a9SrwyZEatAozyMsnK2fnk3APXNFxD2Mq"
)

// rpcServer answers JSON-RPC calls with results from the handlers map.
func rpcServer(t *testing.T, handlers map[string]func(params json.RawMessage) any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     any             `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
			return
		}
		h, ok := handlers[req.Method]
		if !ok {
			t.Errorf("unexpected rpc method %s", req.Method)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  h(req.Params),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestValidateAddress(t *testing.T) {
	c := New("http://127.0.0.1:0")

	if err := c.ValidateAddress(testAddress); err != nil {
		t.Errorf("expected valid address, got %v", err)
	}
	for _, bad := range []string{"", "not-base58-0OIl", "abc"} {
		if err := c.ValidateAddress(bad); err == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestBalance(t *testing.T) {
	srv := rpcServer(t, map[string]func(json.RawMessage) any{
		"getBalance": func(params json.RawMessage) any {
			var p []any
			json.Unmarshal(params, &p)
			if len(p) == 0 || p[0] != testAddress {
				t.Errorf("unexpected params %s", params)
			}
			return map[string]any{"context": map[string]any{"slot": 1}, "value": 2_500_000_000}
		},
	})

	c := New(srv.URL)
	lamports, err := c.Balance(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if lamports != 2_500_000_000 {
		t.Errorf("expected 2500000000 lamports, got %d", lamports)
	}
}

func TestBalance_InvalidAddress(t *testing.T) {
	c := New("http://127.0.0.1:0")

	if _, err := c.Balance(context.Background(), "bad"); err == nil {
		t.Error("expected error for invalid address")
	}
}

func TestConfirm(t *testing.T) {
	calls := 0
	srv := rpcServer(t, map[string]func(json.RawMessage) any{
		"getSignatureStatuses": func(json.RawMessage) any {
			calls++
			status := "processed"
			if calls > 1 {
				status = "confirmed"
			}
			return map[string]any{
				"context": map[string]any{"slot": 10},
				"value":   []any{map[string]any{"slot": 10, "err": nil, "confirmationStatus": status}},
			}
		},
	})

	c := New(srv.URL)
	c.pollInterval = 10 * time.Millisecond

	if err := c.Confirm(context.Background(), testSignature); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if calls < 2 {
		t.Errorf("expected polling until confirmed, got %d calls", calls)
	}
}

func TestConfirm_OnChainError(t *testing.T) {
	srv := rpcServer(t, map[string]func(json.RawMessage) any{
		"getSignatureStatuses": func(json.RawMessage) any {
			return map[string]any{
				"context": map[string]any{"slot": 10},
				"value": []any{map[string]any{
					"slot":               10,
					"err":                map[string]any{"InstructionError": []any{0, "Custom"}},
					"confirmationStatus": "confirmed",
				}},
			}
		},
	})

	c := New(srv.URL)
	err := c.Confirm(context.Background(), testSignature)
	if !errors.Is(err, ErrTxFailed) {
		t.Errorf("expected ErrTxFailed, got %v", err)
	}
}

func TestConfirm_Timeout(t *testing.T) {
	srv := rpcServer(t, map[string]func(json.RawMessage) any{
		"getSignatureStatuses": func(json.RawMessage) any {
			return map[string]any{"context": map[string]any{"slot": 10}, "value": []any{nil}}
		},
	})

	c := New(srv.URL)
	c.pollInterval = 10 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Confirm(ctx, testSignature)
	if !errors.Is(err, ErrTxNotConfirmed) {
		t.Errorf("expected ErrTxNotConfirmed, got %v", err)
	}
}
