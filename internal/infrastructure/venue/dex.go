package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/vitos/token_snipe_bot/internal/domain"
)

// DexAdapter talks to a DEX aggregator: REST for quotes, route checks,
// swaps and the wallet balance; websocket for the new-pool stream.
// Implements domain.QuoteService, ExecutionAdapter, ReadinessProbe,
// CandidateFeed and BalanceSource.
type DexAdapter struct {
	apiKey    string
	wallet    string
	baseURL   string
	wsURL     string
	client    *http.Client
	wsConn    *websocket.Conn
	wsDone    chan struct{}
	callbacks []func(domain.TokenCandidate)
	mu        sync.Mutex
}

func NewDexAdapter(apiKey, wallet, baseURL, wsURL string) *DexAdapter {
	return &DexAdapter{
		apiKey:  apiKey,
		wallet:  wallet,
		baseURL: baseURL,
		wsURL:   wsURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		wsDone:  make(chan struct{}),
	}
}

// --- REST API ---

func (d *DexAdapter) sendRequest(ctx context.Context, method, path string, payload map[string]interface{}) ([]byte, error) {
	var body []byte
	if payload != nil {
		jsonBody, _ := json.Marshal(payload)
		body = jsonBody
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	if d.apiKey != "" {
		req.Header.Set("X-API-KEY", d.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error: %s", string(respBody))
	}

	return respBody, nil
}

func (d *DexAdapter) GetPrice(ctx context.Context, mint string) (float64, error) {
	resp, err := d.sendRequest(ctx, "GET", "/v1/price?mint="+url.QueryEscape(mint), nil)
	if err != nil {
		return 0, err
	}

	var result struct {
		Data map[string]struct {
			Price string `json:"price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return 0, err
	}

	entry, ok := result.Data[mint]
	if !ok {
		// Unknown mint: no price, not an error. The engine treats 0 as
		// "no data".
		return 0, nil
	}
	price, _ := strconv.ParseFloat(entry.Price, 64)
	return price, nil
}

func (d *DexAdapter) GetPricesBatch(ctx context.Context, mints []string) (map[string]float64, error) {
	if len(mints) == 0 {
		return map[string]float64{}, nil
	}
	path := "/v1/price?mints=" + url.QueryEscape(strings.Join(mints, ","))
	resp, err := d.sendRequest(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Data map[string]struct {
			Price string `json:"price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(result.Data))
	for mint, entry := range result.Data {
		price, _ := strconv.ParseFloat(entry.Price, 64)
		out[mint] = price
	}
	return out, nil
}

// IsReady asks the aggregator whether a swap route exists for the
// mint. Read-only and cheap, safe to poll.
func (d *DexAdapter) IsReady(ctx context.Context, mint string) bool {
	resp, err := d.sendRequest(ctx, "GET", "/v1/route-check?mint="+url.QueryEscape(mint), nil)
	if err != nil {
		return false
	}

	var result struct {
		Tradable bool `json:"tradable"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return false
	}
	return result.Tradable
}

func (d *DexAdapter) Buy(ctx context.Context, mint string, amount decimal.Decimal) (*domain.Fill, error) {
	return d.swap(ctx, map[string]interface{}{
		"side":     "buy",
		"mint":     mint,
		"amount":   amount.String(),
		"wallet":   d.wallet,
		"clientId": uuid.NewString(),
	})
}

func (d *DexAdapter) Sell(ctx context.Context, mint string, tokens decimal.Decimal, slippagePct float64) (*domain.Fill, error) {
	return d.swap(ctx, map[string]interface{}{
		"side":        "sell",
		"mint":        mint,
		"amount":      tokens.String(),
		"slippageBps": int(slippagePct * 10000),
		"wallet":      d.wallet,
		"clientId":    uuid.NewString(),
	})
}

func (d *DexAdapter) swap(ctx context.Context, payload map[string]interface{}) (*domain.Fill, error) {
	resp, err := d.sendRequest(ctx, "POST", "/v1/swap", payload)
	if err != nil {
		return nil, err
	}

	var result struct {
		Success   bool   `json:"success"`
		Error     string `json:"error"`
		Signature string `json:"signature"`
		OutAmount string `json:"outAmount"`
		Price     string `json:"price"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("swap rejected: %s", result.Error)
	}

	out, err := decimal.NewFromString(result.OutAmount)
	if err != nil {
		out = decimal.Zero
	}
	price, _ := strconv.ParseFloat(result.Price, 64)

	fill := &domain.Fill{
		Signature: result.Signature,
		Price:     price,
	}
	if payload["side"] == "buy" {
		fill.FilledTokens = out
	} else {
		fill.Proceeds = out
	}
	return fill, nil
}

func (d *DexAdapter) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	resp, err := d.sendRequest(ctx, "GET", "/v1/balance?owner="+url.QueryEscape(d.wallet), nil)
	if err != nil {
		return decimal.Zero, err
	}

	var result struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(result.Balance)
}

// --- WebSocket new-pool stream ---

func (d *DexAdapter) OnCandidate(callback func(domain.TokenCandidate)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks = append(d.callbacks, callback)
}

func (d *DexAdapter) ConnectWS() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.wsConn != nil {
		return nil
	}

	c, _, err := websocket.DefaultDialer.Dial(d.wsURL, nil)
	if err != nil {
		return err
	}
	d.wsConn = c

	subMsg := map[string]interface{}{
		"op":      "subscribe",
		"channel": "new_pools",
	}
	if err := d.wsConn.WriteJSON(subMsg); err != nil {
		c.Close()
		d.wsConn = nil
		return err
	}

	go d.readLoop()
	return nil
}

func (d *DexAdapter) readLoop() {
	defer func() {
		d.wsConn.Close()
		d.mu.Lock()
		d.wsConn = nil
		d.mu.Unlock()
	}()

	for {
		_, message, err := d.wsConn.ReadMessage()
		if err != nil {
			log.Println("WS Read error:", err)
			close(d.wsDone)
			return
		}

		var event struct {
			Channel string `json:"channel"`
			Data    struct {
				Mint      string `json:"mint"`
				Symbol    string `json:"symbol"`
				Pool      string `json:"pool"`
				Price     string `json:"price"`
				Liquidity string `json:"liquidity"`
			} `json:"data"`
		}
		if err := json.Unmarshal(message, &event); err != nil {
			log.Println("WS Unmarshal error:", err)
			continue
		}

		if event.Channel != "new_pools" || event.Data.Mint == "" {
			continue
		}

		price, _ := strconv.ParseFloat(event.Data.Price, 64)
		liquidity, _ := strconv.ParseFloat(event.Data.Liquidity, 64)

		cand := domain.TokenCandidate{
			Mint:           event.Data.Mint,
			Symbol:         event.Data.Symbol,
			PoolAddress:    event.Data.Pool,
			DiscoveryPrice: price,
			LiquidityUnits: liquidity,
			DiscoveredAt:   time.Now(),
		}

		d.mu.Lock()
		callbacks := make([]func(domain.TokenCandidate), len(d.callbacks))
		copy(callbacks, d.callbacks)
		d.mu.Unlock()

		for _, cb := range callbacks {
			cb(cand)
		}
	}
}
