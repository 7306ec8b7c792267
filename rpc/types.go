package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"intentchain/native/amm"
	"intentchain/native/intents"
	"intentchain/native/settle"
)

const jsonRPCVersion = "2.0"

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeRateLimited    = -32020
)

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// intentResult is the wire form of an open intent.
type intentResult struct {
	ID        string `json:"id"`
	Owner     string `json:"owner"`
	AssetIn   uint32 `json:"assetIn"`
	AssetOut  uint32 `json:"assetOut"`
	AmountIn  string `json:"amountIn"`
	AmountOut string `json:"amountOut"`
	Direction string `json:"direction"`
	Partial   bool   `json:"partial"`
	Deadline  uint64 `json:"deadline"`
}

func formatIntent(intent *intents.Intent) intentResult {
	return intentResult{
		ID:        intent.ID.String(),
		Owner:     common.Address(intent.Owner).Hex(),
		AssetIn:   uint32(intent.Swap.AssetIn),
		AssetOut:  uint32(intent.Swap.AssetOut),
		AmountIn:  intent.Swap.AmountIn.String(),
		AmountOut: intent.Swap.AmountOut.String(),
		Direction: intent.Swap.Direction.String(),
		Partial:   intent.Partial,
		Deadline:  intent.Deadline,
	}
}

// submitIntentParams is the payload accepted by intents_submitIntent.
type submitIntentParams struct {
	Owner     string `json:"owner"`
	AssetIn   uint32 `json:"assetIn"`
	AssetOut  uint32 `json:"assetOut"`
	AmountIn  string `json:"amountIn"`
	AmountOut string `json:"amountOut"`
	Direction string `json:"direction"`
	Partial   bool   `json:"partial"`
	Deadline  uint64 `json:"deadline"`
	OnSuccess string `json:"onSuccess,omitempty"`
	OnFailure string `json:"onFailure,omitempty"`
}

type cancelIntentParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

type getIntentParams struct {
	ID string `json:"id"`
}

// resolvedIntentParam mirrors one resolved intent inside a solution payload.
type resolvedIntentParam struct {
	ID        string `json:"id"`
	AmountIn  string `json:"amountIn"`
	AmountOut string `json:"amountOut"`
}

type routeHopParam struct {
	Pool     uint32 `json:"pool"`
	AssetIn  uint32 `json:"assetIn"`
	AssetOut uint32 `json:"assetOut"`
}

type poolTradeParam struct {
	Direction string          `json:"direction"`
	AmountIn  string          `json:"amountIn"`
	AmountOut string          `json:"amountOut"`
	Route     []routeHopParam `json:"route"`
}

// submitSolutionParams is the payload accepted by settle_submitSolution.
// Clearing prices are hub-denominated fractions keyed by asset id.
type submitSolutionParams struct {
	Proposer       string                `json:"proposer"`
	TargetWindow   uint64                `json:"targetWindow"`
	Score          uint64                `json:"score"`
	Resolved       []resolvedIntentParam `json:"resolved"`
	Trades         []poolTradeParam      `json:"trades"`
	ClearingPrices map[string]string     `json:"clearingPrices"`
}

// windowStatusResult is returned by settle_windowStatus.
type windowStatusResult struct {
	Window   uint64 `json:"window"`
	State    string `json:"state"`
	Score    uint64 `json:"score,omitempty"`
	Proposer string `json:"proposer,omitempty"`
	Resolved int    `json:"resolved,omitempty"`
}

func parseAddress(s string) ([20]byte, error) {
	if !common.IsHexAddress(s) {
		return [20]byte{}, fmt.Errorf("malformed address %q", s)
	}
	return [20]byte(common.HexToAddress(s)), nil
}

func parseAmount(s string) (*big.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, fmt.Errorf("empty amount")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	return amount, nil
}

// parsePrice parses a "numerator/denominator" fraction, or a plain integer.
func parsePrice(s string) (*big.Rat, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, fmt.Errorf("empty price")
	}
	price, ok := new(big.Rat).SetString(trimmed)
	if !ok || price.Sign() <= 0 {
		return nil, fmt.Errorf("malformed price %q", s)
	}
	return price, nil
}

func (p *submitSolutionParams) toSolution() (*settle.Solution, [20]byte, error) {
	proposer, err := parseAddress(p.Proposer)
	if err != nil {
		return nil, [20]byte{}, err
	}
	solution := &settle.Solution{
		Score:          p.Score,
		ClearingPrices: make(map[amm.AssetID]*big.Rat, len(p.ClearingPrices)),
	}
	for _, r := range p.Resolved {
		id, err := intents.ParseIntentID(r.ID)
		if err != nil {
			return nil, [20]byte{}, err
		}
		amountIn, err := parseAmount(r.AmountIn)
		if err != nil {
			return nil, [20]byte{}, err
		}
		amountOut, err := parseAmount(r.AmountOut)
		if err != nil {
			return nil, [20]byte{}, err
		}
		solution.Resolved = append(solution.Resolved, &intents.ResolvedIntent{
			IntentID:  id,
			AmountIn:  amountIn,
			AmountOut: amountOut,
		})
	}
	for _, t := range p.Trades {
		direction, err := intents.ParseDirection(t.Direction)
		if err != nil {
			return nil, [20]byte{}, err
		}
		amountIn, err := parseAmount(t.AmountIn)
		if err != nil {
			return nil, [20]byte{}, err
		}
		amountOut, err := parseAmount(t.AmountOut)
		if err != nil {
			return nil, [20]byte{}, err
		}
		trade := &settle.PoolTrade{Direction: direction, AmountIn: amountIn, AmountOut: amountOut}
		for _, hop := range t.Route {
			trade.Route = append(trade.Route, settle.RouteHop{
				Pool:     amm.PoolID(hop.Pool),
				AssetIn:  amm.AssetID(hop.AssetIn),
				AssetOut: amm.AssetID(hop.AssetOut),
			})
		}
		solution.Trades = append(solution.Trades, trade)
	}
	for asset, raw := range p.ClearingPrices {
		var id uint32
		if _, err := fmt.Sscanf(asset, "%d", &id); err != nil {
			return nil, [20]byte{}, fmt.Errorf("malformed asset id %q", asset)
		}
		price, err := parsePrice(raw)
		if err != nil {
			return nil, [20]byte{}, err
		}
		solution.ClearingPrices[amm.AssetID(id)] = price
	}
	return solution, proposer, nil
}
