package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"intentchain/native/amm"
	"intentchain/native/intents"
	"intentchain/native/settle"
)

// IntentService is the intent engine surface the RPC layer consumes.
type IntentService interface {
	Submit(owner [20]byte, swap intents.Swap, deadline uint64, partial bool, onSuccess, onFailure []byte) (intents.IntentID, error)
	Cancel(id intents.IntentID, caller [20]byte) error
	Get(id intents.IntentID) (*intents.Intent, bool, error)
	Eligible() ([]*intents.Intent, error)
}

// SettlementService is the verifier surface the RPC layer consumes.
type SettlementService interface {
	SubmitSolution(proposer [20]byte, solution *settle.Solution, claimedScore uint64, targetWindow uint64) error
	CurrentWindow() uint64
	State() (settle.WindowState, *settle.Proposal)
}

func decodeParams(params []json.RawMessage, target interface{}) *rpcError {
	if len(params) != 1 {
		return &rpcError{Code: codeInvalidParams, Message: "expected a single parameter object"}
	}
	if err := json.Unmarshal(params[0], target); err != nil {
		return &rpcError{Code: codeInvalidParams, Message: "malformed parameters", Data: err.Error()}
	}
	return nil
}

func invalidParams(err error) *rpcError {
	return &rpcError{Code: codeInvalidParams, Message: err.Error()}
}

func serverError(err error) *rpcError {
	return &rpcError{Code: codeServerError, Message: err.Error()}
}

func (s *Server) handleSubmitIntent(params []json.RawMessage) (interface{}, *rpcError) {
	var p submitIntentParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	owner, err := parseAddress(p.Owner)
	if err != nil {
		return nil, invalidParams(err)
	}
	swap, err := parseSwap(p)
	if err != nil {
		return nil, invalidParams(err)
	}
	onSuccess, err := parseHookPayload(p.OnSuccess)
	if err != nil {
		return nil, invalidParams(err)
	}
	onFailure, err := parseHookPayload(p.OnFailure)
	if err != nil {
		return nil, invalidParams(err)
	}
	id, err := s.intents.Submit(owner, swap, p.Deadline, p.Partial, onSuccess, onFailure)
	if err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"id": id.String()}, nil
}

func parseSwap(p submitIntentParams) (intents.Swap, error) {
	direction, err := intents.ParseDirection(p.Direction)
	if err != nil {
		return intents.Swap{}, err
	}
	amountIn, err := parseAmount(p.AmountIn)
	if err != nil {
		return intents.Swap{}, err
	}
	amountOut, err := parseAmount(p.AmountOut)
	if err != nil {
		return intents.Swap{}, err
	}
	return intents.Swap{
		AssetIn:   amm.AssetID(p.AssetIn),
		AssetOut:  amm.AssetID(p.AssetOut),
		AmountIn:  amountIn,
		AmountOut: amountOut,
		Direction: direction,
	}, nil
}

func parseHookPayload(s string) ([]byte, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, nil
	}
	return hex.DecodeString(strings.TrimPrefix(trimmed, "0x"))
}

func (s *Server) handleCancelIntent(params []json.RawMessage) (interface{}, *rpcError) {
	var p cancelIntentParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	id, err := intents.ParseIntentID(p.ID)
	if err != nil {
		return nil, invalidParams(err)
	}
	caller, err := parseAddress(p.Caller)
	if err != nil {
		return nil, invalidParams(err)
	}
	if err := s.intents.Cancel(id, caller); err != nil {
		if errors.Is(err, intents.ErrIntentNotFound) || errors.Is(err, intents.ErrNotOwner) {
			return nil, invalidParams(err)
		}
		return nil, serverError(err)
	}
	return map[string]bool{"cancelled": true}, nil
}

func (s *Server) handleGetIntent(params []json.RawMessage) (interface{}, *rpcError) {
	var p getIntentParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	id, err := intents.ParseIntentID(p.ID)
	if err != nil {
		return nil, invalidParams(err)
	}
	intent, ok, err := s.intents.Get(id)
	if err != nil {
		return nil, serverError(err)
	}
	if !ok {
		return nil, &rpcError{Code: codeInvalidParams, Message: "intent not found", Data: p.ID}
	}
	return formatIntent(intent), nil
}

func (s *Server) handleListIntents(params []json.RawMessage) (interface{}, *rpcError) {
	if len(params) != 0 {
		return nil, &rpcError{Code: codeInvalidParams, Message: "method takes no parameters"}
	}
	open, err := s.intents.Eligible()
	if err != nil {
		return nil, serverError(err)
	}
	results := make([]intentResult, 0, len(open))
	for _, intent := range open {
		results = append(results, formatIntent(intent))
	}
	return results, nil
}

func (s *Server) handleSubmitSolution(params []json.RawMessage) (interface{}, *rpcError) {
	var p submitSolutionParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	solution, proposer, err := p.toSolution()
	if err != nil {
		return nil, invalidParams(err)
	}
	if err := s.settle.SubmitSolution(proposer, solution, p.Score, p.TargetWindow); err != nil {
		return nil, serverError(err)
	}
	return map[string]interface{}{"accepted": true, "window": p.TargetWindow}, nil
}

func (s *Server) handleWindowStatus(params []json.RawMessage) (interface{}, *rpcError) {
	if len(params) != 0 {
		return nil, &rpcError{Code: codeInvalidParams, Message: "method takes no parameters"}
	}
	state, best := s.settle.State()
	result := windowStatusResult{
		Window: s.settle.CurrentWindow(),
		State:  state.String(),
	}
	if best != nil {
		result.Score = best.Score
		result.Proposer = common.Address(best.Proposer).Hex()
		result.Resolved = len(best.Solution.Resolved)
	}
	return result, nil
}
