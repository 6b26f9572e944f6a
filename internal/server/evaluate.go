package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alfredjeanlab/gamecfg/internal/evalrpc"
	"github.com/alfredjeanlab/gamecfg/internal/model"
	"github.com/alfredjeanlab/gamecfg/internal/resolver"
	"github.com/alfredjeanlab/gamecfg/internal/snapshot"
)

// Evaluation outcomes as counted in metrics.
const (
	outcomeMatched   = "matched"
	outcomeDefault   = "default"
	outcomeDisabled  = "disabled"
	outcomeNotFound  = "not_found"
	outcomeIntegrity = "integrity_error"
	outcomeInvalid   = "invalid"
)

var _ evalrpc.EvaluationServer = (*ConfigServer)(nil)

// Evaluate implements the gRPC Evaluation service.
func (s *ConfigServer) Evaluate(ctx context.Context, req *evalrpc.EvaluateRequest) (*evalrpc.EvaluateResponse, error) {
	resp, err := s.evaluate(ctx, "grpc", req)
	if err != nil {
		return nil, grpcError(err)
	}
	return resp, nil
}

// EvaluateBatch implements the gRPC Evaluation service.
func (s *ConfigServer) EvaluateBatch(ctx context.Context, req *evalrpc.EvaluateBatchRequest) (*evalrpc.EvaluateBatchResponse, error) {
	resp, err := s.evaluateBatch(ctx, "grpc", req)
	if err != nil {
		return nil, grpcError(err)
	}
	return resp, nil
}

func (s *ConfigServer) liveSnapshot() *snapshot.Snapshot {
	if s.cache == nil {
		return snapshot.Empty()
	}
	return s.cache.Current()
}

func checkScope(gameID string, env model.Environment) error {
	if gameID == "" {
		return inputError("game_id is required")
	}
	if !env.IsValid() {
		return inputError(fmt.Sprintf("invalid environment %q", env))
	}
	return nil
}

func clientContext(c evalrpc.ClientContext, now func() time.Time) resolver.Context {
	return resolver.Context{
		Platform:   c.Platform,
		AppVersion: c.AppVersion,
		Country:    c.Country,
		Segment:    c.Segment,
		Now:        now(),
	}
}

// evaluate resolves one key against the live snapshot. It never touches the
// store, so it works the same on evaluation-only replicas.
func (s *ConfigServer) evaluate(_ context.Context, transport string, req *evalrpc.EvaluateRequest) (*evalrpc.EvaluateResponse, error) {
	if err := checkScope(req.GameID, req.Environment); err != nil {
		s.metrics.IncEvaluation(transport, outcomeInvalid)
		return nil, err
	}
	if req.Key == "" {
		s.metrics.IncEvaluation(transport, outcomeInvalid)
		return nil, inputError("key is required")
	}

	e, ok := s.liveSnapshot().Lookup(req.GameID, req.Environment, req.Key)
	if !ok {
		s.metrics.IncEvaluation(transport, outcomeNotFound)
		return nil, fmt.Errorf("config %s/%s/%s: %w", req.GameID, req.Environment, req.Key, model.ErrNotFound)
	}
	res, err := resolver.Resolve(e.Config, e.Rules, clientContext(req.ClientContext, s.clock))
	if err != nil {
		s.evalFailed(transport, err)
		return nil, err
	}
	s.metrics.IncEvaluation(transport, outcomeOf(res))
	return toResponse(req.Key, e.Config.DataType, res), nil
}

// evaluateBatch resolves every key of one game environment. A key that fails
// carries its error in the result and does not fail the batch.
func (s *ConfigServer) evaluateBatch(_ context.Context, transport string, req *evalrpc.EvaluateBatchRequest) (*evalrpc.EvaluateBatchResponse, error) {
	if err := checkScope(req.GameID, req.Environment); err != nil {
		s.metrics.IncEvaluation(transport, outcomeInvalid)
		return nil, err
	}
	results := s.liveSnapshot().EvaluateAll(req.GameID, req.Environment, clientContext(req.ClientContext, s.clock))
	out := &evalrpc.EvaluateBatchResponse{Results: make([]*evalrpc.EvaluateResponse, 0, len(results))}
	for _, kr := range results {
		if kr.Err != nil {
			s.evalFailed(transport, kr.Err)
			out.Results = append(out.Results, &evalrpc.EvaluateResponse{Key: kr.Key, DataType: kr.DataType, Error: kr.Err.Error()})
			continue
		}
		s.metrics.IncEvaluation(transport, outcomeOf(kr.Result))
		out.Results = append(out.Results, toResponse(kr.Key, kr.DataType, kr.Result))
	}
	return out, nil
}

func (s *ConfigServer) evalFailed(transport string, err error) {
	var ie *model.IntegrityError
	if errors.As(err, &ie) {
		s.reportIntegrity("evaluate", ie)
		s.metrics.IncEvaluation(transport, outcomeIntegrity)
		return
	}
	s.metrics.IncEvaluation(transport, "error")
}

func outcomeOf(res resolver.Result) string {
	switch {
	case res.Disabled:
		return outcomeDisabled
	case res.Matched:
		return outcomeMatched
	}
	return outcomeDefault
}

func toResponse(key string, dt model.DataType, res resolver.Result) *evalrpc.EvaluateResponse {
	resp := &evalrpc.EvaluateResponse{
		Key:      key,
		DataType: dt,
		Matched:  res.Matched,
		Disabled: res.Disabled,
		RuleID:   res.RuleID,
	}
	if !res.Disabled {
		resp.Value = res.Value.Raw()
	}
	return resp
}
