// Package grpcserver implements the DiscoveryService gRPC server.
//
// It delegates all business logic to the discovery and pipeline services and
// handles only the gRPC transport concerns: metadata extraction, error
// mapping, and conversion between the domain model and protobuf messages.
// Payloads travel as google.protobuf.Struct documents carrying the same JSON
// shapes as the HTTP API.
package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"newface/discovery-service/internal/discovery"
	"newface/discovery-service/internal/model"
	"newface/discovery-service/internal/pipeline"
	"newface/discovery-service/internal/scoring"
)

// Scorer rates a profile without persisting it.
type Scorer interface {
	Score(ctx context.Context, req scoring.Request) scoring.Result
}

// Server implements DiscoveryServer.
type Server struct {
	discovery *discovery.Service
	pipeline  *pipeline.Service
	scorer    Scorer
}

// NewServer constructs a gRPC Server backed by the given services.
func NewServer(disc *discovery.Service, pipe *pipeline.Service, scorer Scorer) *Server {
	return &Server{discovery: disc, pipeline: pipe, scorer: scorer}
}

// ─── RPC implementations ──────────────────────────────────────────────────────

// StartDiscovery starts a job. The request is a discovery.StartRequest
// document; the response is the job summary.
func (s *Server) StartDiscovery(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := userIDFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	var in discovery.StartRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	summary, err := s.discovery.Start(ctx, userID, in)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(summary)
}

// GetDiscoveryJob returns a job with its top candidates.
func (s *Server) GetDiscoveryJob(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	userID, err := userIDFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.discovery.Status(ctx, userID, req.GetValue())
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(res)
}

// DeleteDiscoveryJob removes a job; its candidates are kept.
func (s *Server) DeleteDiscoveryJob(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	userID, err := userIDFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.discovery.Delete(ctx, userID, req.GetValue()); err != nil {
		return nil, toGRPCError(err)
	}
	return &emptypb.Empty{}, nil
}

// ScoreProfile scores {"profile": {...}, "streetCastingMode": bool,
// "imageUrls": [...], "filters": {...}} without persisting anything.
func (s *Server) ScoreProfile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in struct {
		Profile           model.Profile  `json:"profile"`
		ImageURLs         []string       `json:"imageUrls"`
		StreetCastingMode bool           `json:"streetCastingMode"`
		Filters           *model.Filters `json:"filters"`
	}
	if err := fromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if strings.TrimSpace(in.Profile.Username) == "" {
		return nil, status.Error(codes.InvalidArgument, "profile.username is required")
	}
	mode := model.ModeStandard
	if in.StreetCastingMode {
		mode = model.ModeStreetCasting
	}
	return toStruct(s.scorer.Score(ctx, scoring.Request{
		Profile:   in.Profile,
		ImageURLs: in.ImageURLs,
		Mode:      mode,
		Filters:   in.Filters,
	}))
}

// MoveCandidate transitions {"candidateId", "newStatus"} to a new stage.
func (s *Server) MoveCandidate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := userIDFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	fields := req.GetFields()
	id := fields["candidateId"].GetStringValue()
	newStatus := fields["newStatus"].GetStringValue()
	if id == "" || newStatus == "" {
		return nil, status.Error(codes.InvalidArgument, "candidateId and newStatus are required")
	}
	c, err := s.pipeline.Move(ctx, userID, id, newStatus)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(c)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// userIDFromCtx extracts the x-user-id value forwarded by the Gateway
// via gRPC metadata.
func userIDFromCtx(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing metadata")
	}
	vals := md.Get("x-user-id")
	if len(vals) == 0 || vals[0] == "" {
		return "", status.Error(codes.Unauthenticated, "missing x-user-id metadata")
	}
	return vals[0], nil
}

// toGRPCError maps domain errors to gRPC status errors.
func toGRPCError(err error) error {
	if errors.Is(err, model.ErrNotFound) {
		return status.Error(codes.NotFound, err.Error())
	}
	if errors.Is(err, model.ErrConflict) {
		return status.Error(codes.Aborted, err.Error())
	}
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		return status.Error(codes.InvalidArgument, ve.Msg)
	}
	return status.Error(codes.Internal, "internal server error")
}

// toStruct converts a JSON-tagged domain value to a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return out, nil
}

// fromStruct decodes a Struct into a JSON-tagged domain value.
func fromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		return errors.New("empty request")
	}
	b, err := s.MarshalJSON()
	if err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}
