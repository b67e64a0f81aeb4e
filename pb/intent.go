// Package pb holds hand-authored, protoc-shaped Go types for the Intent
// Inference service contract. No .proto toolchain runs in this repo; these
// types stand in for generated code, pinning the wire contract until a
// real generator is wired up.
package pb

import (
	"context"

	"google.golang.org/grpc"
)

// PredictRequest is the inference request sent for one transaction.
type PredictRequest struct {
	Signature    string
	Instructions []string
	Accounts     []string
	Fee          uint64
}

// PredictResponse is the inference service's classification.
type PredictResponse struct {
	Intent     string
	Confidence float64
}

// IntentServiceClient is the gRPC contract the external ML classifier
// exposes. Only a hand-authored interface exists here; no generated stub
// backs it until the proto is compiled.
type IntentServiceClient interface {
	Predict(ctx context.Context, in *PredictRequest, opts ...grpc.CallOption) (*PredictResponse, error)
}
