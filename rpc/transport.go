package rpc

import (
	"context"
	"io"

	"github.com/cloudimpl/querycoord/qerror"
)

// WorkerClient is the coordinator's view of one worker backend: the
// two outbound RPCs named in spec.md §6.
type WorkerClient interface {
	ExecPlanFragment(ctx context.Context, params *ExecPlanFragmentParams) (qerror.Status, error)
	CancelPlanFragment(ctx context.Context, params *CancelPlanFragmentParams) (qerror.Status, error)
	Close() error
}

// CoordinatorCallback is the inbound surface backends call on the
// coordinator: UpdateFragmentExecStatus, per spec.md §6.
type CoordinatorCallback interface {
	UpdateFragmentExecStatus(ctx context.Context, params *ReportExecStatusParams) (qerror.Status, error)
}

// Transport is the narrow capability the coordinator needs from the
// RPC layer (out of scope per spec.md §1, specified only by this
// interface, per spec.md §9 "Polymorphism"): dial a worker, and serve
// the coordinator's own callback surface for workers to dial back
// into.
type Transport interface {
	NewWorkerClient(address string) (WorkerClient, error)
	ServeCoordinator(address string, cb CoordinatorCallback) (io.Closer, error)
}
