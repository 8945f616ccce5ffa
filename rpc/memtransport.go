package rpc

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/cloudimpl/querycoord/qerror"
)

// WorkerService is what a worker backend exposes locally; MemTransport
// dispatches directly into it without going over the network. Real
// deployments implement this on top of the per-fragment execution
// engine (out of scope here); MemTransport is for tests and for
// embedding the coordinator and a worker in one process.
type WorkerService interface {
	ExecPlanFragment(ctx context.Context, params *ExecPlanFragmentParams) (qerror.Status, error)
	CancelPlanFragment(ctx context.Context, params *CancelPlanFragmentParams) (qerror.Status, error)
}

// MemTransport implements Transport over direct in-process calls,
// grounded on cloudimpl-ByteDB's backend/distributed/communication
// MemoryTransport: a registry of addresses to services, useful for
// tests and single-process development deployments.
type MemTransport struct {
	mu      sync.RWMutex
	workers map[string]WorkerService
	coords  map[string]CoordinatorCallback
}

// NewMemTransport creates an empty in-memory transport.
func NewMemTransport() *MemTransport {
	return &MemTransport{
		workers: make(map[string]WorkerService),
		coords:  make(map[string]CoordinatorCallback),
	}
}

// RegisterWorker makes svc reachable at address via NewWorkerClient.
func (mt *MemTransport) RegisterWorker(address string, svc WorkerService) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.workers[address] = svc
}

func (mt *MemTransport) NewWorkerClient(address string) (WorkerClient, error) {
	mt.mu.RLock()
	svc, ok := mt.workers[address]
	mt.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("memtransport: no worker registered at %q", address)
	}
	return &memWorkerClient{svc: svc}, nil
}

func (mt *MemTransport) ServeCoordinator(address string, cb CoordinatorCallback) (io.Closer, error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if _, exists := mt.coords[address]; exists {
		return nil, errors.Errorf("memtransport: coordinator already serving at %q", address)
	}
	mt.coords[address] = cb
	return memCloser{mt: mt, address: address}, nil
}

// DialCoordinator is the worker-side counterpart: it looks up a
// coordinator callback registered via ServeCoordinator. It is not
// part of the Transport interface (workers are out of scope here) but
// is exposed so test doubles for a worker can report status back.
func (mt *MemTransport) DialCoordinator(address string) (CoordinatorCallback, error) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	cb, ok := mt.coords[address]
	if !ok {
		return nil, errors.Errorf("memtransport: no coordinator serving at %q", address)
	}
	return cb, nil
}

type memCloser struct {
	mt      *MemTransport
	address string
}

func (c memCloser) Close() error {
	c.mt.mu.Lock()
	defer c.mt.mu.Unlock()
	delete(c.mt.coords, c.address)
	return nil
}

type memWorkerClient struct {
	svc WorkerService
}

func (c *memWorkerClient) ExecPlanFragment(ctx context.Context, params *ExecPlanFragmentParams) (qerror.Status, error) {
	return c.svc.ExecPlanFragment(ctx, params)
}

func (c *memWorkerClient) CancelPlanFragment(ctx context.Context, params *CancelPlanFragmentParams) (qerror.Status, error) {
	return c.svc.CancelPlanFragment(ctx, params)
}

func (c *memWorkerClient) Close() error { return nil }
