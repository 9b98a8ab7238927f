package call

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"skillswap-backend/internal/domain"
	"skillswap-backend/pkg/logger"
)

// ManagerConfig holds the settings shared by every machine of one user
type ManagerConfig struct {
	Self         Participant
	RingTimeout  time.Duration
	CleanupDelay time.Duration
	CloseDelay   time.Duration
	// OnUpdate receives every machine's snapshots
	OnUpdate func(Snapshot)
}

type managedMachine struct {
	machine *Machine
	cancel  context.CancelFunc
}

// Manager owns the machines of one user, one per conversation
type Manager struct {
	cfg  ManagerConfig
	deps Deps
	ctx  context.Context

	mu       sync.Mutex
	machines map[string]*managedMachine
}

// NewManager creates a manager whose machines live until ctx is cancelled
func NewManager(ctx context.Context, cfg ManagerConfig, deps Deps) *Manager {
	return &Manager{
		cfg:      cfg,
		deps:     deps,
		ctx:      ctx,
		machines: make(map[string]*managedMachine),
	}
}

// Self is the local participant
func (mg *Manager) Self() Participant {
	return mg.cfg.Self
}

// Open returns the machine for the conversation with peer, starting one if
// needed. A finished machine, or an idle one of another call type, is replaced.
func (mg *Manager) Open(peer Participant, callType domain.CallType) *Machine {
	pairID := domain.PairID(mg.cfg.Self.ID, peer.ID)

	mg.mu.Lock()
	defer mg.mu.Unlock()

	if mm, ok := mg.machines[pairID]; ok {
		snap := mm.machine.Snapshot()
		switch {
		case snap.State == StateTerminated:
			delete(mg.machines, pairID)
		case snap.State == StateIdle && callType.Valid() && snap.CallType != callType:
			mm.cancel()
			delete(mg.machines, pairID)
		default:
			return mm.machine
		}
	}

	ctx, cancel := context.WithCancel(mg.ctx)
	var m *Machine
	m = NewMachine(Config{
		Self:         mg.cfg.Self,
		Peer:         peer,
		CallType:     callType,
		RingTimeout:  mg.cfg.RingTimeout,
		CleanupDelay: mg.cfg.CleanupDelay,
		CloseDelay:   mg.cfg.CloseDelay,
		OnClose:      func() { mg.remove(pairID, m) },
		OnUpdate:     mg.cfg.OnUpdate,
	}, mg.deps)

	mg.machines[pairID] = &managedMachine{machine: m, cancel: cancel}

	go func() {
		defer cancel()
		if err := m.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("Call machine stopped", zap.String("pair_id", pairID), zap.Error(err))
		}
	}()

	return m
}

// Get returns the machine for pairID
func (mg *Manager) Get(pairID string) (*Machine, bool) {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	mm, ok := mg.machines[pairID]
	if !ok {
		return nil, false
	}
	return mm.machine, true
}

// List returns the current snapshots
func (mg *Manager) List() []Snapshot {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	out := make([]Snapshot, 0, len(mg.machines))
	for _, mm := range mg.machines {
		out = append(out, mm.machine.Snapshot())
	}
	return out
}

// Close ends any call in the conversation and waits for its machine to finish
func (mg *Manager) Close(ctx context.Context, pairID string) error {
	mg.mu.Lock()
	mm, ok := mg.machines[pairID]
	mg.mu.Unlock()
	if !ok {
		return nil
	}

	if snap := mm.machine.Snapshot(); snap.State == StateIdle {
		mm.cancel()
	} else if err := mm.machine.EndCall(ctx); err != nil {
		logger.Debug("EndCall on close failed", zap.String("pair_id", pairID), zap.Error(err))
		mm.cancel()
	}

	select {
	case <-mm.machine.Done():
	case <-ctx.Done():
		mm.cancel()
		return ctx.Err()
	}

	mg.remove(pairID, mm.machine)
	return nil
}

// Shutdown closes every machine
func (mg *Manager) Shutdown(ctx context.Context) {
	mg.mu.Lock()
	ids := make([]string, 0, len(mg.machines))
	for id := range mg.machines {
		ids = append(ids, id)
	}
	mg.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := mg.Close(ctx, id); err != nil {
				logger.Warn("Call machine did not close cleanly", zap.String("pair_id", id), zap.Error(err))
			}
		}(id)
	}
	wg.Wait()
}

func (mg *Manager) remove(pairID string, m *Machine) {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	if mm, ok := mg.machines[pairID]; ok && mm.machine == m {
		delete(mg.machines, pairID)
	}
}
