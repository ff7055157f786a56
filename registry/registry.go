package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ruteri/create2-factory-registry/interfaces"
)

// Config holds the collaborators of a Registry.
type Config struct {
	// Owner is the only principal allowed to deploy.
	Owner common.Address

	// Executor performs construction and defines the factory address.
	Executor interfaces.ConstructionExecutor

	// Journal persists committed deployments. Optional; nil keeps state in memory only.
	Journal interfaces.DeploymentJournal

	// Log is the structured logger. Defaults to slog.Default().
	Log *slog.Logger

	// Now is the clock used for record timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Registry is the deployment registry. All mutation goes through Create, which holds
// the write lock across construction, validation and commit.
type Registry struct {
	mu sync.RWMutex

	owner    common.Address
	executor interfaces.ConstructionExecutor
	journal  interfaces.DeploymentJournal
	log      *slog.Logger
	now      func() time.Time

	instances  []common.Address
	byIdentity map[common.Address]common.Address
	seen       map[common.Address]uint64

	feed event.Feed
}

// New creates an empty registry.
func New(cfg Config) (*Registry, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("registry requires a construction executor")
	}
	if cfg.Owner == (common.Address{}) {
		return nil, fmt.Errorf("registry requires an owner")
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Registry{
		owner:      cfg.Owner,
		executor:   cfg.Executor,
		journal:    cfg.Journal,
		log:        log,
		now:        now,
		byIdentity: make(map[common.Address]common.Address),
		seen:       make(map[common.Address]uint64),
	}, nil
}

// Open creates a registry and restores its state from the configured journal.
func Open(ctx context.Context, cfg Config) (*Registry, error) {
	r, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if r.journal == nil {
		return r, nil
	}

	records, err := r.journal.Load(ctx)
	if errors.Is(err, interfaces.ErrReplicaDivergence) {
		return nil, fmt.Errorf("%w: %w", ErrCorruptJournal, err)
	}
	if err != nil {
		return nil, fmt.Errorf("could not load deployment journal: %w", err)
	}

	factory := r.executor.FactoryAddress()
	for i, record := range records {
		if record.Index != uint64(i) {
			return nil, fmt.Errorf("%w: record %d has index %d", ErrCorruptJournal, i, record.Index)
		}
		if record.Factory != factory {
			return nil, fmt.Errorf("%w: record %d was deployed by factory %s, not %s", ErrCorruptJournal, i, record.Factory.Hex(), factory.Hex())
		}
		if _, dup := r.seen[record.Address]; dup {
			return nil, fmt.Errorf("%w: duplicate address %s at index %d", ErrCorruptJournal, record.Address.Hex(), i)
		}
		r.apply(record.Identity, record.Address)
	}

	r.log.Info("Restored deployment registry from journal",
		slog.Int("instances", len(r.instances)),
		slog.Int("identities", len(r.byIdentity)))

	return r, nil
}

// Owner returns the principal authorized to deploy.
func (r *Registry) Owner() common.Address {
	return r.owner
}

// FactoryAddress returns the deployer address used in CREATE2 derivation.
func (r *Registry) FactoryAddress() common.Address {
	return r.executor.FactoryAddress()
}

// PredictAddress returns where Create would deploy initCode with salt.
func (r *Registry) PredictAddress(salt interfaces.Salt, initCode []byte) common.Address {
	return PredictAddress(r.executor.FactoryAddress(), salt, initCode)
}

// Create deploys initCode at its CREATE2 address, checks that the instance reports
// req.Identity and registers it. Either the deployment is fully registered or the
// registry is left exactly as it was.
//
// An instance that was constructed but failed identity validation stays deployed
// and is never registered.
func (r *Registry) Create(ctx context.Context, req interfaces.CreateRequest) (common.Address, error) {
	if req.Caller != r.owner {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnauthorized, req.Caller.Hex())
	}
	if req.Identity == (common.Address{}) {
		return common.Address{}, ErrInvalidIdentity
	}
	if len(req.InitCode) == 0 {
		return common.Address{}, ErrEmptyInitCode
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	factory := r.executor.FactoryAddress()
	target := PredictAddress(factory, req.Salt, req.InitCode)

	if _, exists := r.seen[target]; exists {
		return common.Address{}, fmt.Errorf("%w: %s is already registered", ErrDeployFailed, target.Hex())
	}

	instance, err := r.executor.Construct(ctx, interfaces.ConstructionRequest{
		Target:   target,
		InitCode: req.InitCode,
		Salt:     req.Salt,
		Value:    req.Value,
		GasLimit: req.GasLimit,
	})
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrDeployFailed, err)
	}
	if instance == nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrDeployFailed, interfaces.ErrEmptyDeployment)
	}
	if instance.Address() != target {
		return common.Address{}, fmt.Errorf("%w: instance at %s, expected %s", ErrDeployFailed, instance.Address().Hex(), target.Hex())
	}

	reported, err := instance.ReportedIdentity(ctx)
	if err != nil {
		r.log.Warn("Orphaned instance: identity query failed",
			slog.String("address", target.Hex()),
			"err", err)
		return common.Address{}, fmt.Errorf("%w: could not query %s: %v", ErrIdentityMismatch, target.Hex(), err)
	}
	if reported != req.Identity {
		r.log.Warn("Orphaned instance: identity mismatch",
			slog.String("address", target.Hex()),
			slog.String("expected", req.Identity.Hex()),
			slog.String("reported", reported.Hex()))
		return common.Address{}, fmt.Errorf("%w: expected %s, instance reports %s", ErrIdentityMismatch, req.Identity.Hex(), reported.Hex())
	}

	record := interfaces.DeploymentRecord{
		Index:        uint64(len(r.instances)),
		Identity:     req.Identity,
		Address:      target,
		Salt:         req.Salt,
		InitCodeHash: InitCodeHash(req.InitCode),
		Factory:      factory,
		Deployer:     req.Caller,
		Timestamp:    r.now().UTC(),
	}

	if r.journal != nil {
		if err := r.journal.Append(ctx, record); err != nil {
			r.log.Error("Orphaned instance: journal append failed",
				slog.String("address", target.Hex()),
				"err", err)
			return common.Address{}, fmt.Errorf("%w: %v", ErrCommitFailed, err)
		}
	}

	if previous, ok := r.byIdentity[req.Identity]; ok {
		r.log.Info("Identity re-registered",
			slog.String("identity", req.Identity.Hex()),
			slog.String("previous", previous.Hex()),
			slog.String("address", target.Hex()))
	}
	r.apply(req.Identity, target)

	r.log.Info("Deployed instance",
		slog.Uint64("index", record.Index),
		slog.String("identity", req.Identity.Hex()),
		slog.String("address", target.Hex()),
		slog.String("salt", req.Salt.String()))

	r.feed.Send(interfaces.DeploymentEvent{
		Identity: req.Identity,
		Address:  target,
		Salt:     req.Salt,
		Index:    record.Index,
	})

	return target, nil
}

// apply commits one entry to the in-memory state. Callers hold the write lock.
func (r *Registry) apply(identity, address common.Address) {
	r.seen[address] = uint64(len(r.instances))
	r.instances = append(r.instances, address)
	r.byIdentity[identity] = address
}

// Length returns the number of registered instances.
func (r *Registry) Length() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.instances)
}

// Last returns the most recently registered instance.
func (r *Registry) Last() (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.instances) == 0 {
		return common.Address{}, ErrNoInstancesDeployed
	}
	return r.instances[len(r.instances)-1], nil
}

// At returns the instance registered at position index.
func (r *Registry) At(index uint64) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if index >= uint64(len(r.instances)) {
		return common.Address{}, fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, index, len(r.instances))
	}
	return r.instances[index], nil
}

// ByIdentity returns the instance most recently registered for identity.
func (r *Registry) ByIdentity(identity common.Address) (common.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	address, ok := r.byIdentity[identity]
	return address, ok
}

// IndexOf returns the position at which address was registered.
func (r *Registry) IndexOf(address common.Address) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	index, ok := r.seen[address]
	return index, ok
}

// All returns a copy of the ordered instance list.
func (r *Registry) All() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instances := make([]common.Address, len(r.instances))
	copy(instances, r.instances)
	return instances
}

// maxPendingEvents bounds the per-subscriber queue. Beyond it the oldest
// undelivered events are dropped.
const maxPendingEvents = 1024

// SubscribeDeployments delivers a DeploymentEvent for every successful Create, in
// commit order. Each subscriber gets its own queue, so a slow reader never holds up
// Create or the query methods; a reader more than maxPendingEvents behind loses
// the oldest events and should resync from All.
func (r *Registry) SubscribeDeployments(ch chan<- interfaces.DeploymentEvent) event.Subscription {
	in := make(chan interfaces.DeploymentEvent)
	sub := r.feed.Subscribe(in)

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()

		var queue []interfaces.DeploymentEvent
		for {
			var (
				out  chan<- interfaces.DeploymentEvent
				next interfaces.DeploymentEvent
			)
			if len(queue) > 0 {
				out, next = ch, queue[0]
			}

			select {
			case ev := <-in:
				if len(queue) == maxPendingEvents {
					r.log.Warn("Dropping deployment event for slow subscriber",
						slog.Uint64("index", queue[0].Index))
					queue = queue[1:]
				}
				queue = append(queue, ev)
			case out <- next:
				queue = queue[1:]
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	})
}
