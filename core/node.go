package core

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"stakeledger/core/events"
	"stakeledger/core/state"
	"stakeledger/core/types"
	"stakeledger/crypto"
	"stakeledger/native/stake"
	"stakeledger/storage"
)

const recentEventLimit = 256

// EventUpdate wraps an emitted event with its position in the stream so
// subscribers can resume from a cursor after a dropped connection.
type EventUpdate struct {
	Sequence uint64
	Cursor   string
	Event    types.Event
}

// Node is the host environment around the stake engine: it serialises every
// mutation behind a single lock (no two mutations of a record ever run
// concurrently), stamps each operation with a trusted clock reading taken at
// admission, and buffers emitted events for the RPC surface. Queries share a
// read lock so they can run concurrently but never observe a half-applied
// mutation.
type Node struct {
	mu     sync.RWMutex
	db     storage.Database
	state  *state.Manager
	engine *stake.Engine
	nowFn  func() int64

	eventsMu    sync.Mutex
	eventSeq    uint64
	eventNextID uint64
	eventSubs   map[uint64]chan EventUpdate
	recent      []EventUpdate
}

// NewNode wires a node over the given database with default stake parameters.
func NewNode(db storage.Database) *Node {
	node := &Node{
		db:    db,
		state: state.NewManager(db),
		nowFn: func() int64 { return time.Now().Unix() },
	}
	node.engine = stake.NewEngine()
	node.engine.SetState(node.state)
	node.engine.SetEmitter(node)
	return node
}

// SetNowFunc overrides the clock used to timestamp operations. Primarily for
// tests needing deterministic time.
func (n *Node) SetNowFunc(now func() int64) {
	if now == nil {
		n.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	n.nowFn = now
}

// SetStakeParams configures the accrual parameters before serving traffic.
func (n *Node) SetStakeParams(p stake.Params) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.engine.SetParams(p)
}

// StakeParams reports the active accrual parameters.
func (n *Node) StakeParams() stake.Params {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.engine.Params()
}

// SetStakePaused toggles the administrative pause on stake mutations.
func (n *Node) SetStakePaused(paused bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.engine.SetPaused(paused)
}

// Emit implements events.Emitter. Each event is sequenced, retained in a
// bounded replay window, and fanned out to live subscribers. A subscriber
// whose channel is full misses the update and recovers it via its cursor.
func (n *Node) Emit(evt events.Event) {
	payload, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	rendered := payload.Event()
	if rendered == nil {
		return
	}

	n.eventsMu.Lock()
	n.eventSeq++
	update := EventUpdate{
		Sequence: n.eventSeq,
		Cursor:   strconv.FormatUint(n.eventSeq, 10),
		Event:    *rendered,
	}
	n.recent = append(n.recent, update)
	if len(n.recent) > recentEventLimit {
		n.recent = n.recent[len(n.recent)-recentEventLimit:]
	}
	subscribers := make([]chan EventUpdate, 0, len(n.eventSubs))
	for _, ch := range n.eventSubs {
		subscribers = append(subscribers, ch)
	}
	n.eventsMu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- update:
		default:
		}
	}
}

// RecentEvents returns a copy of the buffered event window.
func (n *Node) RecentEvents() []types.Event {
	n.eventsMu.Lock()
	defer n.eventsMu.Unlock()
	out := make([]types.Event, 0, len(n.recent))
	for _, update := range n.recent {
		out = append(out, update.Event)
	}
	return out
}

// EventsSubscribe registers a live subscriber for stake events starting after
// the supplied cursor. The backlog holds the retained events the subscriber
// has not yet seen; cancel releases the subscription and is safe to call more
// than once.
func (n *Node) EventsSubscribe(ctx context.Context, cursor string) (<-chan EventUpdate, func(), []EventUpdate, error) {
	if n == nil {
		return nil, nil, nil, fmt.Errorf("node not initialised")
	}
	updates := make(chan EventUpdate, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	n.eventsMu.Lock()
	if n.eventSubs == nil {
		n.eventSubs = make(map[uint64]chan EventUpdate)
	}
	id := n.eventNextID
	n.eventNextID++
	n.eventSubs[id] = updates
	history := make([]EventUpdate, len(n.recent))
	copy(history, n.recent)
	n.eventsMu.Unlock()

	backlog := make([]EventUpdate, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > since {
			backlog = append(backlog, entry)
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.eventsMu.Lock()
			sub, ok := n.eventSubs[id]
			if ok {
				delete(n.eventSubs, id)
				close(sub)
			}
			n.eventsMu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return updates, cancel, backlog, nil
}

// CreateRecord establishes the stake record and vault for an owner.
func (n *Node) CreateRecord(owner [20]byte) (*stake.StakeAccount, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.CreateRecord(owner, n.nowFn())
}

// Stake deposits amount from the owner's wallet into escrow.
func (n *Node) Stake(owner [20]byte, amount uint64) (*stake.StakeAccount, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Stake(owner, amount, n.nowFn())
}

// Unstake releases amount from escrow back to the owner's wallet.
func (n *Node) Unstake(owner [20]byte, amount uint64) (*stake.StakeAccount, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Unstake(owner, amount, n.nowFn())
}

// ClaimPoints settles and pays out the owner's display points.
func (n *Node) ClaimPoints(owner [20]byte) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Claim(owner, n.nowFn())
}

// Points previews the display points a claim right now would yield.
func (n *Node) Points(owner [20]byte) (uint64, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.engine.Points(owner, n.nowFn())
}

// StakeRecord returns the owner's record together with the derived vault
// address and its current escrowed balance.
func (n *Node) StakeRecord(owner [20]byte) (*stake.StakeAccount, [20]byte, *big.Int, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	record, err := n.engine.Record(owner)
	if err != nil {
		return nil, [20]byte{}, nil, err
	}
	vaultAddr := crypto.VaultAddress(owner, record.DerivationNonce)
	balance, err := n.state.VaultBalance(owner, record.DerivationNonce)
	if err != nil {
		return nil, [20]byte{}, nil, err
	}
	return record, vaultAddr, balance, nil
}

// WithState grants scoped access to the state manager. Intended for genesis
// application and tests; callers must not retain the manager.
func (n *Node) WithState(fn func(*state.Manager) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return fn(n.state)
}
