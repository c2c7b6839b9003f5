package watch

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goevery/chainwatch/internal/ierr"
	"go.uber.org/zap"
)

const (
	DefaultMaxSubscriptions = 10_000
	DefaultSweepInterval    = 5 * time.Second
)

var (
	ErrNotAccount            = ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("not an eth account"))
	ErrNotContract           = ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("not an eth contract"))
	ErrDuplicateSubscription = ierr.New(ierr.ErrorCodeAlreadyExists, errors.New("already subscribed to address"))
	ErrCapacityExceeded      = ierr.New(ierr.ErrorCodeResourceExhausted, errors.New("subscription capacity exceeded"))
	ErrNodeUnavailable       = ierr.New(ierr.ErrorCodeUnavailable, errors.New("server is not available"))
)

// Entry records one client's interest in an account and an optional
// list of token contracts.
type Entry struct {
	Account common.Address
	Tokens  []common.Address
	Sink    Sink
}

func (e *Entry) WatchesToken(token common.Address) bool {
	for _, t := range e.Tokens {
		if t == token {
			return true
		}
	}

	return false
}

// AccountClassifier answers the account-vs-contract question against
// the live node. Satisfied by *ethclient.Client.
type AccountClassifier interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// TokenSubscriber is the multiplexer side effect triggered on every
// successful registration.
type TokenSubscriber interface {
	EnsureSubscribed(ctx context.Context, tokens []common.Address)
}

// Registry maps connection identity to the watch entries that
// connection has registered, per event kind. Closed connections are
// flagged with a sentinel and physically reclaimed by the periodic
// sweep, so a dispatch scan never observes a half-deleted row.
type Registry struct {
	logger   *zap.Logger
	node     AccountClassifier
	tokens   TokenSubscriber
	capacity int

	mu    sync.RWMutex
	rows  map[string]*row
	count int
}

type row struct {
	closed  bool
	entries map[string][]*Entry
}

func NewRegistry(
	logger *zap.Logger,
	node AccountClassifier,
	tokens TokenSubscriber,
	capacity int,
) *Registry {
	if capacity <= 0 {
		capacity = DefaultMaxSubscriptions
	}

	return &Registry{
		logger:   logger,
		node:     node,
		tokens:   tokens,
		capacity: capacity,
		rows:     make(map[string]*row),
	}
}

// Register validates the account and token addresses against the node,
// then records the watch entry for the connection. The capacity cap and
// the duplicate check are both evaluated under the same lock that
// guards the insert.
func (r *Registry) Register(
	ctx context.Context,
	cid string,
	event string,
	account common.Address,
	tokens []common.Address,
	sink Sink,
) error {
	code, err := r.node.CodeAt(ctx, account, nil)
	if err != nil {
		return ErrNodeUnavailable
	}

	if len(code) > 0 {
		return ErrNotAccount
	}

	for _, token := range tokens {
		code, err := r.node.CodeAt(ctx, token, nil)
		if err != nil {
			return ErrNodeUnavailable
		}

		if len(code) == 0 {
			return ErrNotContract
		}
	}

	if err := r.insert(cid, event, account, tokens, sink); err != nil {
		return err
	}

	r.logger.Info("account subscription registered",
		zap.String("connectionId", cid),
		zap.String("account", account.Hex()),
		zap.Int("tokens", len(tokens)))

	if r.tokens != nil && len(tokens) > 0 {
		r.tokens.EnsureSubscribed(ctx, tokens)
	}

	return nil
}

func (r *Registry) insert(cid, event string, account common.Address, tokens []common.Address, sink Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rw, ok := r.rows[cid]
	if ok && rw.closed {
		// The connection came back before the sweep ran; release the
		// stale row's capacity and start fresh.
		for _, entries := range rw.entries {
			r.count -= len(entries)
		}
		ok = false
	}

	if !ok {
		rw = &row{entries: make(map[string][]*Entry)}
		r.rows[cid] = rw
	}

	for _, entry := range rw.entries[event] {
		if entry.Account == account {
			return ErrDuplicateSubscription
		}
	}

	if r.count >= r.capacity {
		return ErrCapacityExceeded
	}

	rw.entries[event] = append(rw.entries[event], &Entry{
		Account: account,
		Tokens:  tokens,
		Sink:    sink,
	})
	r.count++

	return nil
}

// Close flags the connection's row as closed. Non-blocking and
// idempotent; the row stays in the map until the next sweep so a
// concurrent scan never dereferences a deleted row.
func (r *Registry) Close(cid string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rw, ok := r.rows[cid]; ok {
		rw.closed = true
	}
}

// Sweep reclaims rows flagged by Close.
func (r *Registry) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	swept := 0
	for cid, rw := range r.rows {
		if !rw.closed {
			continue
		}

		for _, entries := range rw.entries {
			r.count -= len(entries)
		}

		delete(r.rows, cid)
		swept++
	}

	if swept > 0 {
		r.logger.Debug("swept closed connections", zap.Int("connections", swept))
	}
}

// RunSweeper runs Sweep on a fixed interval until the context ends.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Subscribers returns a snapshot of every non-closed entry for the
// given event kind. Entries are immutable after insert, so sharing
// pointers with concurrent registrations is safe.
func (r *Registry) Subscribers(event string) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var entries []*Entry
	for _, rw := range r.rows {
		if rw.closed {
			continue
		}

		entries = append(entries, rw.entries[event]...)
	}

	return entries
}
