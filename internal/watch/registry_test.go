package watch

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClassifier struct {
	code map[common.Address][]byte
	err  error
}

func (f *fakeClassifier) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}

	return f.code[account], nil
}

type fakeTokenSubscriber struct {
	calls [][]common.Address
}

func (f *fakeTokenSubscriber) EnsureSubscribed(_ context.Context, tokens []common.Address) {
	f.calls = append(f.calls, tokens)
}

type fakeSink struct {
	pushes []Push
}

func (f *fakeSink) Send(event string, payload any) {
	f.pushes = append(f.pushes, Push{Event: event, Payload: payload})
}

func (f *fakeSink) Error(event string, message string) {
	f.pushes = append(f.pushes, Push{Event: event, Err: message})
}

var (
	accountA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	accountB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	tokenC   = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	tokenD   = common.HexToAddress("0x00000000000000000000000000000000000000d4")
)

func newTestClassifier() *fakeClassifier {
	return &fakeClassifier{
		code: map[common.Address][]byte{
			tokenC: {0x60, 0x80},
			tokenD: {0x60, 0x80},
		},
	}
}

func TestRegistry_Register(t *testing.T) {
	ctx := context.Background()
	logger, _ := zap.NewDevelopment()

	t.Run("successful registration", func(t *testing.T) {
		tokens := &fakeTokenSubscriber{}
		registry := NewRegistry(logger, newTestClassifier(), tokens, 0)

		err := registry.Register(ctx, "conn-1", EventAccount, accountA, []common.Address{tokenC}, &fakeSink{})

		require.NoError(t, err)

		entries := registry.Subscribers(EventAccount)
		require.Len(t, entries, 1)
		assert.Equal(t, accountA, entries[0].Account)
		assert.Equal(t, []common.Address{tokenC}, entries[0].Tokens)

		require.Len(t, tokens.calls, 1)
		assert.Equal(t, []common.Address{tokenC}, tokens.calls[0])
	})

	t.Run("account must not be a contract", func(t *testing.T) {
		registry := NewRegistry(logger, newTestClassifier(), &fakeTokenSubscriber{}, 0)

		err := registry.Register(ctx, "conn-1", EventAccount, tokenC, nil, &fakeSink{})

		assert.ErrorIs(t, err, ErrNotAccount)
		assert.Empty(t, registry.Subscribers(EventAccount))
	})

	t.Run("token must be a contract", func(t *testing.T) {
		registry := NewRegistry(logger, newTestClassifier(), &fakeTokenSubscriber{}, 0)

		err := registry.Register(ctx, "conn-1", EventAccount, accountA, []common.Address{accountB}, &fakeSink{})

		assert.ErrorIs(t, err, ErrNotContract)
		assert.Empty(t, registry.Subscribers(EventAccount))
	})

	t.Run("node failure surfaces as unavailable", func(t *testing.T) {
		classifier := &fakeClassifier{err: errors.New("connection refused")}
		registry := NewRegistry(logger, classifier, &fakeTokenSubscriber{}, 0)

		err := registry.Register(ctx, "conn-1", EventAccount, accountA, nil, &fakeSink{})

		assert.ErrorIs(t, err, ErrNodeUnavailable)
	})

	t.Run("duplicate account for the same connection is rejected", func(t *testing.T) {
		registry := NewRegistry(logger, newTestClassifier(), &fakeTokenSubscriber{}, 0)

		require.NoError(t, registry.Register(ctx, "conn-1", EventAccount, accountA, nil, &fakeSink{}))

		err := registry.Register(ctx, "conn-1", EventAccount, accountA, []common.Address{tokenC}, &fakeSink{})

		assert.ErrorIs(t, err, ErrDuplicateSubscription)
		assert.Len(t, registry.Subscribers(EventAccount), 1)
	})

	t.Run("same account under another connection is allowed", func(t *testing.T) {
		registry := NewRegistry(logger, newTestClassifier(), &fakeTokenSubscriber{}, 0)

		require.NoError(t, registry.Register(ctx, "conn-1", EventAccount, accountA, nil, &fakeSink{}))
		require.NoError(t, registry.Register(ctx, "conn-2", EventAccount, accountA, nil, &fakeSink{}))

		assert.Len(t, registry.Subscribers(EventAccount), 2)
	})

	t.Run("capacity cap rejects further registrations", func(t *testing.T) {
		registry := NewRegistry(logger, newTestClassifier(), &fakeTokenSubscriber{}, 2)

		require.NoError(t, registry.Register(ctx, "conn-1", EventAccount, accountA, nil, &fakeSink{}))
		require.NoError(t, registry.Register(ctx, "conn-2", EventAccount, accountB, nil, &fakeSink{}))

		err := registry.Register(ctx, "conn-3", EventAccount, accountA, nil, &fakeSink{})

		assert.ErrorIs(t, err, ErrCapacityExceeded)
		assert.Len(t, registry.Subscribers(EventAccount), 2)
	})
}

func TestRegistry_CloseAndSweep(t *testing.T) {
	ctx := context.Background()
	logger, _ := zap.NewDevelopment()

	t.Run("closed connections are hidden before the sweep", func(t *testing.T) {
		registry := NewRegistry(logger, newTestClassifier(), &fakeTokenSubscriber{}, 0)

		require.NoError(t, registry.Register(ctx, "conn-1", EventAccount, accountA, nil, &fakeSink{}))
		require.NoError(t, registry.Register(ctx, "conn-2", EventAccount, accountB, nil, &fakeSink{}))

		registry.Close("conn-1")

		entries := registry.Subscribers(EventAccount)
		require.Len(t, entries, 1)
		assert.Equal(t, accountB, entries[0].Account)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		registry := NewRegistry(logger, newTestClassifier(), &fakeTokenSubscriber{}, 0)

		require.NoError(t, registry.Register(ctx, "conn-1", EventAccount, accountA, nil, &fakeSink{}))

		registry.Close("conn-1")
		registry.Close("conn-1")
		registry.Close("unknown")

		assert.Empty(t, registry.Subscribers(EventAccount))
	})

	t.Run("capacity is reclaimed by the sweep, not by close", func(t *testing.T) {
		registry := NewRegistry(logger, newTestClassifier(), &fakeTokenSubscriber{}, 1)

		require.NoError(t, registry.Register(ctx, "conn-1", EventAccount, accountA, nil, &fakeSink{}))

		registry.Close("conn-1")

		err := registry.Register(ctx, "conn-2", EventAccount, accountB, nil, &fakeSink{})
		assert.ErrorIs(t, err, ErrCapacityExceeded)

		registry.Sweep()

		require.NoError(t, registry.Register(ctx, "conn-2", EventAccount, accountB, nil, &fakeSink{}))
		assert.Len(t, registry.Subscribers(EventAccount), 1)
	})

	t.Run("registering again after close starts a fresh row", func(t *testing.T) {
		registry := NewRegistry(logger, newTestClassifier(), &fakeTokenSubscriber{}, 0)

		require.NoError(t, registry.Register(ctx, "conn-1", EventAccount, accountA, nil, &fakeSink{}))
		registry.Close("conn-1")

		require.NoError(t, registry.Register(ctx, "conn-1", EventAccount, accountA, nil, &fakeSink{}))

		entries := registry.Subscribers(EventAccount)
		require.Len(t, entries, 1)
		assert.Equal(t, accountA, entries[0].Account)
	})
}
