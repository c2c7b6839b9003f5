package upstream

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

const DefaultRetryInterval = 5 * time.Second

// HeadSubscriber opens the new-head feed. Satisfied by
// *ethclient.Client.
type HeadSubscriber interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// Source owns the single live feed of new block headers. A feed error
// is reported and the subscription is reopened after a fixed delay;
// headers are forwarded on one channel for the dispatcher.
type Source struct {
	logger *zap.Logger
	node   HeadSubscriber
	retry  time.Duration
}

func NewSource(logger *zap.Logger, node HeadSubscriber, retry time.Duration) *Source {
	if retry <= 0 {
		retry = DefaultRetryInterval
	}

	return &Source{
		logger: logger,
		node:   node,
		retry:  retry,
	}
}

// Run streams headers into out until the context ends.
func (s *Source) Run(ctx context.Context, out chan<- *types.Header) {
	for {
		err := s.stream(ctx, out)
		if ctx.Err() != nil {
			return
		}

		s.logger.Error("new head feed failed, resubscribing",
			zap.Duration("retryIn", s.retry),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.retry):
		}
	}
}

func (s *Source) stream(ctx context.Context, out chan<- *types.Header) error {
	heads := make(chan *types.Header)

	sub, err := s.node.SubscribeNewHead(ctx, heads)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case head := <-heads:
			select {
			case out <- head:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
