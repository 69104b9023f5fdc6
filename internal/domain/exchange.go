package domain

import "context"

// Exchanger is the transport contract a venue adapter provides to the
// market data cache.
type Exchanger interface {
	GetName() string
	// OnUpdate registers the callback that receives parsed updates. It may be
	// invoked from any goroutine the adapter owns.
	OnUpdate(handler func(OrderBookUpdate))
	Subscribe(ctx context.Context, pair string) error
	Unsubscribe(ctx context.Context, pair string) error
	QuerySnapshot(ctx context.Context, pair string) (OrderBookUpdate, error)
}
