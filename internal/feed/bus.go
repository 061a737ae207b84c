package feed

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// BusFeeder applies ticks published on a signal bus channel to a Static
// feed, so several engine processes can share one upstream connection.
type BusFeeder struct {
	bus     domain.SignalBus
	channel string
	sink    *Static
	logger  *slog.Logger
}

// NewBusFeeder creates a BusFeeder reading channel.
func NewBusFeeder(bus domain.SignalBus, channel string, sink *Static, logger *slog.Logger) *BusFeeder {
	return &BusFeeder{
		bus:     bus,
		channel: channel,
		sink:    sink,
		logger:  logger.With(slog.String("component", "feed_bus")),
	}
}

// Run consumes the channel until ctx ends or the subscription closes.
func (f *BusFeeder) Run(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, f.channel)
	if err != nil {
		return err
	}
	f.logger.Info("bus feeder started", slog.String("channel", f.channel))
	defer f.logger.Info("bus feeder stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			t, err := DecodeTick(data)
			if err == nil {
				err = t.Apply(f.sink)
			}
			if err != nil {
				f.logger.Debug("bus tick dropped", slog.String("error", err.Error()))
			}
		}
	}
}
