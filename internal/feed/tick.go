package feed

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Tick is one message on a market data stream. Type "tick" carries an
// asset observation; type "fee" carries a new network fee price.
type Tick struct {
	Type     string          `json:"type"`
	Asset    common.Address  `json:"asset,omitempty"`
	Price    decimal.Decimal `json:"price"`
	Volume   decimal.Decimal `json:"volume"`
	FeePrice decimal.Decimal `json:"fee_price"`
}

// Apply writes t into s.
func (t Tick) Apply(s *Static) error {
	switch t.Type {
	case "tick":
		if t.Asset == (common.Address{}) {
			return fmt.Errorf("feed: tick without asset")
		}
		if !t.Price.IsPositive() || t.Volume.IsNegative() {
			return fmt.Errorf("feed: tick for %s has invalid price %s or volume %s", t.Asset.Hex(), t.Price, t.Volume)
		}
		s.Update(t.Asset, t.Price, t.Volume)
	case "fee":
		if !t.FeePrice.IsPositive() {
			return fmt.Errorf("feed: invalid fee price %s", t.FeePrice)
		}
		s.SetFeePrice(t.FeePrice)
	default:
		return fmt.Errorf("feed: unknown message type %q", t.Type)
	}
	return nil
}

// DecodeTick parses one JSON stream message.
func DecodeTick(data []byte) (Tick, error) {
	var t Tick
	if err := json.Unmarshal(data, &t); err != nil {
		return Tick{}, fmt.Errorf("feed: decode tick: %w", err)
	}
	return t, nil
}
