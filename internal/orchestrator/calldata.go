package orchestrator

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// callData is the opaque payload handed to the lending facility and echoed
// back to the loan callback.
type callData struct {
	AttemptID   string
	Opportunity []byte
}

func encodeCallData(attemptID string, opp domain.Opportunity) ([]byte, error) {
	raw, err := opp.MarshalRLP()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: encode opportunity: %w", err)
	}
	b, err := rlp.EncodeToBytes(callData{AttemptID: attemptID, Opportunity: raw})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: encode calldata: %w", err)
	}
	return b, nil
}

func decodeCallData(b []byte) (string, domain.Opportunity, error) {
	var cd callData
	if err := rlp.DecodeBytes(b, &cd); err != nil {
		return "", domain.Opportunity{}, fmt.Errorf("orchestrator: decode calldata: %w", err)
	}
	opp, err := domain.DecodeOpportunity(cd.Opportunity)
	if err != nil {
		return "", domain.Opportunity{}, err
	}
	return cd.AttemptID, opp, nil
}
