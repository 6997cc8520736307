package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/DanielSantin/site-barbearia-sub000/internal/model"
)

// FeeRequest describes a late cancellation where the client chose the fee.
type FeeRequest struct {
	UserID    string
	Date      string
	Index     int
	SlotStart time.Time
	// Accepted is the client-supplied flag; nothing has verified it.
	Accepted bool
}

// FeeGate is the trust boundary for the late-cancellation fee. A real
// payment check plugs in here; the engine itself never moves money.
type FeeGate interface {
	ConfirmFee(ctx context.Context, req FeeRequest) error
}

// TrustClientFee accepts the client's word that the fee will be paid.
type TrustClientFee struct{}

func (TrustClientFee) ConfirmFee(_ context.Context, req FeeRequest) error {
	if !req.Accepted {
		return fmt.Errorf("%w: user %s", model.ErrFeeNotConfirmed, req.UserID)
	}
	return nil
}
