package flashloan

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sonicx222/arbitrage-new-sub003/internal/model"
)

// unsupportedProvider is the fallback for protocols the registry knows by
// name but the engine cannot execute. Fee math still works so upstream
// profitability estimation stays usable; everything execution-shaped fails.
type unsupportedProvider struct {
	baseProvider
	declared string // protocol name as configured
}

func newUnsupportedProvider(chain model.Chain, declared string, feeBps int64,
	clock func() time.Time, logger *slog.Logger) *unsupportedProvider {
	return &unsupportedProvider{
		baseProvider: newBaseProvider(ProtocolUnsupported, chain, feeBps, "", nil, nil, 0, clock, logger),
		declared:     declared,
	}
}

func (p *unsupportedProvider) IsAvailable() bool { return false }

func (p *unsupportedProvider) Capabilities() Capabilities {
	return Capabilities{Status: StatusNotImplemented}
}

func (p *unsupportedProvider) Validate(req *Request) error {
	return validationErrorf(CodeUnsupportedProtocol, "protocol %q is not supported on %s", p.declared, p.chain)
}

func (p *unsupportedProvider) BuildCalldata(req *Request) ([]byte, error) {
	return nil, ErrNotImplemented
}

func (p *unsupportedProvider) BuildTransaction(req *Request, from common.Address) (*TxRequest, error) {
	return nil, ErrNotImplemented
}

func (p *unsupportedProvider) EstimateGas(ctx context.Context, req *Request, rpc GasEstimator) (uint64, error) {
	return 0, ErrNotImplemented
}
