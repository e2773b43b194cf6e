package fetcher

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	poolABIJSON = `[{"inputs":[{"internalType":"address","name":"user","type":"address"}],"name":"getUserAccountData","outputs":[{"internalType":"uint256","name":"totalCollateralBase","type":"uint256"},{"internalType":"uint256","name":"totalDebtBase","type":"uint256"},{"internalType":"uint256","name":"availableBorrowsBase","type":"uint256"},{"internalType":"uint256","name":"currentLiquidationThreshold","type":"uint256"},{"internalType":"uint256","name":"ltv","type":"uint256"},{"internalType":"uint256","name":"healthFactor","type":"uint256"}],"stateMutability":"view","type":"function"}]`
)

var poolABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(poolABIJSON))
	if err != nil {
		panic("failed to parse lending pool ABI: " + err.Error())
	}
	poolABI = parsed
}

// OnChainOptions parameterise the lending-pool fetcher.
type OnChainOptions struct {
	RPCURL      string
	PoolAddress string
	Timeout     time.Duration
	// MinRatio and MaxRatio bound the plausible range; values outside
	// it are discarded as extraneous data from the protocol.
	MinRatio       decimal.Decimal
	MaxRatio       decimal.Decimal
	MaxConcurrency int
}

// OnChain polls per-account collateral ratios from the lending pool
// contract via Ethereum RPC.
type OnChain struct {
	opts      OnChainOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewOnChain builds a lending-pool ratio fetcher.
func NewOnChain(opts OnChainOptions, logger zerolog.Logger) *OnChain {
	return &OnChain{opts: opts, logger: logger.With().Str("component", "ratio_fetcher").Logger()}
}

// FetchRatios loads every account's position and derives its collateral
// ratio. Accounts whose calls fail, carry no debt, or fall outside the
// plausible band are omitted from the result.
func (o *OnChain) FetchRatios(ctx context.Context, accounts []string) (map[string]decimal.Decimal, error) {
	if o.opts.RPCURL == "" {
		return nil, errors.New("rpc url not configured")
	}
	if o.opts.PoolAddress == "" {
		return nil, errors.New("lending pool address not configured")
	}
	if len(accounts) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	client, err := o.getClient(ctx)
	if err != nil {
		return nil, err
	}

	pool := common.HexToAddress(o.opts.PoolAddress)

	var mu sync.Mutex
	results := make(map[string]decimal.Decimal, len(accounts))

	g, ctx := errgroup.WithContext(ctx)
	if o.opts.MaxConcurrency > 0 {
		g.SetLimit(o.opts.MaxConcurrency)
	}

	for _, account := range accounts {
		account := account
		g.Go(func() error {
			ratio, ok, err := o.fetchOne(ctx, client, pool, account)
			if err != nil {
				o.logger.Warn().Err(err).Str("account", account).Msg("account poll failed; skipping this cycle")
				return nil
			}
			if !ok {
				return nil
			}
			mu.Lock()
			results[account] = ratio
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (o *OnChain) fetchOne(ctx context.Context, client *ethclient.Client, pool common.Address, account string) (decimal.Decimal, bool, error) {
	timeout := o.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := poolABI.Pack("getUserAccountData", common.HexToAddress(account))
	if err != nil {
		return decimal.Decimal{}, false, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &pool, Data: payload}, nil)
	if err != nil {
		return decimal.Decimal{}, false, err
	}

	outputs, err := poolABI.Unpack("getUserAccountData", res)
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	if len(outputs) != 6 {
		return decimal.Decimal{}, false, errors.New("unexpected getUserAccountData response")
	}

	collateral, ok := outputs[0].(*big.Int)
	if !ok {
		return decimal.Decimal{}, false, errors.New("unexpected collateral type")
	}
	debt, ok := outputs[1].(*big.Int)
	if !ok {
		return decimal.Decimal{}, false, errors.New("unexpected debt type")
	}

	if debt.Sign() == 0 {
		o.logger.Debug().Str("account", account).Msg("account has no debt; nothing to monitor")
		return decimal.Decimal{}, false, nil
	}

	ratio := decimal.NewFromBigInt(collateral, 0).Div(decimal.NewFromBigInt(debt, 0))
	if !withinBand(ratio, o.opts.MinRatio, o.opts.MaxRatio) {
		o.logger.Debug().
			Str("account", account).
			Str("ratio", ratio.String()).
			Msg("ratio outside plausible band; discarded")
		return decimal.Decimal{}, false, nil
	}

	return ratio, true, nil
}

// withinBand reports whether the ratio sits strictly inside the
// plausibility band. A zero max disables the upper bound.
func withinBand(ratio, min, max decimal.Decimal) bool {
	if ratio.LessThanOrEqual(min) {
		return false
	}
	if max.IsPositive() && ratio.GreaterThanOrEqual(max) {
		return false
	}
	return true
}

func (o *OnChain) getClient(ctx context.Context) (*ethclient.Client, error) {
	o.clientMux.Lock()
	defer o.clientMux.Unlock()

	if o.client != nil {
		return o.client, nil
	}

	client, err := ethclient.DialContext(ctx, o.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	o.client = client
	return client, nil
}

var _ RatioFetcher = (*OnChain)(nil)
