package cashier

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"github.com/onemorebsmith/contribution-ledger/src/ledger"
	"github.com/onemorebsmith/contribution-ledger/src/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const transferGas = 21000

type CashierConfig struct {
	RPCAddress    string `yaml:"rpc_address"`
	CustodyKey    string `yaml:"custody_key"` // hex secp256k1 key of the custody account
	Mock          bool   `yaml:"use_mock"`
	GasMultiplier uint64 `yaml:"gas_price_multiplier"`
}

var _ ledger.Cashier = (*CashierClient)(nil)

// CashierClient pays out custody with plain value transfers on an Ethereum JSON-RPC endpoint
type CashierClient struct {
	config  CashierConfig
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	from    model.Identity
	chainId *big.Int
	logger  *zap.Logger
}

func NewCashierClient(ctx context.Context, cfg CashierConfig, logger *zap.Logger) (ledger.Cashier, error) {
	if cfg.Mock {
		return NewMockCashier(cfg), nil
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.CustodyKey), "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "failed parsing custody key")
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCAddress)
	if err != nil {
		return nil, errors.Wrapf(err, "failed connecting to rpc node at %s", cfg.RPCAddress)
	}
	chainId, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, "failed fetching chain id")
	}
	if cfg.GasMultiplier == 0 {
		cfg.GasMultiplier = 1
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	return &CashierClient{
		config:  cfg,
		client:  client,
		key:     key,
		from:    from,
		chainId: chainId,
		logger: logger.Named("cashier").With(
			zap.String("custody", from.Hex()),
			zap.String("chain_id", chainId.String())),
	}, nil
}

func (cc *CashierClient) Send(ctx context.Context, to model.Identity, amount *uint256.Int) (string, error) {
	cc.logger.Info("sending custody", zap.String("to", to.Hex()), zap.String("amount", amount.Dec()))
	nonce, err := cc.client.PendingNonceAt(ctx, cc.from)
	if err != nil {
		return "", errors.Wrap(err, "failed fetching custody nonce")
	}
	gasPrice, err := cc.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", errors.Wrap(err, "failed fetching gas price")
	}
	gasPrice.Mul(gasPrice, new(big.Int).SetUint64(cc.config.GasMultiplier))

	tx := types.NewTransaction(nonce, to, amount.ToBig(), transferGas, gasPrice, nil)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(cc.chainId), cc.key)
	if err != nil {
		return "", errors.Wrap(err, "failed signing payout transaction")
	}
	if err := cc.client.SendTransaction(ctx, signed); err != nil {
		return "", errors.Wrapf(err, "failed to send %s wei to %s", amount.Dec(), to.Hex())
	}
	txId := signed.Hash().Hex()
	cc.logger.Info("sent custody", zap.String("to", to.Hex()), zap.String("amount", amount.Dec()), zap.String("tx", txId))
	return txId, nil
}

func (cc *CashierClient) Close() {
	cc.client.Close()
}
