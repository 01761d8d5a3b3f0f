// Package chain signs and submits ledger transactions over JSON-RPC and
// normalizes provider failures into the domain error types.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/predictionperps/internal/domain"
	"github.com/alanyoungcy/predictionperps/internal/protocol"
)

// Backend is the subset of ethclient.Client the desk uses.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Config holds connection and submission parameters.
type Config struct {
	RPCURL         string
	ChainID        *big.Int
	PollInterval   time.Duration
	ReceiptTimeout time.Duration
	// GasMarginPct is added on top of estimated gas limits.
	GasMarginPct uint64
}

// Client submits transactions from a single local key.
type Client struct {
	backend   Backend
	closeFn   func()
	key       *ecdsa.PrivateKey
	from      common.Address
	chainID   *big.Int
	signer    types.Signer
	cfg       Config
	errorABIs []abi.ABI
	logger    *slog.Logger

	// serializes nonce assignment
	sendMu sync.Mutex
}

// Option customizes a Client.
type Option func(*Client)

// WithErrorABIs registers contract ABIs whose custom errors are decoded
// into revert reasons.
func WithErrorABIs(abis ...abi.ABI) Option {
	return func(c *Client) { c.errorABIs = append(c.errorABIs, abis...) }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Dial connects to cfg.RPCURL and verifies the node's chain id.
func Dial(ctx context.Context, cfg Config, key *ecdsa.PrivateKey, opts ...Option) (*Client, error) {
	rpc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial: %w", err)
	}
	remote, err := rpc.ChainID(ctx)
	if err != nil {
		rpc.Close()
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}
	if cfg.ChainID != nil && cfg.ChainID.Cmp(remote) != 0 {
		rpc.Close()
		return nil, fmt.Errorf("chain: node chain id %s does not match configured %s", remote, cfg.ChainID)
	}
	cfg.ChainID = remote
	c, err := New(rpc, cfg, key, opts...)
	if err != nil {
		rpc.Close()
		return nil, err
	}
	c.closeFn = rpc.Close
	return c, nil
}

// New wraps an existing backend.
func New(backend Backend, cfg Config, key *ecdsa.PrivateKey, opts ...Option) (*Client, error) {
	if key == nil {
		return nil, errors.New("chain: private key is required")
	}
	if cfg.ChainID == nil {
		return nil, errors.New("chain: chain id is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	c := &Client{
		backend: backend,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: cfg.ChainID,
		signer:  types.LatestSignerForChainID(cfg.ChainID),
		cfg:     cfg,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "chain"))
	return c, nil
}

// From returns the sending account.
func (c *Client) From() common.Address { return c.from }

// ChainID returns the chain the client signs for.
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// Close releases the RPC connection when the client owns it.
func (c *Client) Close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}

// Send signs call and broadcasts it, returning the transaction hash. It
// does not wait for inclusion.
func (c *Client) Send(ctx context.Context, call protocol.Call) (common.Hash, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	to := call.To
	msg := ethereum.CallMsg{From: c.from, To: &to, Data: call.Data, Value: value}

	gasLimit := call.GasLimit
	if gasLimit == 0 {
		est, err := c.backend.EstimateGas(ctx, msg)
		if err != nil {
			return common.Hash{}, c.classify(err)
		}
		gasLimit = est + est*c.cfg.GasMarginPct/100
	}

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return common.Hash{}, &domain.SubmissionError{Message: "could not read account nonce", Err: err}
	}

	tx, err := c.buildTx(ctx, nonce, to, value, gasLimit, call.Data)
	if err != nil {
		return common.Hash{}, err
	}
	signed, err := types.SignTx(tx, c.signer, c.key)
	if err != nil {
		return common.Hash{}, &domain.PreconditionError{Message: "could not sign transaction", Err: fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)}
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, c.classify(err)
	}
	c.logger.Info("transaction sent",
		slog.String("method", call.Method),
		slog.String("to", to.Hex()),
		slog.String("tx_hash", signed.Hash().Hex()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas_limit", gasLimit),
	)
	return signed.Hash(), nil
}

func (c *Client) buildTx(ctx context.Context, nonce uint64, to common.Address, value *big.Int, gasLimit uint64, data []byte) (*types.Transaction, error) {
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, &domain.SubmissionError{Message: "could not read latest block", Err: err}
	}
	if head.BaseFee == nil {
		gasPrice, err := c.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, &domain.SubmissionError{Message: "could not suggest gas price", Err: err}
		}
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &to,
			Value:    value,
			Gas:      gasLimit,
			GasPrice: gasPrice,
			Data:     data,
		}), nil
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, &domain.SubmissionError{Message: "could not suggest gas tip", Err: err}
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		To:        &to,
		Value:     value,
		Gas:       gasLimit,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Data:      data,
	}), nil
}

// WaitMined polls for the receipt of hash until it is available or ctx ends.
func (c *Client) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if c.cfg.ReceiptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ReceiptTimeout)
		defer cancel()
	}
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			c.logger.Debug("receipt poll failed", slog.String("tx_hash", hash.Hex()), slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("chain: wait for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// CallContract executes a read-only call against the latest block.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: data}, nil)
	if err != nil {
		return nil, c.classify(err)
	}
	return out, nil
}

// ExplainRevert replays a reverted transaction as a call at its block and
// returns the decoded reason, or "" when none can be recovered.
func (c *Client) ExplainRevert(ctx context.Context, receipt *types.Receipt) string {
	if receipt == nil {
		return ""
	}
	tx, _, err := c.backend.TransactionByHash(ctx, receipt.TxHash)
	if err != nil || tx == nil {
		return ""
	}
	msg := ethereum.CallMsg{
		From:  c.from,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}
	_, err = c.backend.CallContract(ctx, msg, receipt.BlockNumber)
	if err == nil {
		return ""
	}
	reason, _ := c.revertReason(err)
	return reason
}
