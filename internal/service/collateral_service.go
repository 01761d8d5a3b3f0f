package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictionperps/internal/crypto"
	"github.com/alanyoungcy/predictionperps/internal/domain"
	"github.com/alanyoungcy/predictionperps/internal/ledgertx"
	"github.com/alanyoungcy/predictionperps/internal/protocol"
)

// PermitDeadline is how long a deposit permit stays valid.
const PermitDeadline = 10 * time.Minute

// PermitSigner signs EIP-2612 permits for the desk's account.
type PermitSigner interface {
	Address() common.Address
	SignPermit(ctx context.Context, d crypto.PermitDomain, p crypto.Permit) (crypto.Signature, error)
}

// CollateralService wraps collateral into ledger balance and back. Deposit
// and withdraw own independent controllers.
type CollateralService struct {
	chain    Chain
	proto    *protocol.Config
	signer   PermitSigner
	deposit  *ledgertx.Controller
	withdraw *ledgertx.Controller
	now      func() time.Time
	logger   *slog.Logger
}

// NewCollateralService creates a CollateralService. chain may be nil, in
// which case every operation fails with the RPC-not-ready message.
func NewCollateralService(chain Chain, proto *protocol.Config, signer PermitSigner, hooks *TxHooks, logger *slog.Logger) *CollateralService {
	return &CollateralService{
		chain:    chain,
		proto:    proto,
		signer:   signer,
		deposit:  ledgertx.New(chain, hooks.Options("deposit")...),
		withdraw: ledgertx.New(chain, hooks.Options("withdraw")...),
		now:      time.Now,
		logger:   logger,
	}
}

// DepositState returns the deposit controller snapshot.
func (s *CollateralService) DepositState() ledgertx.State { return s.deposit.State() }

// WithdrawState returns the withdraw controller snapshot.
func (s *CollateralService) WithdrawState() ledgertx.State { return s.withdraw.State() }

// Deposit signs a permit for amount (human units of collateral) and submits
// a single deposit transaction carrying it. Nothing is sent if the amount is
// invalid or the signature cannot be produced.
func (s *CollateralService) Deposit(ctx context.Context, amount string) (*domain.TxResult, error) {
	if s.deposit.Status() == domain.TxStatusPending {
		return nil, &domain.PreconditionError{Message: "transaction already pending"}
	}
	if s.chain == nil || s.signer == nil {
		return nil, refuse(s.deposit, &domain.PreconditionError{Message: "RPC or wallet client not ready."})
	}
	value, err := protocol.ParsePositiveUnits(amount, s.proto.CollateralDecimals)
	if err != nil {
		return nil, refuse(s.deposit, &domain.PreconditionError{Message: "Enter a valid deposit amount.", Err: err})
	}

	owner := s.signer.Address()
	nonce, err := s.proto.PermitNonce(ctx, s.chain, owner)
	if err != nil {
		return nil, refuse(s.deposit, fmt.Errorf("collateral_service: read permit nonce: %w", err))
	}
	deadline := big.NewInt(s.now().Add(PermitDeadline).Unix())

	permit := crypto.Permit{
		Owner:    owner,
		Spender:  s.proto.Ledger,
		Value:    value,
		Nonce:    nonce,
		Deadline: deadline,
	}
	sig, err := s.signer.SignPermit(ctx, crypto.PermitDomain{
		Name:              s.proto.CollateralName,
		Version:           s.proto.CollateralVersion,
		ChainID:           s.proto.ChainID,
		VerifyingContract: s.proto.Collateral,
	}, permit)
	if err != nil {
		s.logger.WarnContext(ctx, "collateral_service: permit signature refused", slog.String("error", err.Error()))
		return nil, refuse(s.deposit, &domain.SubmissionError{Message: "Permit signature rejected: " + err.Error(), Err: err})
	}

	call, err := s.proto.Deposit(owner, value, protocol.EIPPermit{
		Value:    value,
		Deadline: deadline,
		V:        sig.V,
		R:        sig.R,
		S:        sig.S,
	})
	if err != nil {
		return nil, refuse(s.deposit, err)
	}
	return s.deposit.RunTx(ctx, func(ctx context.Context) (common.Hash, error) {
		return s.chain.Send(ctx, call)
	}, ledgertx.WithLabel("deposit"))
}

// Withdraw unwraps amount (human units) back to the desk's account.
func (s *CollateralService) Withdraw(ctx context.Context, amount string) (*domain.TxResult, error) {
	if s.withdraw.Status() == domain.TxStatusPending {
		return nil, &domain.PreconditionError{Message: "transaction already pending"}
	}
	if s.chain == nil {
		return nil, refuse(s.withdraw, &domain.PreconditionError{Message: "Wallet not connected."})
	}
	value, err := protocol.ParsePositiveUnits(amount, s.proto.CollateralDecimals)
	if err != nil {
		return nil, refuse(s.withdraw, &domain.PreconditionError{Message: "Enter a valid withdraw amount.", Err: err})
	}
	call, err := s.proto.Withdraw(value, s.chain.From())
	if err != nil {
		return nil, refuse(s.withdraw, err)
	}
	return s.withdraw.RunTx(ctx, func(ctx context.Context) (common.Hash, error) {
		return s.chain.Send(ctx, call)
	}, ledgertx.WithLabel("withdraw"))
}
