package service

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictionperps/internal/crypto"
	"github.com/alanyoungcy/predictionperps/internal/domain"
	"github.com/alanyoungcy/predictionperps/internal/ledgertx"
	"github.com/alanyoungcy/predictionperps/internal/protocol"
)

func TestDepositSignsPermitAndSendsOneTransaction(t *testing.T) {
	signer := newSigner(t)
	fake, cfg := newChain(t, signer.Address())
	fake.SetNonce(signer.Address(), big.NewInt(7))

	now := time.Unix(1_700_000_000, 0)
	svc := NewCollateralService(fake, cfg, signer, nil, discardLogger())
	svc.now = func() time.Time { return now }

	res, err := svc.Deposit(context.Background(), "100")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, domain.TxStatusSuccess, svc.DepositState().Status)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	call := calls[0]
	assert.Equal(t, "deposit", call.Method)
	assert.Equal(t, cfg.Ledger, call.To)
	assert.Equal(t, protocol.DepositGasLimit, call.GasLimit)
	assert.Equal(t, signer.Address(), call.Args[0])
	assertBig(t, big.NewInt(100_000000), call.Args[1])
	assertBig(t, big.NewInt(0), call.Args[2])
	assert.Equal(t, uint8(1), call.Args[3])

	permit := call.Args[4]
	deadline := field(permit, "Deadline").(*big.Int)
	assert.Equal(t, now.Unix()+600, deadline.Int64())
	assertBig(t, big.NewInt(100_000000), field(permit, "Value"))

	sig := crypto.Signature{
		V: field(permit, "V").(uint8),
		R: field(permit, "R").([32]byte),
		S: field(permit, "S").([32]byte),
	}
	owner, err := crypto.RecoverPermitSigner(crypto.PermitDomain{
		Name:              "Mock USDC",
		Version:           "1",
		ChainID:           cfg.ChainID,
		VerifyingContract: cfg.Collateral,
	}, crypto.Permit{
		Owner:    signer.Address(),
		Spender:  cfg.Ledger,
		Value:    big.NewInt(100_000000),
		Nonce:    big.NewInt(7),
		Deadline: deadline,
	}, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), owner)
}

func TestDepositSignatureRejectedSendsNothing(t *testing.T) {
	owner := common.HexToAddress("0x000000000000000000000000000000000000beef")
	fake, cfg := newChain(t, owner)
	svc := NewCollateralService(fake, cfg, failingSigner{addr: owner}, nil, discardLogger())

	_, err := svc.Deposit(context.Background(), "100")
	require.Error(t, err)
	var sub *domain.SubmissionError
	require.True(t, errors.As(err, &sub))
	assert.Empty(t, fake.Calls())

	st := svc.DepositState()
	assert.Equal(t, domain.TxStatusError, st.Status)
	assert.Contains(t, st.ErrorMessage, "user rejected the request")
}

func TestDepositRejectsBadAmounts(t *testing.T) {
	signer := newSigner(t)
	fake, cfg := newChain(t, signer.Address())
	svc := NewCollateralService(fake, cfg, signer, nil, discardLogger())

	for _, amount := range []string{"", "0", "-1", "abc", "1.0000001"} {
		_, err := svc.Deposit(context.Background(), amount)
		require.Error(t, err, amount)
		assert.Equal(t, domain.TxStatusError, svc.DepositState().Status, amount)
	}
	assert.Empty(t, fake.Calls())
}

func TestWithdrawSendsToDeskAccount(t *testing.T) {
	signer := newSigner(t)
	fake, cfg := newChain(t, signer.Address())
	svc := NewCollateralService(fake, cfg, signer, nil, discardLogger())

	_, err := svc.Withdraw(context.Background(), "12.5")
	require.NoError(t, err)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "withdraw", calls[0].Method)
	assert.Equal(t, protocol.WithdrawGasLimit, calls[0].GasLimit)
	assertBig(t, big.NewInt(12_500000), calls[0].Args[0])
	assert.Equal(t, signer.Address(), calls[0].Args[1])
	assert.Equal(t, domain.TxStatusIdle, svc.DepositState().Status)
}

func TestCollateralWithoutChain(t *testing.T) {
	cfg := protocol.DefaultConfig()
	svc := NewCollateralService(nil, &cfg, nil, nil, discardLogger())
	_, err := svc.Deposit(context.Background(), "1")
	var pre *domain.PreconditionError
	require.True(t, errors.As(err, &pre))
	assert.Equal(t, domain.TxStatusError, svc.DepositState().Status)
	assert.Equal(t, ledgertx.Describe(err), svc.DepositState().ErrorMessage)
}
