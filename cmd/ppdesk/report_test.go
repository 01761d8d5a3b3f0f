package main

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/predictionperps/internal/domain"
)

func TestPrintRunMarksPartialFailure(t *testing.T) {
	hash := common.HexToHash("0xabc")
	run := domain.MarketCreationRun{
		ID:     "r1",
		Ticker: "EPL",
		Status: domain.RunStatusFailed,
		Market: domain.MarketRef{MarketID: big.NewInt(7), MarketMaker: common.HexToAddress("0x1000")},
		Steps: []domain.Step{
			{Key: domain.StepCloneMM, Title: "Clone market maker", Status: domain.TxStatusSuccess, TxHash: &hash},
			{Key: domain.StepCreateMarket, Title: "Create market", Status: domain.TxStatusError, Error: "Execution reverted: ticker taken"},
		},
		FailedStep: domain.StepCreateMarket,
	}

	var out bytes.Buffer
	printRun(&out, run)

	s := out.String()
	assert.Contains(t, s, "run r1: failed (EPL)")
	assert.Contains(t, s, hash.Hex())
	assert.Contains(t, s, "Execution reverted: ticker taken")
	assert.Contains(t, s, "market 7")
	assert.Contains(t, s, "partially created")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "INFO", parseLevel("nonsense").String())
}
