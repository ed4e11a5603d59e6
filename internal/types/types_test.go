package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNumericChainIDs(t *testing.T) {
	// Exact values required for wire compatibility
	assert.Equal(t, 1, ChainEthereum.NumericChainID())
	assert.Equal(t, 137, ChainPolygon.NumericChainID())
	assert.Equal(t, 42161, ChainArbitrum.NumericChainID())
	assert.Equal(t, 8453, ChainBase.NumericChainID())
	assert.Equal(t, 324, ChainZkSync.NumericChainID())
}

func TestChainSupport(t *testing.T) {
	assert.True(t, ChainEthereum.IsSupported())
	assert.False(t, ChainID("optimism").IsSupported())
}

func TestStreamExplorerActions(t *testing.T) {
	assert.Equal(t, "txlist", StreamNormal.ExplorerAction())
	assert.Equal(t, "tokentx", StreamToken.ExplorerAction())
	assert.Equal(t, "tokennfttx", StreamNFT.ExplorerAction())
}

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityHigh))
	assert.True(t, SeverityHigh.AtLeast(SeverityHigh))
	assert.False(t, SeverityMedium.AtLeast(SeverityHigh))
	assert.True(t, SeverityLow.AtLeast(SeverityInformational))
}

func TestWalletWatermarkDefaultsToZero(t *testing.T) {
	wallet := &Wallet{}
	assert.Zero(t, wallet.Watermark(StreamNormal))

	wallet.StreamWatermarks = map[Stream]uint64{StreamToken: 42}
	assert.Equal(t, uint64(42), wallet.Watermark(StreamToken))
	assert.Zero(t, wallet.Watermark(StreamNormal))
}

func TestTransactionIsFrom(t *testing.T) {
	tx := &Transaction{From: "0xAbCd"}
	assert.True(t, tx.IsFrom("0xabcd"))
	assert.False(t, tx.IsFrom("0xother"))
}

func TestLinkTokenExpiry(t *testing.T) {
	token := &TelegramLinkToken{CreatedAt: time.Now().Add(-11 * time.Minute)}
	assert.True(t, token.Expired(time.Now()))

	fresh := &TelegramLinkToken{CreatedAt: time.Now().Add(-9 * time.Minute)}
	assert.False(t, fresh.Expired(time.Now()))
}
