package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txMaestro/web3safetykit/internal/types"
)

func TestFullScanEnqueuesFetchAndStampsWallet(t *testing.T) {
	env := newTestEnv(t)

	err := env.pipeline.HandleFullScan(context.Background(), env.jobFor(types.TaskFullScan))
	require.NoError(t, err)

	assert.NotNil(t, env.wallets.wallet.LastScanAt)
	assert.Len(t, env.jobs.pendingOfType(types.TaskFetchTransactions), 1)
}

func TestInitialScanIsCappedDescending(t *testing.T) {
	env := newTestEnv(t)
	for block := uint64(1); block <= 1500; block++ {
		env.reader.txsByStream[types.StreamNormal] = append(env.reader.txsByStream[types.StreamNormal],
			&types.Transaction{Hash: "0x1", BlockNumber: block})
	}

	err := env.pipeline.HandleFetchTransactions(context.Background(), env.jobFor(types.TaskFetchTransactions))
	require.NoError(t, err)

	normalCall := env.reader.listCalls[0]
	assert.Equal(t, types.StreamNormal, normalCall.stream)
	assert.Equal(t, uint64(0), normalCall.startBlock)
	assert.Equal(t, "desc", normalCall.sort)
	assert.Equal(t, 1000, normalCall.limit)

	cached, err := env.txs.ListByStream(context.Background(), "wallet-1", types.StreamNormal)
	require.NoError(t, err)
	assert.Len(t, cached, 1000, "initial scan is capped at INITIAL_SCAN_MAX_TX")
}

func TestIncrementalFetchStartsAfterWatermark(t *testing.T) {
	env := newTestEnv(t)
	env.wallets.wallet.StreamWatermarks[types.StreamNormal] = 500
	env.reader.txsByStream[types.StreamNormal] = []*types.Transaction{
		{Hash: "0xold", BlockNumber: 400},
		{Hash: "0xnew1", BlockNumber: 501},
		{Hash: "0xnew2", BlockNumber: 620},
	}

	err := env.pipeline.HandleFetchTransactions(context.Background(), env.jobFor(types.TaskFetchTransactions))
	require.NoError(t, err)

	normalCall := env.reader.listCalls[0]
	assert.Equal(t, uint64(501), normalCall.startBlock, "incremental run starts at watermark+1")
	assert.Equal(t, "asc", normalCall.sort)
	assert.Zero(t, normalCall.limit)

	cached, err := env.txs.ListByStream(context.Background(), "wallet-1", types.StreamNormal)
	require.NoError(t, err)
	assert.Len(t, cached, 2)
	assert.Equal(t, uint64(620), env.wallets.wallet.StreamWatermarks[types.StreamNormal])
}

func TestWatermarkNeverDecreases(t *testing.T) {
	env := newTestEnv(t)
	env.wallets.wallet.StreamWatermarks[types.StreamNormal] = 700

	require.NoError(t, env.wallets.AdvanceWatermark(context.Background(), "wallet-1", types.StreamNormal, 650))
	assert.Equal(t, uint64(700), env.wallets.wallet.StreamWatermarks[types.StreamNormal])

	require.NoError(t, env.wallets.AdvanceWatermark(context.Background(), "wallet-1", types.StreamNormal, 800))
	assert.Equal(t, uint64(800), env.wallets.wallet.StreamWatermarks[types.StreamNormal])
}

func TestFetchEnqueuesFourAnalyzers(t *testing.T) {
	env := newTestEnv(t)

	err := env.pipeline.HandleFetchTransactions(context.Background(), env.jobFor(types.TaskFetchTransactions))
	require.NoError(t, err)

	for _, task := range types.AnalyzerTasks() {
		assert.Len(t, env.jobs.pendingOfType(task), 1, "analyzer %s must be enqueued", task)
	}
}

func TestEmptyStreamsLeaveWatermarkUntouched(t *testing.T) {
	env := newTestEnv(t)

	err := env.pipeline.HandleFetchTransactions(context.Background(), env.jobFor(types.TaskFetchTransactions))
	require.NoError(t, err)

	assert.Empty(t, env.wallets.wallet.StreamWatermarks)
}
