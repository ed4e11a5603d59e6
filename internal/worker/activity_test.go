package worker

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txMaestro/web3safetykit/internal/types"
)

func TestActivityMetricsFromCache(t *testing.T) {
	now := time.Now()
	txs := []*types.Transaction{
		{From: "0xWallet", To: "0xAAA", Timestamp: now.Add(-100 * 24 * time.Hour).Unix()},
		{From: "0xBBB", To: "0xWallet", Timestamp: now.Add(-50 * 24 * time.Hour).Unix()},
		{From: "0xWallet", To: "0xAAA", Timestamp: now.Add(-10 * 24 * time.Hour).Unix()},
	}

	metrics := computeActivityMetrics("0xWallet", txs, now)

	assert.Equal(t, 3, metrics.TransactionCount)
	assert.Equal(t, 100, metrics.WalletAgeDays)
	assert.Equal(t, 2, metrics.UniqueInteractedAddresses, "self is excluded")
	assert.Equal(t, txs[0].Timestamp, metrics.FirstTxAt)
	assert.Equal(t, txs[2].Timestamp, metrics.LastTxAt)
}

func TestEmptyWalletScoresFromActivityOnly(t *testing.T) {
	env := newTestEnv(t)

	err := env.pipeline.HandleActivity(context.Background(), env.jobFor(types.TaskAnalyzeActivity))
	require.NoError(t, err)

	// No transactions: fewer than ten transactions (+10) and age zero (+10)
	assert.Equal(t, 20, env.reports.score)
	assert.Contains(t, env.reports.summary, "Risk score 20/100")
}

func TestScoreIncludesApprovalAndContractSections(t *testing.T) {
	env := newTestEnv(t)

	// Seed the report the way the sibling analyzers would have
	require.NoError(t, env.reports.UpsertSection(context.Background(), "wallet-1", "approvals", map[string]any{
		"approvals": []*ApprovalRecord{
			{Kind: "erc20", IsUnlimited: true},
			{Kind: "erc20"},
			{Kind: "permit2"},
		},
	}))
	require.NoError(t, env.reports.UpsertSection(context.Background(), "wallet-1", "contracts", &ContractBuckets{
		UnverifiedContracts: []*ContractRecord{{Address: "0x1"}},
		UnverifiedWithRisks: []*ContractRecord{{Address: "0x2"}},
		VerifiedContractsWithRisks: []*ContractRecord{{Address: "0x3"}},
	}))

	// Aged, active wallet so the activity terms contribute nothing
	old := time.Now().Add(-400 * 24 * time.Hour).Unix()
	for block := uint64(1); block <= 12; block++ {
		env.txs.txs = append(env.txs.txs, &types.Transaction{
			WalletID: "wallet-1", Stream: types.StreamNormal,
			BlockNumber: block, From: "0xother", To: env.wallets.wallet.Address,
			Timestamp: old,
		})
	}

	err := env.pipeline.HandleActivity(context.Background(), env.jobFor(types.TaskAnalyzeActivity))
	require.NoError(t, err)

	// unlimited 1*10 + limited 1*2 + unverified 2*5 + risky 1*3 = 25
	assert.Equal(t, 25, env.reports.score)
}

func TestLPStakePositionsAreRecorded(t *testing.T) {
	env := newTestEnv(t)
	pool := "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"

	stakeData, err := env.reader.codec.PackStake(big.NewInt(1000))
	require.NoError(t, err)
	env.addNormalTx(100, pool, stakeData)
	env.addNormalTx(200, pool, stakeData) // duplicate destination collapses

	err = env.pipeline.HandleLPStake(context.Background(), env.jobFor(types.TaskAnalyzeLPStake))
	require.NoError(t, err)

	section, ok := env.reports.sections["lpStake"].(map[string]any)
	require.True(t, ok)
	positions, ok := section["positions"].([]*LPPosition)
	require.True(t, ok)
	require.Len(t, positions, 1)
	assert.Equal(t, pool, positions[0].Contract)
	assert.Equal(t, "stake", positions[0].Method)
}

func TestWorkerMarksFailedJobWithoutRetry(t *testing.T) {
	env := newTestEnv(t)
	// HandleApprovals on an unknown wallet errors out
	job, err := env.jobs.Enqueue(context.Background(), "missing-wallet", types.TaskAnalyzeApprovals, nil)
	require.NoError(t, err)

	w := NewWorker(types.TaskAnalyzeApprovals, env.pipeline.queue, env.pipeline.HandleApprovals, time.Second)
	w.pollOnce(context.Background())

	counts, err := env.jobs.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts[types.JobFailed])
	assert.Zero(t, counts[types.JobPending], "failed jobs are not retried automatically")

	_ = job
}
