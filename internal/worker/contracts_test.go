package worker

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txMaestro/web3safetykit/internal/chain"
	"github.com/txMaestro/web3safetykit/internal/types"
)

const contractAddr = "0xdddddddddddddddddddddddddddddddddddddddd"

func contractsSection(t *testing.T, env *testEnv) *ContractBuckets {
	t.Helper()
	buckets, ok := env.reports.sections["contracts"].(*ContractBuckets)
	require.True(t, ok, "contracts section must be written")
	return buckets
}

func TestUnverifiedContractWithUpgradeSelector(t *testing.T) {
	env := newTestEnv(t)
	env.addNormalTx(100, contractAddr, "0x")
	// Bytecode containing the upgradeTo(address) selector
	env.reader.bytecode[contractAddr] = common.Hex2Bytes("60003560e01c633659cfe614602e575b")

	err := env.pipeline.HandleContracts(context.Background(), env.jobFor(types.TaskAnalyzeContracts))
	require.NoError(t, err)

	buckets := contractsSection(t, env)
	require.Len(t, buckets.UnverifiedWithRisks, 1)
	assert.Empty(t, buckets.UnverifiedContracts)

	record := buckets.UnverifiedWithRisks[0]
	assert.Equal(t, contractAddr, record.Address)
	require.NotNil(t, record.BytecodeFindings)
	assert.Equal(t, "upgradeTo(address)", record.BytecodeFindings.Selectors[0].Signature)

	// First-time high-risk unverified alert fires
	require.Len(t, env.sink.all(), 1)

	// State now covers the full interacted set; the next run is silent
	require.NoError(t, env.pipeline.HandleContracts(context.Background(), env.jobFor(types.TaskAnalyzeContracts)))
	assert.Len(t, env.sink.all(), 1)
	assert.Equal(t, []string{contractAddr}, env.wallets.wallet.ContractFingerprints)
}

func TestEmptyBytecodeIsReportedWithoutRisks(t *testing.T) {
	env := newTestEnv(t)
	env.addNormalTx(100, contractAddr, "0x")
	// No bytecode entry: GetBytecode returns nil

	err := env.pipeline.HandleContracts(context.Background(), env.jobFor(types.TaskAnalyzeContracts))
	require.NoError(t, err)

	buckets := contractsSection(t, env)
	require.Len(t, buckets.UnverifiedContracts, 1)
	require.NotNil(t, buckets.UnverifiedContracts[0].BytecodeFindings)
	assert.True(t, buckets.UnverifiedContracts[0].BytecodeFindings.Empty)
	assert.Empty(t, env.sink.all())
}

func TestProxyIsAnalyzedThroughImplementation(t *testing.T) {
	env := newTestEnv(t)
	impl := common.HexToAddress("0x9999999999999999999999999999999999999999")
	env.addNormalTx(100, contractAddr, "0x")
	env.reader.impls[contractAddr] = impl
	env.reader.sources["0x9999999999999999999999999999999999999999"] = &chain.SourceCode{
		Source:       "pragma solidity ^0.8.0; contract Impl { function run() external { selfdestruct(payable(msg.sender)); } }",
		ContractName: "Impl",
	}

	err := env.pipeline.HandleContracts(context.Background(), env.jobFor(types.TaskAnalyzeContracts))
	require.NoError(t, err)

	buckets := contractsSection(t, env)
	require.Len(t, buckets.VerifiedContractsWithRisks, 1)
	record := buckets.VerifiedContractsWithRisks[0]
	assert.Equal(t, "0x9999999999999999999999999999999999999999", record.Implementation)
	assert.Contains(t, record.SourceFindings.HighKeywords, "selfdestruct")
	assert.Equal(t, "ai summary", record.AISummary, "high keyword triggers the AI summary")
}

func TestHiddenApproveUsesCriticalHoneypotTitle(t *testing.T) {
	env := newTestEnv(t)
	env.addNormalTx(100, contractAddr, "0x")
	env.reader.sources[contractAddr] = &chain.SourceCode{
		Source: `pragma solidity ^0.8.2;
			contract Trap {
				function _transfer(address from, address to, uint256 amount) internal virtual override {
					approve(owner, attacker, MAX);
				}
			}`,
		ContractName: "Trap",
	}

	err := env.pipeline.HandleContracts(context.Background(), env.jobFor(types.TaskAnalyzeContracts))
	require.NoError(t, err)

	messages := env.sink.all()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "CRITICAL HONEYPOT ALERT")
	assert.Equal(t, 1, env.ai.calls, "hidden approve triggers the AI summary")
}

func TestVerifiedCleanContractIsNotReported(t *testing.T) {
	env := newTestEnv(t)
	env.addNormalTx(100, contractAddr, "0x")
	env.reader.sources[contractAddr] = &chain.SourceCode{
		Source:       "pragma solidity ^0.8.20; contract Greeter { string public greeting; }",
		ContractName: "Greeter",
	}

	err := env.pipeline.HandleContracts(context.Background(), env.jobFor(types.TaskAnalyzeContracts))
	require.NoError(t, err)

	buckets := contractsSection(t, env)
	assert.Empty(t, buckets.UnverifiedContracts)
	assert.Empty(t, buckets.UnverifiedWithRisks)
	assert.Empty(t, buckets.VerifiedContractsWithRisks)
	assert.Equal(t, 0, env.ai.calls)

	// Still recorded in the interacted-contract state
	assert.Equal(t, []string{contractAddr}, env.wallets.wallet.ContractFingerprints)
}
