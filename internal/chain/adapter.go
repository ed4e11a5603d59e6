// Package chain is the stateless translator from domain operations to
// explorer requests (through the gateway) and direct JSON-RPC reads. On-chain
// read failures are absorbed as unknown values rather than propagated; the
// analysis pipeline is resilient to partial information.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/txMaestro/web3safetykit/internal/logging"
	"github.com/txMaestro/web3safetykit/internal/types"
)

// ImplementationSlot is the EIP-1967 storage slot holding the proxy
// implementation address.
var ImplementationSlot = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")

// nameReadTimeout bounds on-chain name() reads
const nameReadTimeout = 2 * time.Second

// Submitter is the gateway surface the adapter uses
type Submitter interface {
	Submit(ctx context.Context, provider types.Provider, requestData map[string]any) (string, error)
}

// RPCClient is the JSON-RPC read surface; satisfied by ethclient.Client
type RPCClient interface {
	CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Adapter translates pipeline operations into gateway submissions and
// JSON-RPC reads, with per-chain routing.
type Adapter struct {
	gw      Submitter
	clients map[types.ChainID]RPCClient
	codec   *Codec
	log     *logrus.Entry
}

// NewAdapter creates the adapter. Chains without an RPC endpoint still get
// explorer coverage; their on-chain reads resolve to unknown.
func NewAdapter(gw Submitter, rpcURLs map[types.ChainID]string) (*Adapter, error) {
	codec, err := NewCodec()
	if err != nil {
		return nil, err
	}

	clients := make(map[types.ChainID]RPCClient)
	for chain, url := range rpcURLs {
		client, err := ethclient.Dial(url)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s rpc: %w", chain, err)
		}
		clients[chain] = client
	}

	return &Adapter{
		gw:      gw,
		clients: clients,
		codec:   codec,
		log:     logging.Component("chain_adapter"),
	}, nil
}

// NewAdapterWithClients wires pre-built clients; used by tests
func NewAdapterWithClients(gw Submitter, clients map[types.ChainID]RPCClient) (*Adapter, error) {
	codec, err := NewCodec()
	if err != nil {
		return nil, err
	}
	return &Adapter{gw: gw, clients: clients, codec: codec, log: logging.Component("chain_adapter")}, nil
}

// Codec exposes the calldata codec to the analyzers
func (a *Adapter) Codec() *Codec {
	return a.codec
}

// explorerTx is the explorer row shape shared by the three streams
type explorerTx struct {
	Hash            string `json:"hash"`
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	Input           string `json:"input"`
	MethodID        string `json:"methodId"`
	FunctionName    string `json:"functionName"`
	ContractAddress string `json:"contractAddress"`
	TokenSymbol     string `json:"tokenSymbol"`
	TokenDecimal    string `json:"tokenDecimal"`
	IsError         string `json:"isError"`
}

// ListTransactions fetches one stream for an address, optionally from a
// start block, with sort direction and page size.
func (a *Adapter) ListTransactions(ctx context.Context, chain types.ChainID, address string, stream types.Stream, startBlock uint64, sort string, limit int) ([]*types.Transaction, error) {
	requestData := map[string]any{
		"module":  "account",
		"action":  stream.ExplorerAction(),
		"address": address,
		"chainid": chain.NumericChainID(),
		"sort":    sort,
	}
	if startBlock > 0 {
		requestData["startblock"] = startBlock
	}
	if limit > 0 {
		requestData["page"] = 1
		requestData["offset"] = limit
	}

	result, err := a.gw.Submit(ctx, types.ProviderEtherscan, requestData)
	if err != nil {
		return nil, err
	}

	var rows []explorerTx
	if err := json.Unmarshal([]byte(result), &rows); err != nil {
		return nil, fmt.Errorf("failed to parse transaction list: %w", err)
	}

	txs := make([]*types.Transaction, 0, len(rows))
	for _, row := range rows {
		blockNum, _ := strconv.ParseUint(row.BlockNumber, 10, 64)
		timestamp, _ := strconv.ParseInt(row.TimeStamp, 10, 64)
		txs = append(txs, &types.Transaction{
			Stream:          stream,
			Hash:            row.Hash,
			BlockNumber:     blockNum,
			Timestamp:       timestamp,
			From:            row.From,
			To:              row.To,
			Value:           row.Value,
			Input:           row.Input,
			MethodID:        row.MethodID,
			FunctionName:    row.FunctionName,
			ContractAddress: row.ContractAddress,
			TokenSymbol:     row.TokenSymbol,
			TokenDecimal:    row.TokenDecimal,
			IsError:         row.IsError,
		})
	}
	return txs, nil
}

// SourceCode is the verified source metadata for a contract
type SourceCode struct {
	Source       string
	ContractName string
}

// GetSourceCode fetches verified source for a contract, empty when the
// contract is unverified.
func (a *Adapter) GetSourceCode(ctx context.Context, chain types.ChainID, address string) (*SourceCode, error) {
	requestData := map[string]any{
		"module":  "contract",
		"action":  "getsourcecode",
		"address": address,
		"chainid": chain.NumericChainID(),
	}

	result, err := a.gw.Submit(ctx, types.ProviderEtherscan, requestData)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		SourceCode   string `json:"SourceCode"`
		ContractName string `json:"ContractName"`
	}
	if err := json.Unmarshal([]byte(result), &rows); err != nil {
		return nil, fmt.Errorf("failed to parse source code response: %w", err)
	}
	if len(rows) == 0 {
		return &SourceCode{}, nil
	}
	return &SourceCode{Source: rows[0].SourceCode, ContractName: rows[0].ContractName}, nil
}

// GetBytecode reads the raw deployed bytecode; nil when the chain has no
// RPC endpoint or the read fails.
func (a *Adapter) GetBytecode(ctx context.Context, chain types.ChainID, address string) []byte {
	client, ok := a.clients[chain]
	if !ok {
		return nil
	}
	code, err := client.CodeAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		a.log.WithError(err).WithField("address", address).Debug("getCode failed")
		return nil
	}
	return code
}

// ImplementationAddress reads the EIP-1967 slot; the last 20 bytes of the
// value is the implementation address. All-zero slot means non-proxy.
func (a *Adapter) ImplementationAddress(ctx context.Context, chain types.ChainID, address string) (common.Address, bool) {
	client, ok := a.clients[chain]
	if !ok {
		return common.Address{}, false
	}

	raw, err := client.StorageAt(ctx, common.HexToAddress(address), ImplementationSlot, nil)
	if err != nil || len(raw) < 20 {
		return common.Address{}, false
	}

	impl := common.BytesToAddress(raw[len(raw)-20:])
	if impl == (common.Address{}) {
		return common.Address{}, false
	}
	return impl, true
}

// Allowance reads allowance(owner, spender) on an ERC-20; zero on failure
func (a *Adapter) Allowance(ctx context.Context, chain types.ChainID, token, owner, spender string) *big.Int {
	out, err := a.view(ctx, chain, token, &a.codec.erc20, "allowance",
		common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil || len(out) == 0 {
		return big.NewInt(0)
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return big.NewInt(0)
	}
	return value
}

// IsApprovedForAll reads the collection-wide operator approval; false on
// failure.
func (a *Adapter) IsApprovedForAll(ctx context.Context, chain types.ChainID, collection, owner, operator string) bool {
	out, err := a.view(ctx, chain, collection, &a.codec.nft, "isApprovedForAll",
		common.HexToAddress(owner), common.HexToAddress(operator))
	if err != nil || len(out) == 0 {
		return false
	}
	approved, _ := out[0].(bool)
	return approved
}

// ContractName reads name() with a bounded timeout; empty on failure
func (a *Adapter) ContractName(ctx context.Context, chain types.ChainID, address string) string {
	ctx, cancel := context.WithTimeout(ctx, nameReadTimeout)
	defer cancel()

	out, err := a.view(ctx, chain, address, &a.codec.erc20, "name")
	if err != nil || len(out) == 0 {
		return ""
	}
	name, _ := out[0].(string)
	return name
}

// BalanceOf reads balanceOf(account); zero on failure
func (a *Adapter) BalanceOf(ctx context.Context, chain types.ChainID, token, account string) *big.Int {
	out, err := a.view(ctx, chain, token, &a.codec.erc20, "balanceOf", common.HexToAddress(account))
	if err != nil || len(out) == 0 {
		return big.NewInt(0)
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return big.NewInt(0)
	}
	return value
}

// Decimals reads decimals(); the boolean reports whether the read
// succeeded so callers can fall back to 18.
func (a *Adapter) Decimals(ctx context.Context, chain types.ChainID, token string) (uint8, bool) {
	out, err := a.view(ctx, chain, token, &a.codec.erc20, "decimals")
	if err != nil || len(out) == 0 {
		return 0, false
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return 0, false
	}
	return decimals, true
}

// ParseInput decodes calldata against the fixed signature set
func (a *Adapter) ParseInput(input string) *ParsedCall {
	return a.codec.ParseInput(input)
}

// view performs an eth_call against a contract method
func (a *Adapter) view(ctx context.Context, chain types.ChainID, contract string, target *abi.ABI, method string, args ...any) ([]any, error) {
	client, ok := a.clients[chain]
	if !ok {
		return nil, fmt.Errorf("no rpc client for chain %s", chain)
	}

	data, err := target.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	to := common.HexToAddress(contract)
	raw, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}

	return target.Unpack(method, raw)
}
