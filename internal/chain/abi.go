package chain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// MaxUint256 is the unlimited-approval sentinel (2^256 - 1)
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// erc20ABI covers the read and approval surface the analyzers need
const erc20ABI = `[
	{"name":"approve","type":"function","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"name":"name","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"name":"permit","type":"function","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"},{"name":"value","type":"uint256"},{"name":"deadline","type":"uint256"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"outputs":[]}
]`

// nftABI covers the ERC-721/1155 operator surface
const nftABI = `[
	{"name":"setApprovalForAll","type":"function","inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]},
	{"name":"isApprovedForAll","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"bool"}]}
]`

// lpStakeABI covers the liquidity and staking entry points the LP analyzer
// scans for
const lpStakeABI = `[
	{"name":"addLiquidity","type":"function","inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"amountADesired","type":"uint256"},{"name":"amountBDesired","type":"uint256"},{"name":"amountAMin","type":"uint256"},{"name":"amountBMin","type":"uint256"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[]},
	{"name":"addLiquidityETH","type":"function","inputs":[{"name":"token","type":"address"},{"name":"amountTokenDesired","type":"uint256"},{"name":"amountTokenMin","type":"uint256"},{"name":"amountETHMin","type":"uint256"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[]},
	{"name":"stake","type":"function","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"name":"deposit","type":"function","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"name":"deposit2","type":"function","inputs":[{"name":"amount","type":"uint256"},{"name":"receiver","type":"address"}],"outputs":[]}
]`

// permit2Signatures are matched by selector only; the analyzer records them
// as standing approvals without decoding the nested tuple arguments. The
// names disambiguate the batched variant and the Permit2 permit from the
// EIP-2612 permit.
var permit2Signatures = map[string]string{
	"permitTransferFrom(((address,uint256),uint256,uint256),(address,uint256),address,bytes)":                 "permitTransferFrom",
	"permitWitnessTransferFrom(((address,uint256),uint256,uint256),(address,uint256),address,bytes32,string,bytes)": "permitWitnessTransferFrom",
	"permitTransferFrom(((address,uint256)[],uint256,uint256),(address,uint256)[],address,bytes)":             "permitBatchTransferFrom",
	"permit(address,((address,uint160,uint48,uint48),address,uint256),bytes)":                                 "permit2Approve",
}

// ParsedCall is a decoded transaction input
type ParsedCall struct {
	Name string
	Args map[string]any
}

// Codec parses transaction inputs against the fixed function-signature set
// and builds revoke calldata.
type Codec struct {
	erc20   abi.ABI
	nft     abi.ABI
	lpStake abi.ABI

	// methods maps 4-byte selectors to (abi, canonical name)
	methods map[[4]byte]boundMethod
}

type boundMethod struct {
	parent *abi.ABI
	method abi.Method
	name   string
}

// NewCodec builds the codec; the signature set is fixed at compile time so
// errors here are programmer errors.
func NewCodec() (*Codec, error) {
	c := &Codec{methods: make(map[[4]byte]boundMethod)}

	var err error
	if c.erc20, err = abi.JSON(strings.NewReader(erc20ABI)); err != nil {
		return nil, fmt.Errorf("failed to parse erc20 abi: %w", err)
	}
	if c.nft, err = abi.JSON(strings.NewReader(nftABI)); err != nil {
		return nil, fmt.Errorf("failed to parse nft abi: %w", err)
	}
	if c.lpStake, err = abi.JSON(strings.NewReader(lpStakeABI)); err != nil {
		return nil, fmt.Errorf("failed to parse lp/stake abi: %w", err)
	}

	for _, spec := range []struct {
		parent *abi.ABI
		names  []string
	}{
		{&c.erc20, []string{"approve", "permit"}},
		{&c.nft, []string{"setApprovalForAll"}},
		{&c.lpStake, []string{"addLiquidity", "addLiquidityETH", "stake", "deposit"}},
	} {
		for _, name := range spec.names {
			method := spec.parent.Methods[name]
			var sel [4]byte
			copy(sel[:], method.ID)
			c.methods[sel] = boundMethod{parent: spec.parent, method: method, name: name}
		}
	}

	// deposit(uint256,address) shares a display name with deposit(uint256).
	// The ABI entry is declared as deposit2, so its selector is computed
	// from the real signature here.
	depositTwo := c.lpStake.Methods["deposit2"]
	var sel [4]byte
	copy(sel[:], selectorFor("deposit(uint256,address)"))
	c.methods[sel] = boundMethod{parent: &c.lpStake, method: depositTwo, name: "deposit"}

	for sig, name := range permit2Signatures {
		var sel [4]byte
		copy(sel[:], selectorFor(sig))
		c.methods[sel] = boundMethod{name: name}
	}

	return c, nil
}

// selectorFor computes the 4-byte function selector of a signature
func selectorFor(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

// ParseInput decodes a 0x-prefixed calldata string against the signature
// set. Returns nil when the input is empty, too short, or unknown.
func (c *Codec) ParseInput(input string) *ParsedCall {
	data, err := hex.DecodeString(strings.TrimPrefix(input, "0x"))
	if err != nil || len(data) < 4 {
		return nil
	}

	var sel [4]byte
	copy(sel[:], data[:4])

	bound, ok := c.methods[sel]
	if !ok {
		return nil
	}

	call := &ParsedCall{Name: bound.name, Args: make(map[string]any)}

	// Selector-only matches (permit2 tuples) carry no decoded args
	if bound.parent == nil {
		return call
	}

	values, err := bound.method.Inputs.Unpack(data[4:])
	if err != nil {
		return call
	}
	for i, arg := range bound.method.Inputs {
		if i < len(values) {
			call.Args[arg.Name] = values[i]
		}
	}
	return call
}

// PackApprove encodes approve(spender, amount) as 0x-prefixed calldata
func (c *Codec) PackApprove(spender common.Address, amount *big.Int) (string, error) {
	data, err := c.erc20.Pack("approve", spender, amount)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(data), nil
}

// PackSetApprovalForAll encodes setApprovalForAll(operator, approved)
func (c *Codec) PackSetApprovalForAll(operator common.Address, approved bool) (string, error) {
	data, err := c.nft.Pack("setApprovalForAll", operator, approved)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(data), nil
}

// PackPermit encodes an EIP-2612 permit with zeroed signature parts
func (c *Codec) PackPermit(owner, spender common.Address, value, deadline *big.Int) (string, error) {
	data, err := c.erc20.Pack("permit", owner, spender, value, deadline, uint8(0), [32]byte{}, [32]byte{})
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(data), nil
}

// PackStake encodes stake(amount)
func (c *Codec) PackStake(amount *big.Int) (string, error) {
	data, err := c.lpStake.Pack("stake", amount)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(data), nil
}

// RevokeERC20Calldata encodes approve(spender, 0)
func (c *Codec) RevokeERC20Calldata(spender common.Address) string {
	data, err := c.erc20.Pack("approve", spender, big.NewInt(0))
	if err != nil {
		return ""
	}
	return "0x" + hex.EncodeToString(data)
}

// RevokeOperatorCalldata encodes setApprovalForAll(operator, false)
func (c *Codec) RevokeOperatorCalldata(operator common.Address) string {
	data, err := c.nft.Pack("setApprovalForAll", operator, false)
	if err != nil {
		return ""
	}
	return "0x" + hex.EncodeToString(data)
}
