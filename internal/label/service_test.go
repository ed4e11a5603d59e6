package label

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txMaestro/web3safetykit/internal/chain"
	"github.com/txMaestro/web3safetykit/internal/types"
)

type fakeStore struct {
	mu     sync.Mutex
	labels map[string]string
	saved  []*types.AddressLabel
}

func (s *fakeStore) Get(_ context.Context, address string, _ types.ChainID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.labels[strings.ToLower(address)], nil
}

func (s *fakeStore) Save(_ context.Context, label *types.AddressLabel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, label)
	return nil
}

type fakeResolver struct {
	names        map[string]string
	sources      map[string]*chain.SourceCode
	impls        map[string]common.Address
	nameCalls    int
	sourceCalls  int
}

func (r *fakeResolver) ContractName(_ context.Context, _ types.ChainID, address string) string {
	r.nameCalls++
	return r.names[strings.ToLower(address)]
}

func (r *fakeResolver) GetSourceCode(_ context.Context, _ types.ChainID, address string) (*chain.SourceCode, error) {
	r.sourceCalls++
	if source, ok := r.sources[strings.ToLower(address)]; ok {
		return source, nil
	}
	return &chain.SourceCode{}, nil
}

func (r *fakeResolver) ImplementationAddress(_ context.Context, _ types.ChainID, address string) (common.Address, bool) {
	impl, ok := r.impls[strings.ToLower(address)]
	return impl, ok
}

func TestResolvePrefersStore(t *testing.T) {
	store := &fakeStore{labels: map[string]string{"0xabc": "Uniswap Router"}}
	resolver := &fakeResolver{}
	svc := NewService(store, resolver)

	label := svc.Resolve(context.Background(), "0xABC", types.ChainEthereum)
	assert.Equal(t, "Uniswap Router", label)
	assert.Zero(t, resolver.nameCalls, "store hit must not reach the chain")
	assert.Empty(t, store.saved, "store hits are not re-persisted")
}

func TestResolveFallsBackToOnChainName(t *testing.T) {
	store := &fakeStore{labels: map[string]string{}}
	resolver := &fakeResolver{names: map[string]string{"0xdef": "Wrapped Ether"}}
	svc := NewService(store, resolver)

	label := svc.Resolve(context.Background(), "0xDEF", types.ChainEthereum)
	assert.Equal(t, "Wrapped Ether", label)

	require.Len(t, store.saved, 1)
	assert.Equal(t, "onchain", store.saved[0].Source)
}

func TestResolveMemoizes(t *testing.T) {
	store := &fakeStore{labels: map[string]string{}}
	resolver := &fakeResolver{names: map[string]string{"0xdef": "Wrapped Ether"}}
	svc := NewService(store, resolver)

	svc.Resolve(context.Background(), "0xdef", types.ChainEthereum)
	svc.Resolve(context.Background(), "0xdef", types.ChainEthereum)

	assert.Equal(t, 1, resolver.nameCalls, "second resolution must hit the memo")
}

func TestResolveProxyPrefersImplementationName(t *testing.T) {
	impl := common.HexToAddress("0x9999999999999999999999999999999999999999")
	store := &fakeStore{labels: map[string]string{}}
	resolver := &fakeResolver{
		sources: map[string]*chain.SourceCode{
			"0xproxy": {ContractName: "TransparentProxy"},
			strings.ToLower(impl.Hex()): {ContractName: "LendingPool"},
		},
		impls: map[string]common.Address{"0xproxy": impl},
	}
	svc := NewService(store, resolver)

	label := svc.Resolve(context.Background(), "0xPROXY", types.ChainEthereum)
	assert.Equal(t, "LendingPool", label)
}

func TestResolveAllOmitsUnknown(t *testing.T) {
	store := &fakeStore{labels: map[string]string{"0xknown": "Known"}}
	svc := NewService(store, &fakeResolver{})

	labels := svc.ResolveAll(context.Background(), []string{"0xKnown", "0xunknown"}, types.ChainEthereum)
	assert.Equal(t, map[string]string{"0xknown": "Known"}, labels)
}
