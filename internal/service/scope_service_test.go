package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suryanavv/BridgeSpace/internal/apperr"
)

type fakeIPLookup struct {
	mu    sync.Mutex
	ip    string
	err   error
	calls int
}

func (l *fakeIPLookup) Lookup(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return "", l.err
	}
	return l.ip, nil
}

func (l *fakeIPLookup) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type fakeConnRepo struct {
	mu      sync.Mutex
	touched [][2]string // (ip, scope)
	err     error
}

func (r *fakeConnRepo) Touch(ctx context.Context, ip, scopeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.touched = append(r.touched, [2]string{ip, scopeID})
	return nil
}

func TestResolvePrivateKey(t *testing.T) {
	lookup := &fakeIPLookup{ip: "203.0.113.7"}
	svc := NewScopeService(lookup, nil, 3)

	scope, err := svc.Resolve(context.Background(), "  team-alpha  ")
	require.NoError(t, err)
	assert.Equal(t, "team-alpha", scope)
	assert.Equal(t, "team-alpha", svc.Current())
	// 私有空间模式不触发任何网络查询
	assert.Equal(t, 0, lookup.callCount())
}

func TestResolveBlankKeyFails(t *testing.T) {
	svc := NewScopeService(&fakeIPLookup{}, nil, 3)
	_, err := svc.Resolve(context.Background(), "   ")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrScopeUnavailable)
	assert.Empty(t, svc.Current())
}

func TestResolveNetworkPrefixAndCache(t *testing.T) {
	lookup := &fakeIPLookup{ip: "203.0.113.7"}
	conns := &fakeConnRepo{}
	svc := NewScopeService(lookup, conns, 3)
	ctx := context.Background()

	scope, err := svc.Resolve(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113", scope)

	// 同一会话内重复解析不会再查 IP
	for i := 0; i < 5; i++ {
		again, err := svc.Resolve(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, scope, again)
	}
	assert.Equal(t, 1, lookup.callCount())

	require.Len(t, conns.touched, 1)
	assert.Equal(t, "203.0.113.7", conns.touched[0][0])
	assert.Equal(t, "203.0.113", conns.touched[0][1])
}

func TestResolveFallsBackToPseudoIP(t *testing.T) {
	lookup := &fakeIPLookup{err: errors.New("all attempts failed")}
	svc := NewScopeService(lookup, nil, 3)

	// 查询失败时降级为伪 IP 前缀，而不是报错
	scope, err := svc.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(scope, "10."), "pseudo scope %q should be in 10.x.y", scope)
	assert.Len(t, strings.Split(scope, "."), 3)
}

func TestResolveToleratesConnRegistrationFailure(t *testing.T) {
	lookup := &fakeIPLookup{ip: "198.51.100.23"}
	conns := &fakeConnRepo{err: errors.New("db down")}
	svc := NewScopeService(lookup, conns, 3)

	scope, err := svc.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "198.51.100", scope)
}

func TestSwitchInvokesCallbacksAfterResolve(t *testing.T) {
	lookup := &fakeIPLookup{ip: "203.0.113.7"}
	svc := NewScopeService(lookup, nil, 3)
	ctx := context.Background()

	_, err := svc.Resolve(ctx, "old-space")
	require.NoError(t, err)

	var calls [][2]string
	svc.OnSwitch(func(oldScope, newScope string) {
		calls = append(calls, [2]string{oldScope, newScope})
	})

	newScope, err := svc.Switch(ctx, "new-space")
	require.NoError(t, err)
	assert.Equal(t, "new-space", newScope)
	require.Len(t, calls, 1)
	assert.Equal(t, "old-space", calls[0][0])
	assert.Equal(t, "new-space", calls[0][1])
}

func TestSwitchClearsNetworkCache(t *testing.T) {
	lookup := &fakeIPLookup{ip: "203.0.113.7"}
	svc := NewScopeService(lookup, nil, 3)
	ctx := context.Background()

	_, err := svc.Resolve(ctx, "")
	require.NoError(t, err)

	// 切换回网络模式会强制重新查询 IP
	_, err = svc.Switch(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, lookup.callCount())
}

func TestSwitchBlankKeyLeavesNoScope(t *testing.T) {
	svc := NewScopeService(&fakeIPLookup{ip: "203.0.113.7"}, nil, 3)
	ctx := context.Background()

	_, err := svc.Resolve(ctx, "space-a")
	require.NoError(t, err)

	_, err = svc.Switch(ctx, "  ")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrScopeUnavailable)
}

func TestNetworkPrefix(t *testing.T) {
	assert.Equal(t, "192.168.1", NetworkPrefix("192.168.1.42", 3))
	assert.Equal(t, "10.0", NetworkPrefix("10.0.0.1", 2))
	// 段数不足时返回原地址
	assert.Equal(t, "192.168.1", NetworkPrefix("192.168.1", 3))
}
