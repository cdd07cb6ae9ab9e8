package service

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/suryanavv/BridgeSpace/internal/apperr"
	"github.com/suryanavv/BridgeSpace/internal/repository"
	"github.com/suryanavv/BridgeSpace/pkg/log"
)

// IPLookup 是外部公网 IP 查询服务的抽象。
type IPLookup interface {
	Lookup(ctx context.Context) (string, error)
}

// ScopeService 为当前会话解析共享空间标识：
// 提供了私有空间 Key 时直接使用该 Key，否则查询公网 IP 并取其网络前缀。
// 网络模式的解析结果在会话内缓存，不会对每个请求重复查询 IP。
type ScopeService interface {
	// Resolve 解析空间标识。explicitKey 为空字符串表示网络模式；
	// 传入仅含空白字符的 Key 返回 apperr.ErrScopeUnavailable。
	Resolve(ctx context.Context, explicitKey string) (string, error)
	// Switch 显式切换空间：先触发失效回调（清理旧空间的状态），再解析新空间。
	Switch(ctx context.Context, explicitKey string) (string, error)
	// Current 返回当前已解析的空间标识，尚未解析时为空字符串。
	Current() string
	// OnSwitch 注册空间切换回调，按注册顺序在新空间解析前调用。
	OnSwitch(fn func(oldScope, newScope string))
}

type scopeService struct {
	lookup   IPLookup
	connRepo repository.ConnectionRepository
	segments int

	mu        sync.Mutex
	current   string
	networkIP string // 网络模式下缓存的公网 IP（或伪 IP）
	cached    bool
	onSwitch  []func(oldScope, newScope string)
}

// NewScopeService 创建一个新的 ScopeService 实例。
func NewScopeService(lookup IPLookup, connRepo repository.ConnectionRepository, prefixSegments int) ScopeService {
	if prefixSegments <= 0 {
		prefixSegments = 3
	}
	return &scopeService{
		lookup:   lookup,
		connRepo: connRepo,
		segments: prefixSegments,
	}
}

func (s *scopeService) Resolve(ctx context.Context, explicitKey string) (string, error) {
	// 私有空间模式：Key 即空间标识，不做任何网络查询
	if explicitKey != "" {
		key := strings.TrimSpace(explicitKey)
		if key == "" {
			return "", fmt.Errorf("%w: private space key is blank", apperr.ErrScopeUnavailable)
		}
		s.mu.Lock()
		s.current = key
		s.cached = true
		s.networkIP = ""
		s.mu.Unlock()
		return key, nil
	}

	// 网络模式：会话内只查一次 IP
	s.mu.Lock()
	if s.cached && s.networkIP != "" {
		scope := s.current
		s.mu.Unlock()
		return scope, nil
	}
	s.mu.Unlock()

	ip, err := s.lookup.Lookup(ctx)
	if err != nil {
		// 降级：生成一个伪 IP 继续工作，只影响"同网段"的匹配精度
		ip = pseudoIP()
		log.Warnf("[ResolveScope] 公网 IP 查询失败，降级使用伪 IP %s: %v", ip, err)
	}
	scope := NetworkPrefix(ip, s.segments)

	s.mu.Lock()
	s.current = scope
	s.networkIP = ip
	s.cached = true
	s.mu.Unlock()

	// 尽力登记连接记录，失败只记日志
	if s.connRepo != nil {
		if regErr := s.connRepo.Touch(ctx, ip, scope); regErr != nil {
			log.Warnf("[ResolveScope] 登记网络连接失败: %v", regErr)
		}
	}
	return scope, nil
}

func (s *scopeService) Switch(ctx context.Context, explicitKey string) (string, error) {
	s.mu.Lock()
	oldScope := s.current
	callbacks := append([]func(string, string){}, s.onSwitch...)
	// 清空缓存，强制重新解析
	s.current = ""
	s.networkIP = ""
	s.cached = false
	s.mu.Unlock()

	newScope, err := s.Resolve(ctx, explicitKey)
	if err != nil {
		return "", err
	}

	// 回调在新空间解析完成后、返回给调用方之前触发：
	// 旧空间的订阅与缓存必须先清理，避免旧空间内容闪现到新空间
	for _, fn := range callbacks {
		fn(oldScope, newScope)
	}
	return newScope, nil
}

func (s *scopeService) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *scopeService) OnSwitch(fn func(oldScope, newScope string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSwitch = append(s.onSwitch, fn)
}

// NetworkPrefix 取 IPv4 地址的前 n 段作为网络前缀。
// 段数不足时返回整个地址。
func NetworkPrefix(ip string, n int) string {
	parts := strings.Split(ip, ".")
	if len(parts) <= n {
		return ip
	}
	return strings.Join(parts[:n], ".")
}

// pseudoIP 生成一个私网伪 IP，用于 IP 查询不可用时的降级运行。
func pseudoIP() string {
	return fmt.Sprintf("10.%d.%d.%d", rand.Intn(256), rand.Intn(256), rand.Intn(256))
}
