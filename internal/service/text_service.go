package service

import (
	"context"
	"sync"
	"time"

	"github.com/suryanavv/BridgeSpace/pkg/log"
)

// defaultTextDebounce 是本地编辑后的静默保存延迟。
// 更长的延迟减少写放大，代价是收敛变慢。
const defaultTextDebounce = 5 * time.Second

// TextState 是文本编辑会话的状态。
type TextState int

const (
	// TextSaved 本地内容与最近一次成功保存一致。
	TextSaved TextState = iota
	// TextUnsaved 本地有尚未保存的编辑。
	TextUnsaved
	// TextSaving 有一次保存正在进行。
	TextSaving
)

// TextSession 维护一个空间的共享文本编辑会话。
// 状态机：Saved → Unsaved（本地编辑）→ Saving（防抖触发或手动保存）→
// Saved（成功）| Unsaved（失败，编辑保留待重试）。
// 同一会话任意时刻至多一个保存在途；保存期间的新编辑在完成后合并为一次
// 追加保存（最新内容胜出），不会排队成多个请求。
type TextSession struct {
	scope    string
	share    ShareService
	maxLen   int
	debounce time.Duration

	mu        sync.Mutex
	content   string
	lastSaved string
	state     TextState
	timer     *time.Timer
	saving    bool
	closed    bool
}

// SetContent 记录一次本地编辑：截断到最大长度，重置防抖计时器。
// 与最近保存内容相同的编辑会取消待触发的保存。
func (s *TextSession) SetContent(text string) {
	text = truncateRunes(text, s.maxLen)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.content = text
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	if text == s.lastSaved {
		if !s.saving {
			s.state = TextSaved
		}
		return
	}

	s.state = TextUnsaved
	s.timer = time.AfterFunc(s.debounce, func() {
		if err := s.save(context.Background()); err != nil {
			log.Warnf("[SharedText] 防抖保存失败（编辑已保留待重试）: scope=%s, error: %v", s.scope, err)
		}
	})
}

// Flush 立即保存：先取消待触发的防抖保存，避免重复写入。
func (s *TextSession) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	return s.save(ctx)
}

// Content 返回本地内容。
func (s *TextSession) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content
}

// State 返回会话状态。
func (s *TextSession) State() TextState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ApplyRemote 应用远端变更：无条件覆盖本地内容与已保存基线（最后写入者胜出），
// 不做合并与冲突检测。
func (s *TextSession) ApplyRemote(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.content = content
	s.lastSaved = content
	if !s.saving {
		s.state = TextSaved
	}
}

// Close 终止会话并取消待触发的保存。
func (s *TextSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// save 执行一次保存。在途保存存在时直接返回（完成后会自动追加一次）。
func (s *TextSession) save(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.saving {
		s.mu.Unlock()
		return nil
	}
	if s.content == s.lastSaved {
		s.state = TextSaved
		s.mu.Unlock()
		return nil
	}
	s.saving = true
	s.state = TextSaving
	text := s.content
	s.mu.Unlock()

	_, err := s.share.UpsertText(ctx, s.scope, text)

	s.mu.Lock()
	s.saving = false
	if err != nil {
		s.state = TextUnsaved
		s.mu.Unlock()
		return err
	}
	s.lastSaved = text
	if s.content != text {
		// 保存期间又有编辑：合并为一次追加保存，最新内容胜出
		s.mu.Unlock()
		return s.save(ctx)
	}
	s.state = TextSaved
	s.mu.Unlock()
	return nil
}

// TextService 管理各空间的文本编辑会话。
type TextService struct {
	share    ShareService
	maxLen   int
	debounce time.Duration

	mu       sync.Mutex
	sessions map[string]*TextSession
}

// NewTextService 创建一个新的 TextService 实例。debounce <= 0 时使用默认值。
func NewTextService(share ShareService, maxLen int, debounce time.Duration) *TextService {
	if debounce <= 0 {
		debounce = defaultTextDebounce
	}
	return &TextService{
		share:    share,
		maxLen:   maxLen,
		debounce: debounce,
		sessions: make(map[string]*TextSession),
	}
}

// Session 返回（必要时创建）某个空间的编辑会话。
// 新会话以存储中的当前内容为基线。
func (t *TextService) Session(ctx context.Context, scope string) (*TextSession, error) {
	t.mu.Lock()
	if sess, ok := t.sessions[scope]; ok {
		t.mu.Unlock()
		return sess, nil
	}
	t.mu.Unlock()

	row, err := t.share.GetText(ctx, scope)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if sess, ok := t.sessions[scope]; ok {
		return sess, nil
	}
	sess := &TextSession{
		scope:    scope,
		share:    t.share,
		maxLen:   t.maxLen,
		debounce: t.debounce,
		state:    TextSaved,
	}
	if row != nil {
		sess.content = row.Content
		sess.lastSaved = row.Content
	}
	t.sessions[scope] = sess
	return sess, nil
}

// Drop 关闭并移除某个空间的会话（空间切换时调用）。
func (t *TextService) Drop(scope string) {
	t.mu.Lock()
	sess, ok := t.sessions[scope]
	if ok {
		delete(t.sessions, scope)
	}
	t.mu.Unlock()
	if ok {
		sess.Close()
	}
}

// OnRemoteChange 处理来自变更事件流的文本更新：
// 拉取空间的最新内容并无条件覆盖本地会话。
func (t *TextService) OnRemoteChange(ctx context.Context, scope string) {
	t.mu.Lock()
	sess, ok := t.sessions[scope]
	t.mu.Unlock()
	if !ok {
		return
	}

	row, err := t.share.GetText(ctx, scope)
	if err != nil {
		log.Warnf("[SharedText] 拉取远端文本失败: scope=%s, error: %v", scope, err)
		return
	}
	if row != nil {
		sess.ApplyRemote(row.Content)
	}
}

// truncateRunes 按字符数截断字符串。
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
