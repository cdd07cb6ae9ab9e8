package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suryanavv/BridgeSpace/internal/apperr"
	"github.com/suryanavv/BridgeSpace/internal/config"
	"github.com/suryanavv/BridgeSpace/internal/model"
	"github.com/suryanavv/BridgeSpace/pkg/events"
	"github.com/suryanavv/BridgeSpace/pkg/storage"
	"gorm.io/gorm"
)

// -------- test fakes --------

type fakeFileRepo struct {
	mu        sync.Mutex
	files     map[string]model.SharedFile
	createErr error
	deleteErr error
}

func newFakeFileRepo() *fakeFileRepo {
	return &fakeFileRepo{files: make(map[string]model.SharedFile)}
}

func (r *fakeFileRepo) Create(ctx context.Context, f *model.SharedFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.files[f.ID] = *f
	return nil
}

func (r *fakeFileRepo) FindByID(ctx context.Context, id string) (*model.SharedFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &f, nil
}

func (r *fakeFileRepo) FindByScope(ctx context.Context, scopeID string, limit int) ([]model.SharedFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.SharedFile, 0)
	for _, f := range r.files {
		if f.ScopeID == scopeID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeFileRepo) CountByScope(ctx context.Context, scopeID string) (int64, error) {
	files, _ := r.FindByScope(ctx, scopeID, 0)
	return int64(len(files)), nil
}

func (r *fakeFileRepo) Delete(ctx context.Context, id string, scopeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	delete(r.files, id)
	return nil
}

func (r *fakeFileRepo) DeleteByScope(ctx context.Context, scopeID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, f := range r.files {
		if f.ScopeID == scopeID {
			delete(r.files, id)
			n++
		}
	}
	return n, nil
}

func (r *fakeFileRepo) FindCreatedBefore(ctx context.Context, cutoff time.Time) ([]model.SharedFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.SharedFile, 0)
	for _, f := range r.files {
		if f.CreatedAt.Before(cutoff) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *fakeFileRepo) ExistsByBlobRef(ctx context.Context, blobRef string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.files {
		if f.BlobRef == blobRef {
			return true, nil
		}
	}
	return false, nil
}

type fakeTextRepo struct {
	mu        sync.Mutex
	rows      map[string]model.SharedText
	createErr error
	hideFinds int // 前 N 次 FindByScope 假装没有行，用于模拟写写竞态
	clock     int64
}

func newFakeTextRepo() *fakeTextRepo {
	return &fakeTextRepo{rows: make(map[string]model.SharedText)}
}

func (r *fakeTextRepo) tick() time.Time {
	r.clock++
	return time.Unix(r.clock, 0)
}

func (r *fakeTextRepo) FindByScope(ctx context.Context, scopeID string) ([]model.SharedText, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hideFinds > 0 {
		r.hideFinds--
		return []model.SharedText{}, nil
	}
	out := make([]model.SharedText, 0)
	for _, t := range r.rows {
		if t.ScopeID == scopeID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r *fakeTextRepo) Create(ctx context.Context, t *model.SharedText) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	t.UpdatedAt = r.tick()
	r.rows[t.ID] = *t
	return nil
}

func (r *fakeTextRepo) UpdateContent(ctx context.Context, id string, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	row.Content = content
	row.UpdatedAt = r.tick()
	r.rows[id] = row
	return nil
}

func (r *fakeTextRepo) DeleteByID(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

func (r *fakeTextRepo) DeleteUpdatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.rows {
		if t.UpdatedAt.Before(cutoff) {
			delete(r.rows, id)
			n++
		}
	}
	return n, nil
}

type fakeBlobStore struct {
	mu        sync.Mutex
	objects   map[string]time.Time // path -> last modified
	putErr    error
	removeErr map[string]error
	removed   []string
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string]time.Time), removeErr: make(map[string]error)}
}

func (b *fakeBlobStore) Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.putErr != nil {
		return "", b.putErr
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	b.objects[objectName] = time.Now()
	return objectName, nil
}

func (b *fakeBlobStore) Remove(ctx context.Context, objectName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.removeErr[objectName]; err != nil {
		return err
	}
	delete(b.objects, objectName)
	b.removed = append(b.removed, objectName)
	return nil
}

func (b *fakeBlobStore) RemoveMany(ctx context.Context, objectNames []string) []string {
	var failed []string
	for _, name := range objectNames {
		if err := b.Remove(ctx, name); err != nil {
			failed = append(failed, name)
		}
	}
	return failed
}

func (b *fakeBlobStore) PresignedGetURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	return "https://blob.test/" + objectName, nil
}

func (b *fakeBlobStore) List(ctx context.Context, prefix string) ([]storage.BlobInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]storage.BlobInfo, 0)
	for path, mod := range b.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, storage.BlobInfo{Path: path, LastModified: mod})
		}
	}
	return out, nil
}

func (b *fakeBlobStore) has(objectName string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[objectName]
	return ok
}

func (b *fakeBlobStore) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.ChangeEvent
	err    error
}

func (p *fakePublisher) PublishChange(ctx context.Context, ev events.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) published() []events.ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.ChangeEvent{}, p.events...)
}

func testLimits() config.LimitsConfig {
	return config.LimitsConfig{
		MaxFileSizeBytes: 50 * 1024 * 1024,
		MaxFilesPerScope: 20,
		MaxTextLength:    5000,
		RetentionDays:    2,
		ListLimit:        50,
	}
}

func testMinIOCfg() config.MinIOConfig {
	return config.MinIOConfig{BucketName: "bridgespace"}
}

type shareFixture struct {
	files *fakeFileRepo
	texts *fakeTextRepo
	blobs *fakeBlobStore
	pub   *fakePublisher
	svc   ShareService
}

func newShareFixture() *shareFixture {
	f := &shareFixture{
		files: newFakeFileRepo(),
		texts: newFakeTextRepo(),
		blobs: newFakeBlobStore(),
		pub:   &fakePublisher{},
	}
	f.svc = NewShareService(f.files, f.texts, f.blobs, f.pub, testMinIOCfg(), testLimits())
	return f
}

// -------- tests --------

func TestInsertFileThenList(t *testing.T) {
	fx := newShareFixture()
	ctx := context.Background()

	created, err := fx.svc.InsertFile(ctx, "10.0.0", "a.txt", 12, "text/plain", strings.NewReader("hello world!"))
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "a.txt", created.Name)
	assert.Equal(t, int64(12), created.Size)
	assert.Equal(t, "10.0.0", created.ScopeID)

	files, err := fx.svc.ListFiles(ctx, "10.0.0")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.txt", files[0].Name)
	assert.Equal(t, int64(12), files[0].Size)
	assert.True(t, fx.blobs.has(created.BlobRef))
}

func TestInsertFileCompensatesBlobOnMetadataFailure(t *testing.T) {
	fx := newShareFixture()
	fx.files.createErr = errors.New("db down")

	_, err := fx.svc.InsertFile(context.Background(), "S1", "a.txt", 5, "text/plain", strings.NewReader("abcde"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrStorageWrite))

	var wErr *apperr.WriteError
	require.True(t, errors.As(err, &wErr))
	assert.Equal(t, "a.txt", wErr.FileName)

	// 补偿动作必须回收已写入的对象
	assert.Equal(t, 0, fx.blobs.count())
}

func TestInsertFileRejectsInvalidSize(t *testing.T) {
	fx := newShareFixture()
	_, err := fx.svc.InsertFile(context.Background(), "S1", "a.txt", 0, "", bytes.NewReader(nil))
	require.Error(t, err)
	assert.Equal(t, 0, fx.blobs.count())
}

func TestScopeIsolation(t *testing.T) {
	fx := newShareFixture()
	ctx := context.Background()

	_, err := fx.svc.InsertFile(ctx, "scopeA", "a.txt", 3, "text/plain", strings.NewReader("aaa"))
	require.NoError(t, err)
	_, err = fx.svc.UpsertText(ctx, "scopeA", "hello from A")
	require.NoError(t, err)

	files, err := fx.svc.ListFiles(ctx, "scopeB")
	require.NoError(t, err)
	assert.Empty(t, files)

	text, err := fx.svc.GetText(ctx, "scopeB")
	require.NoError(t, err)
	assert.Nil(t, text)
}

func TestListFilesUnresolvedScopeReturnsEmpty(t *testing.T) {
	fx := newShareFixture()
	files, err := fx.svc.ListFiles(context.Background(), "  ")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestDeleteFileToleratesBlobFailure(t *testing.T) {
	fx := newShareFixture()
	ctx := context.Background()

	created, err := fx.svc.InsertFile(ctx, "S1", "a.txt", 3, "text/plain", strings.NewReader("aaa"))
	require.NoError(t, err)
	fx.blobs.removeErr[created.BlobRef] = errors.New("object store down")

	// 对象侧删除失败不影响删除操作的成功：列表不再返回该文件
	require.NoError(t, fx.svc.DeleteFile(ctx, "S1", created.ID))

	files, err := fx.svc.ListFiles(ctx, "S1")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestDeleteFileScopeMismatch(t *testing.T) {
	fx := newShareFixture()
	ctx := context.Background()

	created, err := fx.svc.InsertFile(ctx, "S1", "a.txt", 3, "text/plain", strings.NewReader("aaa"))
	require.NoError(t, err)

	require.Error(t, fx.svc.DeleteFile(ctx, "S2", created.ID))
	files, _ := fx.svc.ListFiles(ctx, "S1")
	assert.Len(t, files, 1)
}

func TestDeleteAllFilesToleratesPartialBlobFailure(t *testing.T) {
	fx := newShareFixture()
	ctx := context.Background()

	var refs []string
	for i := 0; i < 3; i++ {
		created, err := fx.svc.InsertFile(ctx, "S2", fmt.Sprintf("f%d.txt", i), 3, "text/plain", strings.NewReader("aaa"))
		require.NoError(t, err)
		refs = append(refs, created.BlobRef)
	}
	fx.blobs.removeErr[refs[1]] = errors.New("object store down")

	require.NoError(t, fx.svc.DeleteAllFiles(ctx, "S2"))

	files, err := fx.svc.ListFiles(ctx, "S2")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestUpsertTextSingleton(t *testing.T) {
	fx := newShareFixture()
	ctx := context.Background()

	_, err := fx.svc.UpsertText(ctx, "S1", "hello")
	require.NoError(t, err)
	_, err = fx.svc.UpsertText(ctx, "S1", "hello world")
	require.NoError(t, err)

	rows, err := fx.texts.FindByScope(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "hello world", rows[0].Content)
}

func TestUpsertTextConcurrentFirstWrite(t *testing.T) {
	fx := newShareFixture()
	ctx := context.Background()

	// 模拟并发首写竞态：首查没看到行，插入撞到唯一索引，重查能看到另一端已插入的行
	existing := model.SharedText{ID: "winner", Content: "first", ScopeID: "S1", UpdatedAt: time.Unix(1, 0)}
	fx.texts.rows["winner"] = existing
	fx.texts.createErr = errors.New("Duplicate entry 'S1' for key 'uniq_shared_texts_scope'")
	fx.texts.hideFinds = 1

	row, err := fx.svc.UpsertText(ctx, "S1", "second")
	require.NoError(t, err)
	assert.Equal(t, "winner", row.ID)
	assert.Equal(t, "second", row.Content)

	rows, _ := fx.texts.FindByScope(ctx, "S1")
	require.Len(t, rows, 1)
}

func TestUpsertTextReconcilesDuplicateRows(t *testing.T) {
	fx := newShareFixture()
	ctx := context.Background()

	// 历史竞态留下的两行：下一次写入必须收敛为一行
	fx.texts.rows["old"] = model.SharedText{ID: "old", Content: "stale", ScopeID: "S1", UpdatedAt: time.Unix(1, 0)}
	fx.texts.rows["new"] = model.SharedText{ID: "new", Content: "fresh", ScopeID: "S1", UpdatedAt: time.Unix(2, 0)}
	fx.texts.clock = 2

	row, err := fx.svc.UpsertText(ctx, "S1", "converged")
	require.NoError(t, err)
	assert.Equal(t, "new", row.ID)

	rows, _ := fx.texts.FindByScope(ctx, "S1")
	require.Len(t, rows, 1)
	assert.Equal(t, "converged", rows[0].Content)
}

func TestDownloadURLDegradesOnUnparseableRef(t *testing.T) {
	fx := newShareFixture()
	ctx := context.Background()

	created, err := fx.svc.InsertFile(ctx, "S1", "a.txt", 3, "text/plain", strings.NewReader("aaa"))
	require.NoError(t, err)

	// 孤儿元数据行（引用损坏）在下载时必须优雅失败而不是崩溃
	broken := *created
	broken.BlobRef = "ftp://???"
	fx.files.files[created.ID] = broken

	_, err = fx.svc.DownloadURL(ctx, "S1", created.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrUnparseableRef))
}

func TestDeletePublishesChangeEvent(t *testing.T) {
	fx := newShareFixture()
	ctx := context.Background()

	created, err := fx.svc.InsertFile(ctx, "S1", "a.txt", 3, "text/plain", strings.NewReader("aaa"))
	require.NoError(t, err)
	require.NoError(t, fx.svc.DeleteFile(ctx, "S1", created.ID))

	evs := fx.pub.published()
	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	assert.Equal(t, events.TableFiles, last.Table)
	assert.Equal(t, events.ActionDelete, last.Action)
	assert.Equal(t, "S1", last.Scope)
}

func TestSanitizeDisplayName(t *testing.T) {
	cases := map[string]string{
		"report.pdf":            "report.pdf",
		"../../etc/passwd":      "passwd",
		"C:\\data\\notes.txt":   "notes.txt",
		"bad\x00name\x1f.txt":   "badname.txt",
		"   spaced.txt   ":      "spaced.txt",
		"":                      "unnamed",
		"...":                   "...",
		"dir/":                  "dir",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeDisplayName(in), "input %q", in)
	}
}
