// Package storage 提供了与对象存储服务（MinIO）交互的功能。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/suryanavv/BridgeSpace/internal/config"
	"github.com/suryanavv/BridgeSpace/pkg/log"
)

// ErrUnparseableRef 表示存储的对象引用无法还原为可删除的对象路径。
var ErrUnparseableRef = errors.New("unparseable blob reference")

// objectPrefix 是所有共享文件对象的统一前缀，后接空间 ID。
const objectPrefix = "spaces"

// RootPrefix 是全部共享文件对象的公共前缀，供全量扫描使用。
const RootPrefix = objectPrefix + "/"

// BlobInfo 描述对象存储中的一个对象。
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobStore 抽象了元数据层之外的第二个存储系统（对象存储）。
// 所有删除操作都是幂等的：删除不存在的对象不视为错误。
type BlobStore interface {
	Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) (string, error)
	Remove(ctx context.Context, objectName string) error
	RemoveMany(ctx context.Context, objectNames []string) (failed []string)
	PresignedGetURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// MinIOStore 是 BlobStore 的 MinIO 实现。
type MinIOStore struct {
	client *minio.Client
	bucket string
}

// NewMinIOStore 初始化 MinIO 客户端并确保指定的存储桶存在。
func NewMinIOStore(cfg config.MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
	}

	log.Info("MinIO 客户端初始化成功")
	return &MinIOStore{client: client, bucket: cfg.BucketName}, nil
}

// Put 写入一个对象并返回存储在元数据行里的对象引用。
// 约定：新写入的引用一律是桶内相对路径（见 ObjectPathFromRef）。
func (s *MinIOStore) Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, objectName, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return objectName, nil
}

// Remove 删除一个对象。对象不存在时同样返回成功。
func (s *MinIOStore) Remove(ctx context.Context, objectName string) error {
	return s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{})
}

// RemoveMany 批量删除对象，返回删除失败的对象路径。
func (s *MinIOStore) RemoveMany(ctx context.Context, objectNames []string) []string {
	if len(objectNames) == 0 {
		return nil
	}

	objectsCh := make(chan minio.ObjectInfo)
	go func() {
		defer close(objectsCh)
		for _, name := range objectNames {
			objectsCh <- minio.ObjectInfo{Key: name}
		}
	}()

	var failed []string
	for rErr := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if rErr.Err != nil {
			failed = append(failed, rErr.ObjectName)
		}
	}
	return failed
}

// PresignedGetURL 生成对象的临时下载链接。
func (s *MinIOStore) PresignedGetURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	presignedURL, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, expiry, url.Values{})
	if err != nil {
		return "", err
	}
	return presignedURL.String(), nil
}

// List 列出指定前缀下的所有对象。
func (s *MinIOStore) List(ctx context.Context, prefix string) ([]BlobInfo, error) {
	var infos []BlobInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		infos = append(infos, BlobInfo{Path: obj.Key, Size: obj.Size, LastModified: obj.LastModified})
	}
	return infos, nil
}

// ObjectName 为一个空间内的共享文件生成对象路径。
// 文件 ID 作为前缀避免同名文件互相覆盖。
func ObjectName(scopeID, fileID, name string) string {
	return fmt.Sprintf("%s/%s/%s_%s", objectPrefix, scopeID, fileID, name)
}

// SpacePrefix 返回一个空间的对象前缀。
func SpacePrefix(scopeID string) string {
	return fmt.Sprintf("%s/%s/", objectPrefix, scopeID)
}

// publicPathMarker 是历史数据里完整公开 URL 的路径标记。
const publicPathMarker = "/storage/v1/object/public/"

// ObjectPathFromRef 将元数据行里存储的对象引用还原为桶内相对路径。
// 新数据直接存相对路径；历史数据可能是完整公开 URL 或带桶名的对象 URL，
// 这里按三种已知形态依次解析。解析失败只影响对象侧删除，元数据仍可删除。
func ObjectPathFromRef(bucket, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: empty ref", ErrUnparseableRef)
	}

	// 形态一：桶内相对路径（当前写入约定）
	if !strings.Contains(ref, "://") {
		return strings.TrimPrefix(ref, "/"), nil
	}

	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnparseableRef, ref)
	}

	// 形态二：完整公开 URL（.../storage/v1/object/public/<bucket>/<path>）
	if idx := strings.Index(u.Path, publicPathMarker); idx >= 0 {
		rest := u.Path[idx+len(publicPathMarker):]
		rest = strings.TrimPrefix(rest, bucket+"/")
		if rest != "" {
			return rest, nil
		}
	}

	// 形态三：带桶名的对象 URL（https://host/<bucket>/<path>）
	if rest := strings.TrimPrefix(u.Path, "/"+bucket+"/"); rest != u.Path && rest != "" {
		return rest, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnparseableRef, ref)
}
