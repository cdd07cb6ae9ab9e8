package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectName(t *testing.T) {
	got := ObjectName("192.168.1", "abc-123", "report.pdf")
	assert.Equal(t, "spaces/192.168.1/abc-123_report.pdf", got)
}

func TestSpacePrefix(t *testing.T) {
	assert.Equal(t, "spaces/192.168.1/", SpacePrefix("192.168.1"))
}

func TestObjectPathFromRefRelativePath(t *testing.T) {
	// 当前写入约定：桶内相对路径原样返回
	got, err := ObjectPathFromRef("bridgespace", "spaces/192.168.1/abc_report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "spaces/192.168.1/abc_report.pdf", got)

	// 偶发的前导斜杠被剥掉
	got, err = ObjectPathFromRef("bridgespace", "/spaces/192.168.1/abc_report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "spaces/192.168.1/abc_report.pdf", got)
}

func TestObjectPathFromRefPublicURL(t *testing.T) {
	ref := "https://xyz.example.com/storage/v1/object/public/bridgespace/spaces/192.168.1/abc_report.pdf"
	got, err := ObjectPathFromRef("bridgespace", ref)
	require.NoError(t, err)
	assert.Equal(t, "spaces/192.168.1/abc_report.pdf", got)
}

func TestObjectPathFromRefBucketURL(t *testing.T) {
	ref := "https://minio.local:9000/bridgespace/spaces/192.168.1/abc_report.pdf"
	got, err := ObjectPathFromRef("bridgespace", ref)
	require.NoError(t, err)
	assert.Equal(t, "spaces/192.168.1/abc_report.pdf", got)
}

func TestObjectPathFromRefUnparseable(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"https://minio.local/otherbucket/spaces/a/b.txt",
		"https://xyz.example.com/storage/v1/object/public/bridgespace/",
	}
	for _, ref := range cases {
		_, err := ObjectPathFromRef("bridgespace", ref)
		require.Error(t, err, "ref %q", ref)
		assert.True(t, errors.Is(err, ErrUnparseableRef), "ref %q", ref)
	}
}
