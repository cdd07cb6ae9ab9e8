package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuotaErrorUnwrapsToSentinel(t *testing.T) {
	err := fmt.Errorf("submit failed: %w", &QuotaError{Limit: 20, Existing: 18, Requested: 5})
	assert.True(t, errors.Is(err, ErrQuotaExceeded))

	var qErr *QuotaError
	assert.True(t, errors.As(err, &qErr))
	assert.Equal(t, 2, qErr.Remaining())
}

func TestQuotaErrorRemainingNeverNegative(t *testing.T) {
	qErr := &QuotaError{Limit: 20, Existing: 25, Requested: 1}
	assert.Equal(t, 0, qErr.Remaining())
}

func TestFileTooLargeErrorUnwrapsToSentinel(t *testing.T) {
	var err error = &FileTooLargeError{Name: "huge.bin", Size: 100, Limit: 50}
	assert.True(t, errors.Is(err, ErrFileTooLarge))
	assert.Contains(t, err.Error(), "huge.bin")
}

func TestWriteErrorUnwrapsToSentinel(t *testing.T) {
	var err error = &WriteError{FileName: "a.txt", Err: errors.New("disk full")}
	assert.True(t, errors.Is(err, ErrStorageWrite))
	assert.Contains(t, err.Error(), "a.txt")
	assert.Contains(t, err.Error(), "disk full")
}
