package errs

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeLookup(t *testing.T) {
	wrapped := fmt.Errorf("writing c/todos/state: %w", ErrQuotaExceeded)
	assert.Equal(t, CodeQuotaExceeded, Code(wrapped))
	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsFatal(wrapped))

	coded := New(CodeIncompatibleType, "merge lww_map into g_counter", ErrIncompatibleType)
	assert.Equal(t, CodeIncompatibleType, Code(fmt.Errorf("apply: %w", coded)))
	assert.True(t, errors.Is(coded, ErrIncompatibleType))
	assert.True(t, coded.IsFatal())
	assert.False(t, coded.IsRetryable())

	assert.Equal(t, CodeOK, Code(nil))
	assert.Equal(t, CodeUnknown, Code(errors.New("other")))
}

func TestRetryableTaxonomy(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
	}{
		{ErrStorageUnavailable, true},
		{ErrQuotaExceeded, true},
		{ErrTransport, true},
		{ErrProtocolViolation, false},
		{ErrIncompatibleType, false},
		{ErrConflictPending, false},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestWrapMessage(t *testing.T) {
	err := Wrap(ErrStorageUnavailable, "persist todos").WithContext("attempt", 3)
	assert.Equal(t, "persist todos: storage unavailable", err.Error())
	assert.Equal(t, 3, err.Context["attempt"])
	assert.Equal(t, "storage_unavailable", err.Code.String())
}

func TestIsMatchesByCode(t *testing.T) {
	err := New(CodeTransport, "dial", io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.NotErrorIs(t, err, ErrOffline)
}
