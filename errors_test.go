package sealstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrors_Identity(t *testing.T) {
	// Verify each error is a distinct sentinel error
	allErrors := []error{
		ErrBackend,
		ErrDuplicate,
		ErrNotFound,
		ErrEncryption,
		ErrUnsupportedQuery,
		ErrInput,
		ErrExpired,
		ErrKeyDerivation,
		ErrUnsupportedAlgorithm,
		ErrInvalidFormat,
		ErrDecompressionFailed,
		ErrSessionClosed,
		ErrStoreClosed,
	}

	for _, err := range allErrors {
		require.True(t, errors.Is(err, err), "error should be equal to itself: %v", err)
	}

	for i, err1 := range allErrors {
		for j, err2 := range allErrors {
			if i != j {
				require.False(t, errors.Is(err1, err2), "different errors should not be equal: %v and %v", err1, err2)
			}
		}
	}
}

func TestErrorWrapping(t *testing.T) {
	err := backendErr("insert entry", errors.New("connection reset"))
	require.ErrorIs(t, err, ErrBackend)
	require.Contains(t, err.Error(), "insert entry")
	require.Contains(t, err.Error(), "connection reset")

	err = inputErr("empty category")
	require.ErrorIs(t, err, ErrInput)
	require.Contains(t, err.Error(), "empty category")
}
