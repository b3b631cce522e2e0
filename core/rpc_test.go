package core_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/layer-3/walletlink/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRPCRequest(t *testing.T) {
	req, err := core.NewRPCRequest(core.MethodSessionUpdateMethods, core.UpdateMethodsParams{Methods: []string{"eth_sign"}})
	require.NoError(t, err)

	assert.Equal(t, "2.0", req.JSONRPC)
	assert.Equal(t, core.MethodSessionUpdateMethods, req.Method)
	assert.Positive(t, req.ID)
	assert.JSONEq(t, `{"methods":["eth_sign"]}`, string(req.Params))
}

func TestNewRPCIDIsUniqueEnough(t *testing.T) {
	seen := make(map[int64]struct{})
	for i := 0; i < 50; i++ {
		seen[core.NewRPCID()] = struct{}{}
	}
	// three random digits per millisecond; a handful of collisions is tolerable
	assert.Greater(t, len(seen), 40)
}

func TestNewRPCErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{core.ErrUnauthorizedNonController, core.CodeUnauthorized},
		{fmt.Errorf("wrapped: %w", core.ErrInvalidMethod), core.CodeInvalidParams},
		{core.ErrInvalidAccount, core.CodeInvalidParams},
		{core.ErrInvalidExtendTime, core.CodeInvalidParams},
		{core.ErrMalformedPayload, core.CodeInvalidParams},
		{core.ErrNoSessionMatchingTopic, core.CodeNoMatchingKey},
		{core.ErrMissingKey, core.CodeNoMatchingKey},
		{errors.New("boom"), core.CodeInternalFailed},
	}

	for _, tc := range tests {
		rpcErr := core.NewRPCError(tc.err)
		assert.Equal(t, tc.code, rpcErr.Code, tc.err.Error())
		assert.Equal(t, tc.err.Error(), rpcErr.Message)
	}
}
