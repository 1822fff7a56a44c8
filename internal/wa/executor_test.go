package wa

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DavidFlores79/whatsapp-ai-bridge/internal/ai"
)

func newTestExecutor(provider *fakeProvider) *TurnExecutor {
	return NewTurnExecutor(provider, ai.NewToolSet(), fastConfig())
}

func activeUnitErr() error {
	return fmt.Errorf("create message: %w: run is active", ai.ErrActiveUnit)
}

func TestExecutorHappyPath(t *testing.T) {
	provider := &fakeProvider{
		pollStates: []ai.Unit{
			{Status: ai.UnitQueued},
			{Status: ai.UnitInProgress},
			{Status: ai.UnitCompleted},
		},
		entries: []ai.Entry{
			{ID: "m2", Role: "assistant", Text: "Hi there!", UnitID: "run-1"},
			{ID: "m1", Role: "user", Text: "Hello"},
		},
	}

	reply, err := newTestExecutor(provider).Run(context.Background(), "thread-1", "u1", "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", reply)
	assert.Equal(t, []string{"Hello"}, provider.appends)
	assert.Equal(t, []string{"run-1"}, provider.createdUnits)
}

func TestExecutorCancelsConflictingUnits(t *testing.T) {
	provider := &fakeProvider{
		units: []ai.Unit{
			{ID: "stale-1", Status: ai.UnitInProgress},
			{ID: "old-done", Status: ai.UnitCompleted},
		},
		pollStates: []ai.Unit{{Status: ai.UnitCompleted}},
	}

	_, err := newTestExecutor(provider).Run(context.Background(), "thread-1", "u1", "hi")
	require.NoError(t, err)

	assert.Equal(t, []string{"stale-1"}, provider.cancelled, "only non-terminal units get cancelled")
	assert.Equal(t, 1, provider.appendCalls)
}

func TestExecutorAppendRetriesThroughConflicts(t *testing.T) {
	provider := &fakeProvider{
		appendErrs: []error{activeUnitErr(), activeUnitErr(), nil},
		pollStates: []ai.Unit{{Status: ai.UnitCompleted}},
		entries:    []ai.Entry{{Role: "assistant", Text: "ok", UnitID: "run-1"}},
	}

	reply, err := newTestExecutor(provider).Run(context.Background(), "thread-1", "u1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)
	assert.Equal(t, 3, provider.appendCalls)
}

func TestExecutorConflictExhausted(t *testing.T) {
	provider := &fakeProvider{
		appendErrs: []error{activeUnitErr(), activeUnitErr(), activeUnitErr()},
	}

	_, err := newTestExecutor(provider).Run(context.Background(), "thread-1", "u1", "hi")
	require.Error(t, err)
	assert.Equal(t, ClassConflictExhausted, ClassOf(err))
	assert.Empty(t, provider.createdUnits, "no unit may start after a failed append")
}

func TestExecutorToolRoundsWithinBudget(t *testing.T) {
	call := ai.ToolCall{ID: "tc-1", Name: "current_time", Arguments: "{}"}
	provider := &fakeProvider{
		pollStates: []ai.Unit{
			{Status: ai.UnitRequiresAction, ToolCalls: []ai.ToolCall{call}},
			{Status: ai.UnitRequiresAction, ToolCalls: []ai.ToolCall{call}},
			{Status: ai.UnitRequiresAction, ToolCalls: []ai.ToolCall{call}},
			{Status: ai.UnitCompleted},
		},
		entries: []ai.Entry{{Role: "assistant", Text: "done", UnitID: "run-1"}},
	}

	reply, err := newTestExecutor(provider).Run(context.Background(), "thread-1", "u1", "what time is it")
	require.NoError(t, err)
	assert.Equal(t, "done", reply)
	require.Len(t, provider.submitted, 3)
	assert.Equal(t, "tc-1", provider.submitted[0][0].CallID)
}

func TestExecutorToolLoopExhausted(t *testing.T) {
	call := ai.ToolCall{ID: "tc-1", Name: "current_time", Arguments: "{}"}
	ra := ai.Unit{Status: ai.UnitRequiresAction, ToolCalls: []ai.ToolCall{call}}
	provider := &fakeProvider{
		pollStates: []ai.Unit{ra, ra, ra, ra},
	}

	_, err := newTestExecutor(provider).Run(context.Background(), "thread-1", "u1", "hi")
	require.Error(t, err)
	assert.Equal(t, ClassToolLoopExhausted, ClassOf(err))
	assert.Len(t, provider.submitted, 3, "the fourth round must fail before submitting")
}

func TestExecutorPollTimeout(t *testing.T) {
	provider := &fakeProvider{
		pollStates: []ai.Unit{{Status: ai.UnitInProgress}},
	}

	exec := newTestExecutor(provider)
	exec.cfg.UnitPollAttempts = 5

	_, err := exec.Run(context.Background(), "thread-1", "u1", "hi")
	require.Error(t, err)
	assert.Equal(t, ClassTimeout, ClassOf(err))
	assert.Equal(t, 5, provider.getUnitCalls)
}

func TestExecutorRemoteFailureClassification(t *testing.T) {
	cases := []struct {
		name string
		unit ai.Unit
		want ErrorClass
		code string
	}{
		{"rate limited", ai.Unit{Status: ai.UnitFailed, ErrCode: "rate_limit_exceeded"}, ClassRateLimited, "rate_limit_exceeded"},
		{"invalid config", ai.Unit{Status: ai.UnitFailed, ErrCode: "invalid_api_key"}, ClassConfigInvalid, "invalid_api_key"},
		{"expired", ai.Unit{Status: ai.UnitExpired}, ClassTimeout, ""},
		{"server error", ai.Unit{Status: ai.UnitFailed, ErrCode: "server_error"}, ClassRemoteFailed, "server_error"},
		{"cancelled elsewhere", ai.Unit{Status: ai.UnitCancelled}, ClassRemoteFailed, "cancelled"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			provider := &fakeProvider{pollStates: []ai.Unit{tc.unit}}

			_, err := newTestExecutor(provider).Run(context.Background(), "thread-1", "u1", "hi")
			require.Error(t, err)

			var te *TurnError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tc.want, te.Class)
			if tc.code != "" {
				assert.Equal(t, tc.code, te.Code)
			}
		})
	}
}

func TestExecutorProviderSentinelClassification(t *testing.T) {
	provider := &fakeProvider{
		appendErrs: []error{fmt.Errorf("create message: %w", ai.ErrRateLimited)},
	}

	_, err := newTestExecutor(provider).Run(context.Background(), "thread-1", "u1", "hi")
	require.Error(t, err)
	assert.Equal(t, ClassRateLimited, ClassOf(err))
}

func TestExecutorMissingReplyIsEmptyNotError(t *testing.T) {
	provider := &fakeProvider{
		pollStates: []ai.Unit{{Status: ai.UnitCompleted}},
		entries:    []ai.Entry{{Role: "user", Text: "hi"}},
	}

	reply, err := newTestExecutor(provider).Run(context.Background(), "thread-1", "u1", "hi")
	require.NoError(t, err)
	assert.Empty(t, reply)
}
