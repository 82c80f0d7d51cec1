package scheduler

import (
	"context"
	"errors"
	"testing"

	"articlerec/pipeline"
	"articlerec/repository"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeRunner struct {
	calls int
	err   error
	ctx   context.Context
}

func (f *fakeRunner) Run(ctx context.Context) (repository.RunRecord, error) {
	f.calls++
	f.ctx = ctx
	return repository.RunRecord{}, f.err
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	s := New(&fakeRunner{}, "every tuesday", zap.NewNop())
	assert.Error(t, s.Start())
}

func TestTrigger_LogsOutcome(t *testing.T) {
	testCases := []struct {
		name      string
		err       error
		wantLevel string
	}{
		{"Overlap", pipeline.ErrRunInProgress, "warn"},
		{"Failure", errors.New("mongo unreachable"), "error"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			core, logs := observer.New(zap.DebugLevel)
			runner := &fakeRunner{err: tc.err}
			s := New(runner, "0 3 * * *", zap.New(core))

			s.trigger()

			assert.Equal(t, 1, runner.calls)
			entries := logs.All()
			if assert.Len(t, entries, 1) {
				assert.Equal(t, tc.wantLevel, entries[0].Level.String())
			}
		})
	}
}

func TestStop_CancelsRunContext(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, "0 3 * * *", zap.NewNop())
	assert.NoError(t, s.Start())

	s.trigger()
	s.Stop()

	assert.ErrorIs(t, runner.ctx.Err(), context.Canceled)
}
