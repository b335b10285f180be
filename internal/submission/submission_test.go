package submission

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Proton-105/clearity-bot/internal/errors"
	"github.com/Proton-105/clearity-bot/internal/jobs"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func samplePayload() Payload {
	return Payload{
		ChaosLevel:   7,
		FailureRate:  3,
		FightNoise:   "running",
		Assistance:   "reminders",
		Contribution: []string{"Join the community", "Other"},
		Name:         "Ada",
		Email:        "ada@example.com",
		Telegram:     "@ada",
		Timestamp:    "2024-05-01T10:00:00Z",
		UserAgent:    "telegram-bot",
	}
}

func fastRetry() apperrors.RetryPolicy {
	return apperrors.RetryPolicy{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestPayloadJSONFieldNames(t *testing.T) {
	data, err := json.Marshal(samplePayload())
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	for _, key := range []string{"chaosLevel", "failureRate", "fightNoise", "assistance", "contribution", "name", "email", "telegram", "timestamp", "userAgent"} {
		assert.Contains(t, raw, key)
	}
	assert.Equal(t, "Join the community, Other", samplePayload().ContributionText())
}

func TestHTTPClientSubmit(t *testing.T) {
	testCases := []struct {
		name      string
		statuses  []int
		wantErr   bool
		wantCalls int32
	}{
		{name: "delivered", statuses: []int{http.StatusOK}, wantCalls: 1},
		{name: "retries server errors", statuses: []int{http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusOK}, wantCalls: 3},
		{name: "gives up after retries", statuses: []int{http.StatusInternalServerError, http.StatusInternalServerError, http.StatusInternalServerError}, wantErr: true, wantCalls: 3},
		{name: "client error is not retried", statuses: []int{http.StatusBadRequest}, wantErr: true, wantCalls: 1},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			var got Payload

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := calls.Add(1)
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

				status := tc.statuses[len(tc.statuses)-1]
				if int(n) <= len(tc.statuses) {
					status = tc.statuses[n-1]
				}
				w.WriteHeader(status)
			}))
			defer srv.Close()

			client := NewHTTPClient(ClientConfig{Endpoint: srv.URL, Retry: fastRetry()}, nil, testLogger())
			err := client.Submit(context.Background(), samplePayload())

			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, samplePayload(), got)
			}
			assert.Equal(t, tc.wantCalls, calls.Load())
		})
	}
}

func TestHTTPClientWithoutEndpoint(t *testing.T) {
	client := NewHTTPClient(ClientConfig{}, nil, testLogger())

	err := client.Submit(context.Background(), samplePayload())
	require.Error(t, err)
	assert.False(t, apperrors.IsRetryable(err))
}

func TestHTTPClientOpenBreakerRejects(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	breaker := apperrors.NewCircuitBreaker()
	client := NewHTTPClient(ClientConfig{
		Endpoint: srv.URL,
		Retry:    apperrors.RetryPolicy{MaxRetries: 0, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	}, breaker, testLogger())

	for i := 0; i < apperrors.MinRequests; i++ {
		require.Error(t, client.Submit(context.Background(), samplePayload()))
	}
	require.Equal(t, apperrors.StateOpen, breaker.State())

	before := calls.Load()
	err := client.Submit(context.Background(), samplePayload())
	require.ErrorIs(t, err, apperrors.ErrCircuitOpen)
	assert.Equal(t, before, calls.Load())
}

type submitterFunc func(ctx context.Context, payload Payload) error

func (f submitterFunc) Submit(ctx context.Context, payload Payload) error { return f(ctx, payload) }

func TestAsyncDispatcherDeliversInBackground(t *testing.T) {
	release := make(chan struct{})
	delivered := make(chan Payload, 1)

	dispatcher := NewAsyncDispatcher(submitterFunc(func(ctx context.Context, payload Payload) error {
		<-release
		delivered <- payload
		return nil
	}), time.Second, testLogger())

	dispatcher.Dispatch(samplePayload())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, dispatcher.Wait(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, dispatcher.Wait(context.Background()))
	assert.Equal(t, samplePayload(), <-delivered)
}

func TestAsyncDispatcherSwallowsFailures(t *testing.T) {
	dispatcher := NewAsyncDispatcher(submitterFunc(func(context.Context, Payload) error {
		return errors.New("collector down")
	}), time.Second, testLogger())

	dispatcher.Dispatch(samplePayload())
	require.NoError(t, dispatcher.Wait(context.Background()))
}

type mockManager struct {
	mock.Mock
}

func (m *mockManager) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task)
	info, _ := args.Get(0).(*asynq.TaskInfo)
	return info, args.Error(1)
}

func (m *mockManager) Close() error {
	return m.Called().Error(0)
}

func TestQueueDispatcherEnqueuesDeliverTask(t *testing.T) {
	manager := &mockManager{}
	enqueued := make(chan *asynq.Task, 1)

	manager.On("Enqueue", mock.Anything, mock.MatchedBy(func(task *asynq.Task) bool {
		return task.Type() == jobs.TaskTypeSubmissionDeliver
	})).Run(func(args mock.Arguments) {
		enqueued <- args.Get(1).(*asynq.Task)
	}).Return(&asynq.TaskInfo{ID: "task-1", Queue: jobs.QueueCritical}, nil).Once()

	NewQueueDispatcher(manager, testLogger()).Dispatch(samplePayload())

	select {
	case task := <-enqueued:
		var got Payload
		require.NoError(t, json.Unmarshal(task.Payload(), &got))
		assert.Equal(t, samplePayload(), got)
	case <-time.After(2 * time.Second):
		t.Fatal("task was not enqueued")
	}

	manager.AssertExpectations(t)
}

func TestQueueDispatcherEnqueueError(t *testing.T) {
	manager := &mockManager{}
	manager.On("Enqueue", mock.Anything, mock.Anything).Return(nil, errors.New("redis down")).Once()

	err := NewQueueDispatcher(manager, testLogger()).enqueue(context.Background(), samplePayload())
	require.Error(t, err)
	manager.AssertExpectations(t)
}

func TestQueueDispatcherIgnoresDuplicate(t *testing.T) {
	manager := &mockManager{}
	manager.On("Enqueue", mock.Anything, mock.Anything).Return(nil, jobs.ErrDuplicate).Once()

	err := NewQueueDispatcher(manager, testLogger()).enqueue(context.Background(), samplePayload())
	require.NoError(t, err)
	manager.AssertExpectations(t)
}

func TestNewDeliverTaskIsStable(t *testing.T) {
	first, err := NewDeliverTask(samplePayload())
	require.NoError(t, err)
	second, err := NewDeliverTask(samplePayload())
	require.NoError(t, err)

	assert.Equal(t, first.Payload(), second.Payload())

	data, err := json.Marshal(samplePayload())
	require.NoError(t, err)
	assert.Equal(t, taskID(data), taskID(data))
	assert.Contains(t, taskID(data), "submission:")
}

func TestDeliverHandlerProcessTask(t *testing.T) {
	var got Payload
	handler := NewDeliverHandler(submitterFunc(func(_ context.Context, payload Payload) error {
		got = payload
		return nil
	}), testLogger())

	task, err := NewDeliverTask(samplePayload())
	require.NoError(t, err)

	require.NoError(t, handler.ProcessTask(context.Background(), task))
	assert.Equal(t, samplePayload(), got)
}

func TestDeliverHandlerPropagatesSubmitError(t *testing.T) {
	handler := NewDeliverHandler(submitterFunc(func(context.Context, Payload) error {
		return apperrors.NewExternalAPIError(apiName, http.StatusBadGateway, nil)
	}), testLogger())

	task, err := NewDeliverTask(samplePayload())
	require.NoError(t, err)

	err = handler.ProcessTask(context.Background(), task)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestDeliverHandlerSkipsUndecodablePayload(t *testing.T) {
	handler := NewDeliverHandler(submitterFunc(func(context.Context, Payload) error {
		t.Fatal("submitter must not be called")
		return nil
	}), testLogger())

	err := handler.ProcessTask(context.Background(), asynq.NewTask(jobs.TaskTypeSubmissionDeliver, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
