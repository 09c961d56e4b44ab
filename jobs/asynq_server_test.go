package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/retifica-erp/retifica/internal/procurement/approvals"
	"github.com/retifica-erp/retifica/internal/procurement/conditional"
)

type recordingEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (r *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.tasks = append(r.tasks, task)
	r.opts = append(r.opts, opts)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (r *recordingEnqueuer) Close() error { return nil }

func TestClientEnqueuesProcurementTasks(t *testing.T) {
	rec := &recordingEnqueuer{}
	client := NewClientWith(rec)
	ctx := context.Background()

	require.NoError(t, client.NotifyApproval(ctx, approvals.Notice{OrderID: 1, Recipients: []string{"7"}}))
	require.NoError(t, client.NotifyConditional(ctx, conditional.Notice{OrderID: 2, Recipients: []string{"3"}}))
	require.NoError(t, client.AdvanceApproved(ctx, approvals.ApprovedEvent{OrderID: 3, TotalValue: decimal.NewFromInt(10), ApprovedAt: time.Now()}))

	require.Len(t, rec.tasks, 3)
	require.Equal(t, TaskNotifyApproval, rec.tasks[0].Type())
	require.Equal(t, TaskNotifyConditional, rec.tasks[1].Type())
	require.Equal(t, TaskWorkflowAdvance, rec.tasks[2].Type())
	require.Len(t, rec.opts[2], 1)
}

func TestClientTreatsDuplicateAdvanceAsDone(t *testing.T) {
	client := NewClientWith(&recordingEnqueuer{err: asynq.ErrTaskIDConflict})
	require.NoError(t, client.AdvanceApproved(context.Background(), approvals.ApprovedEvent{OrderID: 3}))

	failing := NewClientWith(&recordingEnqueuer{err: errors.New("redis down")})
	require.Error(t, failing.NotifyApproval(context.Background(), approvals.Notice{OrderID: 1}))
}

type stubInspector struct {
	info map[string]*asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.info[queue], nil
}

func TestHealthReportsQueues(t *testing.T) {
	h := NewHandler(stubInspector{info: map[string]*asynq.QueueInfo{
		QueueNotifications: {Queue: QueueNotifications, Pending: 4, Retry: 1},
		QueueDefault:       {Queue: QueueDefault, Pending: 0},
	}}, nil)
	r := chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"queues":[{"queue":"notifications","pending":4,"failing":1},{"queue":"default","pending":0,"failing":0}]}`, rr.Body.String())
}

func TestHealthUnavailable(t *testing.T) {
	h := NewHandler(stubInspector{err: errors.New("redis down")}, nil)
	r := chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
