package jobs_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/PabloGalante/deckflow-agent/internal/adapters/llm"
	"github.com/PabloGalante/deckflow-agent/internal/adapters/storage/memory"
	"github.com/PabloGalante/deckflow-agent/internal/app/agentflow"
	"github.com/PabloGalante/deckflow-agent/internal/app/jobs"
	"github.com/PabloGalante/deckflow-agent/internal/app/pipeline"
	"github.com/PabloGalante/deckflow-agent/internal/app/tools"
	"github.com/PabloGalante/deckflow-agent/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// gatedRunner blocks every run until release is closed.
type gatedRunner struct {
	stream  domain.EventStream
	release chan struct{}

	mu   sync.Mutex
	reqs []pipeline.Request
}

func (g *gatedRunner) Run(ctx context.Context, req pipeline.Request) *pipeline.Result {
	g.mu.Lock()
	g.reqs = append(g.reqs, req)
	g.mu.Unlock()

	<-g.release
	_, _ = g.stream.Append(ctx, req.JobID, "stage 1")
	_, _ = g.stream.Append(ctx, req.JobID, "stage 2")
	return &pipeline.Result{}
}

// readFrames reads n frames or gives up after a few seconds.
func readFrames(svc *jobs.Service, id domain.JobID, n int) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var frames []string
	for frame, err := range svc.Subscribe(ctx, id) {
		if err != nil {
			return frames, err
		}
		frames = append(frames, frame)
		if len(frames) == n {
			break
		}
	}
	return frames, nil
}

func collect(t *testing.T, svc *jobs.Service, id domain.JobID, n int) []string {
	t.Helper()
	frames, err := readFrames(svc, id, n)
	require.NoError(t, err)
	require.Len(t, frames, n, "timed out waiting for frames")
	return frames
}

func TestCreateJobReturnsBeforePipelineRuns(t *testing.T) {
	stream := memory.NewEventStream()
	runner := &gatedRunner{stream: stream, release: make(chan struct{})}
	svc := jobs.NewService(runner, stream, memory.NewJobStore())

	ctx, cancel := context.WithCancel(context.Background())
	out, err := svc.CreateJob(ctx, jobs.CreateJobInput{Prompt: "Summarize Q4 sales", Audiences: []string{"board"}})
	require.NoError(t, err)
	require.NotEmpty(t, out.JobID)
	assert.Equal(t, 0, stream.Len(out.JobID))

	// Request cancellation does not stop the background pipeline.
	cancel()
	close(runner.release)
	svc.Wait()

	assert.Equal(t, 2, stream.Len(out.JobID))
	require.Len(t, runner.reqs, 1)
	assert.Equal(t, pipeline.Request{JobID: out.JobID, Prompt: "Summarize Q4 sales", Audiences: []string{"board"}}, runner.reqs[0])

	job, err := svc.GetJob(context.Background(), out.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSubmitted, job.Status)
}

func TestDoneClosesWhenPipelineReturns(t *testing.T) {
	stream := memory.NewEventStream()
	runner := &gatedRunner{stream: stream, release: make(chan struct{})}
	svc := jobs.NewService(runner, stream, memory.NewJobStore())

	out, err := svc.CreateJob(context.Background(), jobs.CreateJobInput{Prompt: "p"})
	require.NoError(t, err)

	done := svc.Done(out.JobID)
	select {
	case <-done:
		t.Fatal("done before the pipeline ran")
	default:
	}

	close(runner.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("done not closed")
	}
	svc.Wait()

	select {
	case <-svc.Done("unknown"):
	default:
		t.Fatal("unknown job should report done")
	}
}

func TestCreateJobAssignsUniqueIDs(t *testing.T) {
	stream := memory.NewEventStream()
	runner := &gatedRunner{stream: stream, release: make(chan struct{})}
	close(runner.release)
	svc := jobs.NewService(runner, stream, memory.NewJobStore())

	a, err := svc.CreateJob(context.Background(), jobs.CreateJobInput{Prompt: "a"})
	require.NoError(t, err)
	b, err := svc.CreateJob(context.Background(), jobs.CreateJobInput{Prompt: "b"})
	require.NoError(t, err)
	svc.Wait()

	assert.NotEqual(t, a.JobID, b.JobID)
}

func TestCreateJobValidation(t *testing.T) {
	runner := &gatedRunner{release: make(chan struct{})}
	svc := jobs.NewService(runner, memory.NewEventStream(), memory.NewJobStore())

	for _, prompt := range []string{"", "   \n"} {
		_, err := svc.CreateJob(context.Background(), jobs.CreateJobInput{Prompt: prompt})
		assert.ErrorIs(t, err, jobs.ErrInvalidRequest)
	}
	svc.Wait()
	assert.Empty(t, runner.reqs)
}

func TestSubscribeSendsConnectedThenReplays(t *testing.T) {
	stream := memory.NewEventStream()
	runner := &gatedRunner{stream: stream, release: make(chan struct{})}
	svc := jobs.NewService(runner, stream, memory.NewJobStore())

	out, err := svc.CreateJob(context.Background(), jobs.CreateJobInput{Prompt: "p"})
	require.NoError(t, err)

	early := make(chan []string, 1)
	go func() {
		frames, _ := readFrames(svc, out.JobID, 3)
		early <- frames
	}()

	close(runner.release)
	svc.Wait()

	want := []string{`{"type":"connected","jobId":"` + string(out.JobID) + `"}`, "stage 1", "stage 2"}
	assert.Equal(t, want, <-early)
	assert.Equal(t, want, collect(t, svc, out.JobID, 3))
}

func TestSubscribeStopsOnCancel(t *testing.T) {
	svc := jobs.NewService(&gatedRunner{}, memory.NewEventStream(), memory.NewJobStore())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int)
	go func() {
		n := 0
		for range svc.Subscribe(ctx, "quiet") {
			n++
		}
		done <- n
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case n := <-done:
		assert.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop")
	}
}

func TestPushDiagnostic(t *testing.T) {
	stream := memory.NewEventStream()
	svc := jobs.NewService(&gatedRunner{}, stream, memory.NewJobStore())

	err := svc.PushDiagnostic(context.Background(), "diag", map[string]any{"hello": "world", "n": 1})
	require.NoError(t, err)

	frames := collect(t, svc, "diag", 2)
	assert.JSONEq(t, `{"hello":"world","n":1}`, frames[1])

	err = svc.PushDiagnostic(context.Background(), "", map[string]any{})
	assert.ErrorIs(t, err, jobs.ErrInvalidRequest)
}

func TestGetJobUnknown(t *testing.T) {
	svc := jobs.NewService(&gatedRunner{}, memory.NewEventStream(), memory.NewJobStore())
	_, err := svc.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestEndToEndWithMockModel(t *testing.T) {
	catalog, err := agentflow.DefaultCatalog()
	require.NoError(t, err)

	stream := memory.NewEventStream()
	store := memory.NewJobStore()
	runner := agentflow.NewRunner(llm.NewMockModel(), tools.NewRegistry(), "mock")
	invoker := agentflow.NewInvoker(runner, memory.NewSessionStore(), agentflow.DrainFully)
	orch, err := pipeline.NewOrchestrator(invoker, catalog, stream, store, pipeline.DefaultConfig())
	require.NoError(t, err)

	svc := jobs.NewService(orch, stream, store)
	out, err := svc.CreateJob(context.Background(), jobs.CreateJobInput{Prompt: "Summarize Q4 sales", Audiences: []string{"board"}})
	require.NoError(t, err)

	frames := collect(t, svc, out.JobID, 6)
	svc.Wait()

	assert.Contains(t, frames[0], `"connected"`)

	var plan map[string]any
	require.NoError(t, json.Unmarshal([]byte(frames[1]), &plan))
	assert.Contains(t, plan, "interpretation")

	assert.Contains(t, frames[2], "<SlideIdea")
	assert.True(t, strings.HasPrefix(strings.TrimSpace(frames[3]), "<Slide"))
	assert.True(t, strings.HasPrefix(strings.TrimSpace(frames[4]), "<Slide"))
	assert.Contains(t, frames[5], `"job.completed"`)

	job, err := svc.GetJob(context.Background(), out.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
}
