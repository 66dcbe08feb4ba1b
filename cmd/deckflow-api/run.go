package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/PabloGalante/deckflow-agent/internal/app/jobs"
	"github.com/PabloGalante/deckflow-agent/internal/domain"
	"github.com/PabloGalante/deckflow-agent/internal/observability"
)

var (
	runPrompt    string
	runAudiences []string
	runGrace     time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one job in-process and print its event stream",
	RunE:  runJob,
}

func init() {
	runCmd.Flags().StringVarP(&runPrompt, "prompt", "p", "", "what the presentation should be about")
	runCmd.Flags().StringSliceVarP(&runAudiences, "audience", "a", nil, "target audience (repeatable)")
	runCmd.Flags().DurationVar(&runGrace, "grace", 2*time.Second, "how long to wait for the final event after the pipeline returns")
	_ = runCmd.MarkFlagRequired("prompt")
}

func runJob(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	app, err := buildApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	out, err := app.jobs.CreateJob(ctx, jobs.CreateJobInput{Prompt: runPrompt, Audiences: runAudiences})
	if err != nil {
		return err
	}

	if err := followJob(ctx, app.jobs, out.JobID, cmd.OutOrStdout(), runGrace); err != nil {
		return err
	}
	app.jobs.Wait()
	return nil
}

// followJob prints the job's frames until its terminal frame. Publishing is
// best effort, so once the pipeline has returned the terminal frame is only
// awaited for grace.
func followJob(ctx context.Context, svc *jobs.Service, id domain.JobID, w io.Writer, grace time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-svc.Done(id):
		case <-ctx.Done():
			return
		}
		select {
		case <-time.After(grace):
			cancel()
		case <-ctx.Done():
		}
	}()

	for frame, err := range svc.Subscribe(ctx, id) {
		if err != nil {
			return err
		}
		fmt.Fprintln(w, frame)
		if isTerminal(frame) {
			return nil
		}
	}

	job, err := svc.GetJob(context.WithoutCancel(ctx), id)
	if err != nil {
		return err
	}
	if !job.Status.Terminal() {
		return fmt.Errorf("job %s stopped following at status %s", id, job.Status)
	}
	observability.Logger().Warn("job ended without a terminal event",
		"job_id", id,
		"status", string(job.Status))
	return nil
}

// isTerminal reports whether frame is a job.completed or job.failed message.
func isTerminal(frame string) bool {
	var msg struct {
		Type domain.EventType `json:"type"`
	}
	if err := json.Unmarshal([]byte(frame), &msg); err != nil {
		return false
	}
	return msg.Type == domain.EventJobCompleted || msg.Type == domain.EventJobFailed
}
