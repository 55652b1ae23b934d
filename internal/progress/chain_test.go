package progress_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yourusername/sd-worker/internal/progress"
	"github.com/yourusername/sd-worker/internal/progress/progresstest"
)

func descriptions(events []progress.Event) []string {
	var out []string
	for _, ev := range events {
		if p, ok := ev.(progress.ProgressEvent); ok && p.StepDescription != nil {
			out = append(out, *p.StepDescription)
		}
	}
	return out
}

func TestChainPartialThenComplete(t *testing.T) {
	rec := progresstest.NewRecorder()
	chain := progress.NewChain("chain-1", "sid", rec, 2)

	a := chain.NewSubReporter("Text to Image", 0)
	b := chain.NewSubReporter("Upscale", 0)

	a.SetStep(1, "Preparing Model", progress.None)
	a.Complete(progress.StatusSuccess, progress.Payload{"data": "P1"})
	b.SetStep(1, "", progress.Started())
	b.Complete(progress.StatusSuccess, progress.Payload{"data": "P2"})
	chain.Finalize()

	events := rec.Events()
	require.Len(t, events, 4)

	require.Equal(t, "Subjob 1/2 (Text to Image): Preparing Model", *events[0].(progress.ProgressEvent).StepDescription)

	// B の最初の進捗で A の結果が partial として送出される。
	partial, ok := events[1].(progress.PartialEvent)
	require.True(t, ok)
	require.Equal(t, 0, partial.SubJob)
	require.Equal(t, "Text to Image", partial.Title)
	require.Equal(t, "P1", partial.Payload["data"])

	require.Equal(t, "Subjob 2/2 (Upscale)", *events[2].(progress.ProgressEvent).StepDescription)

	done := events[3].(progress.CompleteEvent)
	require.Equal(t, progress.StatusSuccess, done.Status)
	require.Equal(t, "P2", done.Payload["data"])
	require.Equal(t, "chain-1", done.JobID)
}

func TestChainAbortDiscardsBufferedPayload(t *testing.T) {
	rec := progresstest.NewRecorder()
	chain := progress.NewChain("chain-1", "sid", rec, 2)

	a := chain.NewSubReporter("A", 0)
	b := chain.NewSubReporter("B", 0)

	a.Complete(progress.StatusSuccess, progress.Payload{"data": "P1"})
	b.Complete(progress.StatusError, progress.ErrorPayload("out of memory"))

	// 中断後の呼び出しはすべて無視される。
	b.SendProgress(progress.Started())
	a.Complete(progress.StatusSuccess, progress.Payload{"data": "late"})
	chain.Finalize()

	events := rec.Events()
	require.Len(t, events, 1)
	done := events[0].(progress.CompleteEvent)
	require.Equal(t, progress.StatusError, done.Status)
	require.Equal(t, "out of memory", done.Payload["error"])
	require.True(t, chain.Finalized())

	for _, ev := range events {
		_, isPartial := ev.(progress.PartialEvent)
		require.False(t, isPartial)
	}
}

func TestChainWithoutSubjobs(t *testing.T) {
	rec := progresstest.NewRecorder()
	chain := progress.NewChain("chain-1", "sid", rec, 0)

	chain.Finalize()
	chain.Finalize()

	completions := rec.Completions()
	require.Len(t, completions, 1)
	require.Equal(t, progress.StatusError, completions[0].Status)
	require.Equal(t, "No data was sent from any subjobs", completions[0].Payload["error"])
}

func TestChainFinalizeIsIdempotent(t *testing.T) {
	rec := progresstest.NewRecorder()
	chain := progress.NewChain("chain-1", "sid", rec, 1)

	a := chain.NewSubReporter("", 0)
	a.Complete(progress.StatusSuccess, progress.Payload{"data": 1})
	chain.Finalize()
	chain.Finalize()

	completions := rec.Completions()
	require.Len(t, completions, 1)
	require.Equal(t, progress.StatusSuccess, completions[0].Status)
}

func TestChainStaleCallsAreDropped(t *testing.T) {
	rec := progresstest.NewRecorder()
	chain := progress.NewChain("chain-1", "sid", rec, 0)

	a := chain.NewSubReporter("A", 0)
	b := chain.NewSubReporter("B", 0)

	b.SetStep(1, "started early", progress.None)
	a.SetStep(1, "stale", progress.None)
	a.Complete(progress.StatusError, progress.ErrorPayload("stale failure"))

	require.Equal(t, []string{"Subjob 2 (B): started early"}, descriptions(rec.Events()))
	require.Empty(t, rec.Completions())
	require.False(t, chain.Finalized())
}

func TestChainDeclaredLengthDroppedWhenExceeded(t *testing.T) {
	rec := progresstest.NewRecorder()
	chain := progress.NewChain("chain-1", "sid", rec, 1)

	a := chain.NewSubReporter("A", 0)
	a.SetStep(1, "", progress.None)

	b := chain.NewSubReporter("B", 0)
	a.SetStep(2, "", progress.None)
	b.SetStep(1, "", progress.None)

	require.Equal(t, []string{
		"Subjob 1/1 (A)",
		"Subjob 1 (A)",
		"Subjob 2 (B)",
	}, descriptions(rec.Events()))
}

func TestChainSubReporterStepBound(t *testing.T) {
	rec := progresstest.NewRecorder()
	chain := progress.NewChain("chain-1", "sid", rec, 0)

	a := chain.NewSubReporter("A", 2)
	a.SetStep(2, "", progress.None)
	a.SetStep(3, "", progress.None)

	events := rec.Events()
	require.Len(t, events, 2)
	require.Equal(t, 2, *events[0].(progress.ProgressEvent).TotalSteps)
	require.Nil(t, events[1].(progress.ProgressEvent).TotalSteps)

	payload, ok := a.Result()
	require.False(t, ok)
	require.Nil(t, payload)
	a.Complete(progress.StatusSuccess, progress.Payload{"x": 1})
	payload, ok = a.Result()
	require.True(t, ok)
	require.Equal(t, 1, payload["x"])
}

func TestChainAbortOutsideSubjob(t *testing.T) {
	rec := progresstest.NewRecorder()
	chain := progress.NewChain("chain-1", "sid", rec, 0)

	a := chain.NewSubReporter("", 0)
	a.Complete(progress.StatusSuccess, progress.Payload{"data": "P1"})
	chain.Abort("boom")
	chain.Abort("again")
	chain.Finalize()

	require.True(t, chain.Finalized())
	completions := rec.Completions()
	require.Len(t, completions, 1)
	require.Equal(t, progress.StatusError, completions[0].Status)
	require.Equal(t, "boom", completions[0].Payload["error"])
	require.Len(t, rec.Events(), 1)
}
