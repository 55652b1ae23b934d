package artifact

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/sd-worker/internal/progress"
	"github.com/yourusername/sd-worker/internal/progress/progresstest"
	"github.com/yourusername/sd-worker/internal/storage"
)

func stepDescriptions(events []progress.Event) []string {
	var out []string
	for _, ev := range events {
		p := ev.(progress.ProgressEvent)
		if p.StepDescription != nil {
			out = append(out, *p.StepDescription)
		}
	}
	return out
}

func TestLoaderDownloadsThenUsesCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/CompVis/stable-diffusion-v1-4", r.URL.Path)
		_, _ = w.Write([]byte(strings.Repeat("w", 4096)))
	}))
	defer srv.Close()

	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	loader, err := NewLoader(store, NewHTTPFetcher(srv.URL))
	require.NoError(t, err)

	rec := progresstest.NewRecorder()
	handle, err := loader.Load(context.Background(), "CompVis/stable-diffusion-v1-4", progress.NewSingle("j1", "s", rec, 0))
	require.NoError(t, err)
	require.EqualValues(t, 1, hits.Load())
	data, err := os.ReadFile(handle.Path)
	require.NoError(t, err)
	require.Len(t, data, 4096)

	descs := stepDescriptions(rec.Events())
	require.Equal(t, "Verifying local files", descs[0])
	require.Equal(t, "Downloading Model", descs[1])
	require.Equal(t, "Preparing Model", descs[len(descs)-1])
	last := rec.Events()[len(rec.Events())-1].(progress.ProgressEvent)
	require.Equal(t, 3, last.Step)
	require.Equal(t, 4, *last.TotalSteps)

	rec2 := progresstest.NewRecorder()
	_, err = loader.Load(context.Background(), "CompVis/stable-diffusion-v1-4", progress.NewSingle("j2", "s", rec2, 0))
	require.NoError(t, err)
	require.EqualValues(t, 1, hits.Load(), "cached artifact must not be downloaded again")
	require.Equal(t, []string{"Verifying local files", "Preparing Model"}, stepDescriptions(rec2.Events()))
}

func TestLoaderDownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	loader, err := NewLoader(store, NewHTTPFetcher(srv.URL))
	require.NoError(t, err)

	_, err = loader.Load(context.Background(), "missing/model", progress.NewSingle("j", "s", progresstest.NewRecorder(), 0))
	require.Error(t, err)
	require.False(t, store.Has("missing/model"))
}
