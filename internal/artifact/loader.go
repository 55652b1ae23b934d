// Package artifact はモデル等のアーティファクトの取得とキャッシュを扱います。
package artifact

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/yourusername/sd-worker/internal/progress"
	"github.com/yourusername/sd-worker/internal/storage"
)

// Handle は読み込み済みアーティファクトを表します。
type Handle struct {
	Name string
	Path string
}

// Fetcher はリモートからアーティファクトを取得します。
// size が不明な場合は -1 を返します。
type Fetcher interface {
	Fetch(ctx context.Context, name string) (body io.ReadCloser, size int64, err error)
}

// Loader はローカルキャッシュを確認し、なければ取得してから Handle を返します。
// 取得の各段階は渡された Reporter のステップとして報告されます。
type Loader struct {
	store   *storage.Local
	fetcher Fetcher

	// 同じアーティファクトの同時ダウンロードを防ぐ。
	mu sync.Mutex
}

// NewLoader は Loader を作成します。
func NewLoader(store *storage.Local, fetcher Fetcher) (*Loader, error) {
	if store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is nil")
	}
	return &Loader{store: store, fetcher: fetcher}, nil
}

// Load はアーティファクトを読み込みます。
//
// キャッシュ済み: 1 "Verifying local files" → 2 "Preparing Model"（総ステップ3）
// 未取得:         1 "Verifying local files" → 2 "Downloading Model" → 3 "Preparing Model"（総ステップ4）
//
// 最後のステップは呼び出し側の推論処理が使います。
func (l *Loader) Load(ctx context.Context, name string, r progress.Reporter) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r.SetStep(1, "Verifying local files", progress.None)
	if l.store.Has(name) {
		path, err := l.store.Path(name)
		if err != nil {
			return Handle{}, err
		}
		r.SetTotalSteps(3)
		r.SetStep(2, "Preparing Model", progress.None)
		return Handle{Name: name, Path: path}, nil
	}

	r.SetTotalSteps(4)
	r.SetStep(2, "Downloading Model", progress.Started())
	body, size, err := l.fetcher.Fetch(ctx, name)
	if err != nil {
		return Handle{}, fmt.Errorf("failed to download %s: %w", name, err)
	}
	defer body.Close()

	path, err := l.store.Write(name, &countingReader{r: body, size: size, reporter: r})
	if err != nil {
		return Handle{}, err
	}
	r.SetStep(3, "Preparing Model", progress.None)
	return Handle{Name: name, Path: path}, nil
}

// countingReader はダウンロード済みバイト数から進捗率を送出します。
type countingReader struct {
	r        io.Reader
	size     int64
	read     int64
	lastPct  int64
	reporter progress.Reporter
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += int64(n)
	if c.size > 0 && n > 0 {
		pct := c.read * 100 / c.size
		if pct > c.lastPct {
			c.lastPct = pct
			c.reporter.SendProgress(progress.Fraction(float64(c.read) / float64(c.size)))
		}
	}
	return n, err
}

// HTTPFetcher は <BaseURL>/<name> からアーティファクトを取得します。
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPFetcher は HTTPFetcher を作成します。
func NewHTTPFetcher(baseURL string) *HTTPFetcher {
	return &HTTPFetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 30 * time.Minute},
	}
}

// Fetch は Fetcher を実装します。
func (f *HTTPFetcher) Fetch(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	segments := strings.Split(name, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+"/"+strings.Join(segments, "/"), nil)
	if err != nil {
		return nil, 0, err
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}

// PlaceholderFetcher は開発用に中身のないアーティファクトを返します。
type PlaceholderFetcher struct{}

// Fetch は Fetcher を実装します。
func (PlaceholderFetcher) Fetch(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	body := "placeholder:" + name
	return io.NopCloser(strings.NewReader(body)), int64(len(body)), nil
}
