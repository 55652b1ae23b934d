package progress

import (
	"fmt"
	"strings"
	"sync"
)

const noSubjobDataMessage = "No data was sent from any subjobs"

// Chain は複数のサブジョブの進捗を1本のイベントストリームに束ねます。
//
// サブジョブはそれぞれ SubReporter を単体ジョブのレポーターと同じように扱います。
// 成功したサブジョブの結果は次のサブジョブが開始するまで保留され、
// 途中結果（job_partial）か最終結果（job_complete）のどちらかとして一度だけ送出されます。
type Chain struct {
	jobID     string
	sessionID string
	emitter   Emitter

	mu             sync.Mutex
	activeIndex    int
	instances      []*SubReporter
	buffered       Payload
	hasBuffered    bool
	finalized      bool
	declaredLength int
}

// NewChain は Chain を作成します。declaredLength が 0 の場合はサブジョブ数を不明として扱います。
func NewChain(jobID, sessionID string, emitter Emitter, declaredLength int) *Chain {
	if declaredLength < 0 {
		declaredLength = 0
	}
	return &Chain{
		jobID:          jobID,
		sessionID:      sessionID,
		emitter:        emitter,
		activeIndex:    -1,
		declaredLength: declaredLength,
	}
}

// Start は実行開始時の初期イベントを送出します。
func (c *Chain) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return
	}
	c.emitter.Emit(c.sessionID, ProgressEvent{
		JobID:           c.jobID,
		Progress:        None,
		StepDescription: optionalString(initializingDescription),
	})
}

// NewSubReporter は次のインデックスに紐づくサブジョブ用レポーターを追加します。
// 宣言数を超えて追加された時点で、宣言数は不明に戻ります。
func (c *Chain) NewSubReporter(title string, totalSteps int) *SubReporter {
	c.mu.Lock()
	defer c.mu.Unlock()

	index := len(c.instances)
	sub := &SubReporter{
		chain: c,
		index: index,
		title: title,
	}
	sub.SetTotalSteps(totalSteps)
	c.instances = append(c.instances, sub)
	if c.declaredLength > 0 && index+1 > c.declaredLength {
		c.declaredLength = 0
	}
	return sub
}

// Finalize はすべてのサブジョブ実行後に呼び出し、終了イベントを送出します。
// 二度目以降の呼び出しは何もしません。
func (c *Chain) Finalize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return
	}
	c.finalized = true

	if c.hasBuffered {
		payload := c.buffered
		c.buffered, c.hasBuffered = nil, false
		c.emitter.Emit(c.sessionID, CompleteEvent{
			JobID:   c.jobID,
			Status:  StatusSuccess,
			Payload: payload,
		})
		return
	}
	c.emitter.Emit(c.sessionID, CompleteEvent{
		JobID:   c.jobID,
		Status:  StatusError,
		Payload: ErrorPayload(noSubjobDataMessage),
	})
}

// Abort はサブジョブの外で起きた致命的な失敗でチェーンを中断します。
// 保留中の結果は破棄され、エラーの終了イベントが一度だけ送出されます。
func (c *Chain) Abort(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return
	}
	c.finalized = true
	c.buffered, c.hasBuffered = nil, false
	c.emitter.Emit(c.sessionID, CompleteEvent{
		JobID:   c.jobID,
		Status:  StatusError,
		Payload: ErrorPayload(message),
	})
}

// Finalized は終了イベントが送出済み（中断を含む）かどうかを返します。
func (c *Chain) Finalized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalized
}

func (c *Chain) onSubProgress(sub *SubReporter, p Progress, step, totalSteps int, description string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return
	}
	index, ok := c.activate(sub)
	if !ok {
		return
	}
	c.emitter.Emit(c.sessionID, ProgressEvent{
		JobID:           c.jobID,
		Progress:        p,
		Step:            step,
		TotalSteps:      optionalInt(totalSteps),
		StepDescription: optionalString(c.describe(index, sub.title, description)),
	})
}

func (c *Chain) onSubComplete(sub *SubReporter, status Status, payload Payload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return
	}
	if _, ok := c.activate(sub); !ok {
		return
	}

	if status != StatusSuccess {
		// 中断時は直前のサブジョブの保留結果も破棄する。
		c.finalized = true
		c.buffered, c.hasBuffered = nil, false
		c.emitter.Emit(c.sessionID, CompleteEvent{
			JobID:   c.jobID,
			Status:  status,
			Payload: payload,
		})
		return
	}
	c.buffered, c.hasBuffered = payload, true
}

// activate はサブジョブのインデックスを解決し、必要ならアクティブなサブジョブを進めます。
// 未知のハンドルや、すでに後続が開始したサブジョブからの呼び出しは false を返します。
func (c *Chain) activate(sub *SubReporter) (int, bool) {
	index := c.indexOf(sub)
	if index < 0 || index < c.activeIndex {
		return index, false
	}
	if index > c.activeIndex {
		c.advance(index)
	}
	return index, true
}

func (c *Chain) advance(index int) {
	if c.hasBuffered {
		prev := c.instances[c.activeIndex]
		c.emitter.Emit(c.sessionID, PartialEvent{
			JobID:   c.jobID,
			SubJob:  c.activeIndex,
			Title:   prev.title,
			Payload: c.buffered,
		})
		c.buffered, c.hasBuffered = nil, false
	}
	c.activeIndex = index
}

func (c *Chain) indexOf(sub *SubReporter) int {
	if sub == nil || sub.chain != c {
		return -1
	}
	if sub.index < 0 || sub.index >= len(c.instances) || c.instances[sub.index] != sub {
		return -1
	}
	return sub.index
}

func (c *Chain) describe(index int, title, description string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subjob %d", index+1)
	if c.declaredLength > 0 {
		fmt.Fprintf(&b, "/%d", c.declaredLength)
	}
	if title != "" {
		fmt.Fprintf(&b, " (%s)", title)
	}
	if description != "" {
		b.WriteString(": ")
		b.WriteString(description)
	}
	return b.String()
}

// SubReporter はチェーン内の1サブジョブ用のレポーターです。
type SubReporter struct {
	stepState

	chain *Chain
	index int
	title string

	resultMu sync.Mutex
	result   Payload
	ok       bool
}

// Index はチェーン内での位置（0始まり）を返します。
func (s *SubReporter) Index() int { return s.index }

// Title はサブジョブのタイトルを返します。
func (s *SubReporter) Title() string { return s.title }

// SetStep はステップを更新して進捗を送出します。
func (s *SubReporter) SetStep(step int, description string, p Progress) {
	s.set(step, description)
	s.SendProgress(p)
}

// NextStep は次のステップへ進めて進捗を送出します。
func (s *SubReporter) NextStep(description string, p Progress) {
	s.next(description)
	s.SendProgress(p)
}

// SendProgress はチェーンへ進捗を転送します。
func (s *SubReporter) SendProgress(p Progress) {
	step, total, description := s.snapshot()
	s.chain.onSubProgress(s, p, step, total, description)
}

// Complete はチェーンへ完了を転送します。
func (s *SubReporter) Complete(status Status, payload Payload) {
	if status == StatusSuccess {
		s.resultMu.Lock()
		s.result, s.ok = payload, true
		s.resultMu.Unlock()
	}
	s.chain.onSubComplete(s, status, payload)
}

// Result はこのサブジョブが成功時に報告した Payload を返します。
func (s *SubReporter) Result() (Payload, bool) {
	s.resultMu.Lock()
	defer s.resultMu.Unlock()
	return s.result, s.ok
}
