package progress

import "sync"

// Reporter はジョブが進捗と完了を報告するためのインターフェースです。
// 単体ジョブ用の Single と、チェーンのサブジョブ用 SubReporter が実装します。
type Reporter interface {
	// SetTotalSteps は総ステップ数を宣言します（0 は不明）。
	SetTotalSteps(total int)
	// SetStep はステップを更新して進捗を送出します。
	SetStep(step int, description string, p Progress)
	// NextStep は SetStep(step+1, ...) と同じです。
	NextStep(description string, p Progress)
	// SendProgress は現在のステップ情報と進捗率を即時に送出します。
	SendProgress(p Progress)
	// Complete は終了イベントを一度だけ送出します。
	Complete(status Status, payload Payload)
}

// StepFunc は計算処理が1ステップ進むごとに呼び出すコールバックです。
type StepFunc func(current, total int)

// StepCallback は Reporter へ進捗率を送出する StepFunc を返します。
func StepCallback(r Reporter) StepFunc {
	return func(current, total int) {
		if r == nil {
			return
		}
		if total <= 0 {
			r.SendProgress(Started())
			return
		}
		r.SendProgress(Fraction(float64(current) / float64(total)))
	}
}

// stepState はステップ番号・総ステップ数・説明を保持します。
type stepState struct {
	mu          sync.Mutex
	step        int
	totalSteps  int
	description string
}

func (s *stepState) SetTotalSteps(total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if total < 0 {
		total = 0
	}
	s.totalSteps = total
}

func (s *stepState) set(step int, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(step, description)
}

func (s *stepState) next(description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(s.step+1, description)
}

// 宣言された総ステップ数を超えた場合は「不明」に戻す。
func (s *stepState) setLocked(step int, description string) {
	if s.totalSteps > 0 && step > s.totalSteps {
		s.totalSteps = 0
	}
	s.step = step
	s.description = description
}

func (s *stepState) snapshot() (step, total int, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step, s.totalSteps, s.description
}
