package progress

const initializingDescription = "Initializing"

// Single は単体ジョブの進捗を所有セッションへ直接送出します。
type Single struct {
	stepState

	jobID     string
	sessionID string
	emitter   Emitter
}

// NewSingle は Single を作成します。totalSteps が 0 の場合は不明として扱います。
func NewSingle(jobID, sessionID string, emitter Emitter, totalSteps int) *Single {
	r := &Single{
		jobID:     jobID,
		sessionID: sessionID,
		emitter:   emitter,
	}
	r.SetTotalSteps(totalSteps)
	return r
}

// Start は実行開始時の初期イベント（step 0, "Initializing"）を送出します。
func (r *Single) Start() {
	_, total, _ := r.snapshot()
	r.emitter.Emit(r.sessionID, ProgressEvent{
		JobID:           r.jobID,
		Progress:        None,
		Step:            0,
		TotalSteps:      optionalInt(total),
		StepDescription: optionalString(initializingDescription),
	})
}

// SetStep はステップを更新して進捗を送出します。
func (r *Single) SetStep(step int, description string, p Progress) {
	r.set(step, description)
	r.SendProgress(p)
}

// NextStep は次のステップへ進めて進捗を送出します。
func (r *Single) NextStep(description string, p Progress) {
	r.next(description)
	r.SendProgress(p)
}

// SendProgress は進捗を即時に送出します。
func (r *Single) SendProgress(p Progress) {
	step, total, description := r.snapshot()
	r.emitter.Emit(r.sessionID, ProgressEvent{
		JobID:           r.jobID,
		Progress:        p,
		Step:            step,
		TotalSteps:      optionalInt(total),
		StepDescription: optionalString(description),
	})
}

// Complete は終了イベントを送出します。
// 以降の呼び出しを抑止するのはジョブ側の責務です。
func (r *Single) Complete(status Status, payload Payload) {
	r.emitter.Emit(r.sessionID, CompleteEvent{
		JobID:   r.jobID,
		Status:  status,
		Payload: payload,
	})
}
