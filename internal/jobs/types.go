package jobs

import "time"

// Kind はジョブの種別です。
type Kind string

const (
	KindTxt2Img Kind = "txt2img"
	KindUpscale Kind = "upscale"
	KindChain   Kind = "chain"
)

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "done"
	StatusFailed    Status = "error"
	StatusSkipped   Status = "skipped"
)

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Record はジョブの現在状態を表します。
type Record struct {
	JobID     string     `json:"jobId"`
	Kind      Kind       `json:"kind"`
	SessionID string     `json:"sessionId"`
	Subject   string     `json:"subject,omitempty"`
	Status    Status     `json:"status"`
	Error     *ErrorInfo `json:"error,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
}
