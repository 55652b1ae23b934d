// Package progress はジョブの進捗/完了イベントをクライアントへ送出する仕組みを提供します。
package progress

import (
	"encoding/json"
	"math"
)

// イベント名（ワイヤープロトコル上の名前）です。
const (
	EventProgress = "job_progress"
	EventPartial  = "job_partial"
	EventComplete = "job_complete"
)

// Status はジョブ完了時の状態を表します。
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Payload は完了/部分結果イベントに載せる任意のキーと値です。
type Payload map[string]any

// ErrorPayload はエラーメッセージだけを持つ Payload を返します。
func ErrorPayload(message string) Payload {
	return Payload{"error": message}
}

// Progress は進捗率（0.0〜1.0）を表します。ゼロ値は「進捗なし」です。
type Progress struct {
	value float64
	set   bool
}

// None は進捗率をクリアした状態です（JSON では null）。
var None = Progress{}

// Started は不定進捗の開始を表し、0.0 として送出されます。
func Started() Progress {
	return Progress{value: 0, set: true}
}

// Fraction は 0.0〜1.0 に丸めた進捗率を返します。
func Fraction(f float64) Progress {
	if math.IsNaN(f) || f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return Progress{value: f, set: true}
}

// Value は進捗率と、値が設定されているかを返します。
func (p Progress) Value() (float64, bool) {
	return p.value, p.set
}

// MarshalJSON は未設定なら null、設定済みなら数値を出力します。
func (p Progress) MarshalJSON() ([]byte, error) {
	if !p.set {
		return []byte("null"), nil
	}
	return json.Marshal(p.value)
}

// Event はセッションへ送出されるイベントです。
type Event interface {
	Name() string
}

// ProgressEvent は実行中ジョブの進捗です。
type ProgressEvent struct {
	JobID           string   `json:"jobId"`
	Progress        Progress `json:"progress"`
	Step            int      `json:"step"`
	TotalSteps      *int     `json:"totalSteps"`
	StepDescription *string  `json:"stepDescription"`
}

func (ProgressEvent) Name() string { return EventProgress }

// QueueEvent は待機中ジョブのキュー位置です（job_progress として送出）。
type QueueEvent struct {
	JobID    string `json:"jobId"`
	QueuePos int    `json:"queuePos"`
}

func (QueueEvent) Name() string { return EventProgress }

// PartialEvent はチェーンジョブの途中結果です。
type PartialEvent struct {
	JobID   string
	SubJob  int
	Title   string
	Payload Payload
}

func (PartialEvent) Name() string { return EventPartial }

// MarshalJSON は Payload のキーを展開して出力します。予約キーが優先されます。
func (e PartialEvent) MarshalJSON() ([]byte, error) {
	body := mergePayload(e.Payload, 3)
	body["jobId"] = e.JobID
	body["subJob"] = e.SubJob
	body["title"] = optionalString(e.Title)
	return json.Marshal(body)
}

// CompleteEvent はジョブの終了イベントです。ジョブごとに一度だけ送出されます。
type CompleteEvent struct {
	JobID   string
	Status  Status
	Payload Payload
}

func (CompleteEvent) Name() string { return EventComplete }

// MarshalJSON は Payload のキーを展開して出力します。予約キーが優先されます。
func (e CompleteEvent) MarshalJSON() ([]byte, error) {
	body := mergePayload(e.Payload, 2)
	body["status"] = e.Status
	body["jobId"] = e.JobID
	return json.Marshal(body)
}

// Emitter はセッションへイベントを送出します。
// 送出はベストエフォートで、切断済みセッション宛のイベントは破棄されます。
// 実装はレポーターへ再入してはいけません。
type Emitter interface {
	Emit(sessionID string, ev Event)
}

// EmitterFunc は関数を Emitter として扱うためのアダプターです。
type EmitterFunc func(sessionID string, ev Event)

// Emit は f(sessionID, ev) を呼び出します。
func (f EmitterFunc) Emit(sessionID string, ev Event) {
	f(sessionID, ev)
}

func mergePayload(p Payload, reserved int) map[string]any {
	body := make(map[string]any, len(p)+reserved)
	for k, v := range p {
		body[k] = v
	}
	return body
}

func optionalInt(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
