package conversation

import "time"

// Sender 标识消息的发送方
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Turn 练习对话中的一条消息。
// 追加后 Text 与 Sender 不再变化，AudioRef 和 Translation 可以稍后补充
type Turn struct {
	Text        string    `json:"text"`
	Sender      Sender    `json:"sender"`
	AudioRef    string    `json:"audioRef,omitempty"`
	Translation string    `json:"translation,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Entry 消息的持久化形式，序列化时写入当前批次ID
type Entry struct {
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	BatchID   string    `json:"batchId"`
	Discarded bool      `json:"discarded"`
	AudioRef  string    `json:"audioRef,omitempty"`
}
