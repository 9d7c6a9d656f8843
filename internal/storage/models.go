package storage

import "time"

// TurnRecord 表示对话历史中的一条发言（用户、系统通知或助手回复）。
//
// 会话状态本身保存在 session store 中；这张表只做归档，用于事后查看完整转写与排障，
// 通常配合“按时间清理”做保留策略。
type TurnRecord struct {
	// ID 为自增主键（内部使用）。
	ID uint64 `gorm:"primaryKey"`
	// SessionID 为会话唯一标识；与 CreatedAt 组成联合索引，便于按会话回放。
	SessionID string `gorm:"size:64;not null;index:idx_turn_records_session_time,priority:1"`
	// TraceID 串联一次 Step 调用（一次完整的回合），同一回合的用户输入与回复共享同一个值。
	TraceID string `gorm:"size:64;index"`
	// Speaker 为发言者标签：User / System / 助手名。
	Speaker string `gorm:"size:64;not null;index"`
	// Text 为发言内容（不含发言者前缀）。
	Text string `gorm:"type:text;not null"`
	// Stage 为写入时会话所处的开户阶段编号，便于统计用户在哪一步流失。
	Stage int `gorm:"not null;default:0"`
	// CreatedAt 为写入时间；与 SessionID 组成联合索引。
	CreatedAt time.Time `gorm:"not null;autoCreateTime;index:idx_turn_records_session_time,priority:2"`
}

// AuditRecord 记录一次工具调用及其结果，用于审计、追溯与后续分析。
//
// 一条审计记录对应一次工具执行（例如：校验邮箱、核验证件、开户）。
// 复杂入参/输出统一以字符串存放，便于快速落地与版本演进。
type AuditRecord struct {
	// ID 为自增主键（内部使用）。
	ID uint64 `gorm:"primaryKey"`
	// SessionID 标识调用发生在哪个会话中。
	SessionID string `gorm:"size:64;index"`
	// TraceID 用于串联一次回合内的多次工具调用。
	TraceID string `gorm:"size:64;index"`
	// Action 为工具名，例如 EmailValidation / IDVerification。
	Action string `gorm:"size:128;not null;index"`
	// ParamsJSON 存放模型给出的原始参数。
	ParamsJSON string `gorm:"type:text"`
	// ResultJSON 存放工具返回给模型的观察文本。
	ResultJSON string `gorm:"type:text"`
	// Status 表示执行状态（running/success/failed）。
	Status string `gorm:"size:32;not null;index"`
	// ErrorMessage 存放失败时的错误信息（可选，便于检索）。
	ErrorMessage string `gorm:"type:text"`
	// StartedAt/FinishedAt 表示动作起止时间。统计耗时可用 FinishedAt-StartedAt。
	StartedAt  time.Time `gorm:"index"`
	FinishedAt time.Time `gorm:"index"`
	// CreatedAt 为记录写入数据库的时间（与 StartedAt 含义不同），默认自动填充。
	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"`
}
