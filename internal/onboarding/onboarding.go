// Package onboarding 定义开户流程依赖的后端协作方（账户查询、证件核验、人脸比对、账户写入），
// 并提供基于 HTTP 的默认实现。
package onboarding

import (
	"context"
	"errors"
)

// ErrUnavailable 表示后端不可达或返回了非成功状态；调用方应当提示用户稍后重试。
var ErrUnavailable = errors.New("onboarding service unavailable")

// AccountStatus 为按邮箱查询账户的结果。
type AccountStatus struct {
	Exists bool
	// Status 为后端返回的原始状态描述。
	Status string
}

// Verdict 为一次核验（证件或人脸）的结论。
type Verdict struct {
	Passed bool
	// Detail 为后端返回的原始描述，例如哪个字段不匹配。
	Detail string
}

// Account 为开户时写入的用户资料。
type Account struct {
	Email          string `json:"email"`
	AccountType    string `json:"account_type"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	IDFileName     string `json:"id_file_name"`
	SelfieFileName string `json:"selfie_file_name"`
}

// 证件核验时要求匹配的字段名。
const (
	FieldFirstName = "FIRST_NAME"
	FieldLastName  = "LAST_NAME"
)

type AccountLookup interface {
	LookupAccount(ctx context.Context, email string) (AccountStatus, error)
}

type IDVerifier interface {
	// VerifyID 对已上传的证件文件做字段提取，并与 required 中的期望值比较（大小写不敏感）。
	VerifyID(ctx context.Context, fileName string, required map[string]string) (Verdict, error)
}

type FaceVerifier interface {
	VerifyFace(ctx context.Context, idFileName, selfieFileName string) (Verdict, error)
}

type AccountStore interface {
	// CreateAccount 持久化账户并由后端负责通知用户，返回后端的状态描述。
	CreateAccount(ctx context.Context, acct Account) (string, error)
}

// Backend 聚合全部协作方，HTTP Client 与测试替身都实现它。
type Backend interface {
	AccountLookup
	IDVerifier
	FaceVerifier
	AccountStore
}
