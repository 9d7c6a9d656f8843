package agent

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/wwwzy/PennyAgent/internal/onboarding"
)

const (
	ToolProductSearch      = "ProductSearch"
	ToolEmailValidation    = "EmailValidation"
	ToolAskUser            = "AskUser"
	ToolIDVerification     = "IDVerification"
	ToolSelfieVerification = "SelfieVerification"
	ToolSaveData           = "SaveData"
)

// 工具返回给模型的固定指引文本。
const (
	UnavailableText = "Respond that our onboarding service is currently unavailable and to try again later."
	RetryText       = "Some of the required details were missing or malformed. Ask the user to provide the information again."
)

// 账户类型
const (
	AccountChequing = "CHEQUING"
	AccountSavings  = "SAVINGS"
)

// KnowledgeBase 回答产品相关问题。
type KnowledgeBase interface {
	Answer(ctx context.Context, question string) (string, error)
}

// 所有工具都遵循同一约定：参数是模型给出的原始 Action Input 字符串，
// 返回值是给模型的自然语言指引；后端失败被翻译成指引文本而不是 error。

// ProductSearchTool 检索产品知识库
type ProductSearchTool struct {
	kb KnowledgeBase
}

func (t *ProductSearchTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: ToolProductSearch,
		Desc: "useful for when you need to answer any question about the bank or its products. It takes the question as input.",
	}, nil
}

func (t *ProductSearchTool) InvokableRun(ctx context.Context, input string, _ ...tool.Option) (string, error) {
	if t.kb == nil {
		return "Respond that product information is currently unavailable and to try again later.", nil
	}
	ans, err := t.kb.Answer(ctx, strings.TrimSpace(input))
	if err != nil {
		return "Respond that product information is currently unavailable and to try again later.", nil
	}
	return ans, nil
}

// EmailValidationTool 校验邮箱格式并确认该邮箱尚未开户
type EmailValidationTool struct {
	lookup   onboarding.AccountLookup
	progress *Progress
}

func (t *EmailValidationTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: ToolEmailValidation,
		Desc: "Use this tool when email needs to be validated. It takes the email address as input. It will return a sentence whether the email is validated or not.",
	}, nil
}

func (t *EmailValidationTool) InvokableRun(ctx context.Context, input string, _ ...tool.Option) (string, error) {
	raw := cleanField(input)
	email, ok := normalizeEmail(raw)
	if !ok {
		return fmt.Sprintf("Respond that %s is not a valid email address. Ask the user to try again.", raw), nil
	}
	if t.lookup == nil {
		return UnavailableText, nil
	}

	st, err := t.lookup.LookupAccount(ctx, email)
	if err != nil {
		return UnavailableText, nil
	}
	// 换了邮箱就从头开始：证件、自拍都是在旧邮箱之下核验的。
	if !t.progress.Saved && t.progress.Email != "" && t.progress.Email != email {
		t.progress.Reset()
	}
	if st.Exists {
		return fmt.Sprintf("The email %s is valid, but an account is already registered with it. Ask the user to try again with a different email. Current status: %s", email, st.Status), nil
	}
	if t.progress.Saved {
		return fmt.Sprintf("The email %s is valid, but an account has already been opened in this conversation. Inform the user that their onboarding is complete.", email), nil
	}

	t.progress.Email = email
	return fmt.Sprintf("The email %s is valid and no account is registered with it. Ask the user which account type they want to open: %s or %s. Current status: %s",
		email, AccountChequing, AccountSavings, st.Status), nil
}

// AskUserTool 让模型把问题转交给用户
type AskUserTool struct{}

func (t *AskUserTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: ToolAskUser,
		Desc: "Use this tool to ask something to the user. It takes the question you want to ask as the input. It will return a question that you can ask.",
	}, nil
}

func (t *AskUserTool) InvokableRun(_ context.Context, input string, _ ...tool.Option) (string, error) {
	return "ask user " + strings.TrimSpace(input), nil
}

// IDVerificationTool 核验证件上的姓名
type IDVerificationTool struct {
	verifier onboarding.IDVerifier
	progress *Progress
}

func (t *IDVerificationTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: ToolIDVerification,
		Desc: "Use this tool to verify the user ID. It takes the id_file_name, first_name and last_name as inputs as a single comma separated string. It will return a sentence whether the ID is verified or not.",
	}, nil
}

func (t *IDVerificationTool) InvokableRun(ctx context.Context, input string, _ ...tool.Option) (string, error) {
	fields, ok := splitFields(input, 3)
	if !ok {
		return RetryText, nil
	}
	if !t.progress.EmailVerified() {
		return "The user's email address has not been validated yet. Ask the user for their email address before verifying the identity document.", nil
	}
	if t.verifier == nil {
		return UnavailableText, nil
	}

	fileName, first, last := fields[0], fields[1], fields[2]
	v, err := t.verifier.VerifyID(ctx, fileName, map[string]string{
		onboarding.FieldFirstName: first,
		onboarding.FieldLastName:  last,
	})
	if err != nil {
		return UnavailableText, nil
	}
	if !v.Passed {
		return "The identity document could not be verified. Ask the user to check their details and upload the document again. Current status: " + v.Detail, nil
	}

	t.progress.IDFileName = fileName
	t.progress.FirstName = first
	t.progress.LastName = last
	t.progress.SelfieFileName = ""
	return fmt.Sprintf("id_file_name: %s. The document has been verified. Ask the user to upload a selfie for face verification. Current status: %s", fileName, v.Detail), nil
}

// SelfieVerificationTool 比对自拍与证件照
type SelfieVerificationTool struct {
	verifier onboarding.FaceVerifier
	progress *Progress
}

func (t *SelfieVerificationTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: ToolSelfieVerification,
		Desc: "Use this tool to verify the user selfie and compare faces. It takes the id file name and selfie file name as inputs as a single comma separated string. It will return a sentence whether there is a face match.",
	}, nil
}

func (t *SelfieVerificationTool) InvokableRun(ctx context.Context, input string, _ ...tool.Option) (string, error) {
	fields, ok := splitFields(input, 2)
	if !ok {
		return RetryText, nil
	}
	if !t.progress.IDVerified() {
		return "The identity document has not been verified yet. Ask the user to upload their identity document before the selfie.", nil
	}
	if t.verifier == nil {
		return UnavailableText, nil
	}

	// 只与本会话已核验的证件比对，不信任模型给出的证件文件名。
	idFile, selfie := t.progress.IDFileName, fields[1]
	v, err := t.verifier.VerifyFace(ctx, idFile, selfie)
	if err != nil {
		return UnavailableText, nil
	}
	if !v.Passed {
		return "No face match was found. Ask the user to upload a new selfie and try again. Current status: " + v.Detail, nil
	}

	t.progress.SelfieFileName = selfie
	return "The face has been verified. Summarize the collected information and ask the user to confirm they want to proceed. Current status: " + v.Detail, nil
}

// SaveDataTool 创建账户
type SaveDataTool struct {
	store    onboarding.AccountStore
	progress *Progress
}

func (t *SaveDataTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: ToolSaveData,
		Desc: "Use this tool when you need to save user data. It takes the email, account_type (CHEQUING or SAVINGS), first_name, last_name, id_file_name, selfie_file_name as inputs as a single comma separated string. It will return a sentence whether the onboarding succeeded or not.",
	}, nil
}

func (t *SaveDataTool) InvokableRun(ctx context.Context, input string, _ ...tool.Option) (string, error) {
	fields, ok := splitFields(input, 6)
	if !ok {
		return RetryText, nil
	}
	if t.progress.Saved {
		return "The account has already been created. Inform the user that their onboarding is complete.", nil
	}
	if !t.progress.FaceVerified() {
		return "The email, identity document and selfie must all be verified before the account can be created. Continue the account opening process from the first step that is not verified yet.", nil
	}
	accountType := strings.ToUpper(fields[1])
	if accountType != AccountChequing && accountType != AccountSavings {
		return fmt.Sprintf("The account type must be %s or %s. Ask the user which account type they want to open.", AccountChequing, AccountSavings), nil
	}
	if t.store == nil {
		return UnavailableText, nil
	}

	// 邮箱、姓名与文件均取本会话已证实的值。
	acct := onboarding.Account{
		Email:          t.progress.Email,
		AccountType:    accountType,
		FirstName:      t.progress.FirstName,
		LastName:       t.progress.LastName,
		IDFileName:     t.progress.IDFileName,
		SelfieFileName: t.progress.SelfieFileName,
	}
	status, err := t.store.CreateAccount(ctx, acct)
	if err != nil {
		if errors.Is(err, onboarding.ErrUnavailable) {
			return UnavailableText, nil
		}
		return "Something went wrong with creating an account. Please try again later.", nil
	}

	t.progress.AccountType = accountType
	t.progress.Saved = true
	return "Inform the user of the status and that they will receive an email confirmation. Current status: " + status, nil
}

// NewTools 按固定顺序构造默认工具集，工具共享同一个会话进度。
func NewTools(backend onboarding.Backend, kb KnowledgeBase, progress *Progress) []tool.InvokableTool {
	return []tool.InvokableTool{
		&ProductSearchTool{kb: kb},
		&EmailValidationTool{lookup: backend, progress: progress},
		&AskUserTool{},
		&IDVerificationTool{verifier: backend, progress: progress},
		&SelfieVerificationTool{verifier: backend, progress: progress},
		&SaveDataTool{store: backend, progress: progress},
	}
}

// splitFields 按逗号切分位置参数；数量不符或有空字段时返回 false。
func splitFields(input string, n int) ([]string, bool) {
	parts := strings.Split(input, ",")
	if len(parts) != n {
		return nil, false
	}
	for i, p := range parts {
		p = cleanField(p)
		if p == "" {
			return nil, false
		}
		parts[i] = p
	}
	return parts, true
}

func cleanField(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"'`))
}

func normalizeEmail(s string) (string, bool) {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Name != "" || addr.Address != s {
		return "", false
	}
	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 || !strings.Contains(addr.Address[at+1:], ".") {
		return "", false
	}
	return strings.ToLower(addr.Address), true
}
