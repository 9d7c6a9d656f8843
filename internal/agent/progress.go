package agent

import (
	"fmt"
	"strings"
)

// Stage 是开户流程中由工具结果确定的里程碑。
//
// 提示词里的规则手册描述了更细的对话步骤（问姓名、请用户上传证件等），这些步骤靠模型推断；
// Stage 只记录能被后端结果证实的事实，工具据此拒绝越级调用。
type Stage int

const (
	// StageGreeting：历史为空，需要问候。
	StageGreeting Stage = iota + 1
	// StageEmail：可以回答一般问题；开户需先收集并校验邮箱。
	StageEmail
	// StageIdentity：邮箱已确认可用，收集账户类型、姓名并核验证件。
	StageIdentity
	// StageSelfie：证件已核验，收集自拍做人脸比对。
	StageSelfie
	// StageConfirmation：人脸已核验，汇总信息请用户确认后保存。
	StageConfirmation
	// StageCompleted：账户已创建。
	StageCompleted
)

var stageNames = map[Stage]string{
	StageGreeting:     "greeting",
	StageEmail:        "email",
	StageIdentity:     "identity",
	StageSelfie:       "selfie",
	StageConfirmation: "confirmation",
	StageCompleted:    "completed",
}

func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// MarshalText 让 Stage 在 JSON 中以名称出现。
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Description 为提示词中的阶段说明，与规则手册中的步骤对应。
func (s Stage) Description() string {
	switch s {
	case StageGreeting:
		return "Introduction: the conversation has just started. Greet the user and offer to answer questions or open an account."
	case StageEmail:
		return "General Banking Questions or Account Open 1-2: answer questions, and if the user wants an account, collect and validate their email address."
	case StageIdentity:
		return "Account Open 3-6: the email is validated. Collect the account type, first name and last name, then verify the uploaded identity document."
	case StageSelfie:
		return "Account Open 7-8: the identity document is verified. Ask for a selfie and verify it against the document."
	case StageConfirmation:
		return "Account Open 9-10: the face match is verified. Summarize the collected information, ask the user to confirm, then save the data."
	case StageCompleted:
		return "Onboarding complete: the account has been created. Answer any further questions."
	}
	return ""
}

// Progress 记录本会话中已被后端证实的开户信息。字段只在工具成功时写入，Seed 时清空。
type Progress struct {
	Email          string `json:"email,omitempty"`
	FirstName      string `json:"first_name,omitempty"`
	LastName       string `json:"last_name,omitempty"`
	IDFileName     string `json:"id_file_name,omitempty"`
	SelfieFileName string `json:"selfie_file_name,omitempty"`
	AccountType    string `json:"account_type,omitempty"`
	Saved          bool   `json:"saved,omitempty"`
}

func (p *Progress) EmailVerified() bool { return p.Email != "" }

func (p *Progress) IDVerified() bool { return p.EmailVerified() && p.IDFileName != "" }

func (p *Progress) FaceVerified() bool { return p.IDVerified() && p.SelfieFileName != "" }

// Stage 由已证实的事实推导当前里程碑；historyLen 仅用于区分问候阶段。
func (p *Progress) Stage(historyLen int) Stage {
	switch {
	case p.Saved:
		return StageCompleted
	case p.FaceVerified():
		return StageConfirmation
	case p.IDVerified():
		return StageSelfie
	case p.EmailVerified():
		return StageIdentity
	case historyLen == 0:
		return StageGreeting
	}
	return StageEmail
}

// Summary 渲染给模型看的进度说明。
func (p *Progress) Summary(historyLen int) string {
	st := p.Stage(historyLen)
	var b strings.Builder
	fmt.Fprintf(&b, "Current stage: %s\n", st.Description())

	var facts []string
	if p.EmailVerified() {
		facts = append(facts, "email "+p.Email+" validated with no existing account")
	}
	if p.IDVerified() {
		facts = append(facts, fmt.Sprintf("identity document %s verified for %s %s", p.IDFileName, p.FirstName, p.LastName))
	}
	if p.FaceVerified() {
		facts = append(facts, "selfie "+p.SelfieFileName+" matched the identity document")
	}
	if p.Saved {
		facts = append(facts, p.AccountType+" account created")
	}
	if len(facts) == 0 {
		b.WriteString("Verified so far: nothing")
	} else {
		b.WriteString("Verified so far: " + strings.Join(facts, "; "))
	}
	return b.String()
}

func (p *Progress) Reset() {
	*p = Progress{}
}
