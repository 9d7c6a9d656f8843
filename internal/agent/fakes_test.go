package agent

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/wwwzy/PennyAgent/internal/onboarding"
)

type idCall struct {
	FileName string
	Required map[string]string
}

// fakeBackend 记录所有调用，按字段控制返回结果。
type fakeBackend struct {
	mu sync.Mutex

	existing map[string]bool
	idPass   bool
	facePass bool
	err      error

	lookups   []string
	idCalls   []idCall
	faceCalls [][2]string
	accounts  []onboarding.Account
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{existing: map[string]bool{}, idPass: true, facePass: true}
}

func (f *fakeBackend) LookupAccount(_ context.Context, email string) (onboarding.AccountStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, email)
	if f.err != nil {
		return onboarding.AccountStatus{}, f.err
	}
	if f.existing[email] {
		return onboarding.AccountStatus{Exists: true, Status: "Account with given email already exists"}, nil
	}
	return onboarding.AccountStatus{Status: "Account with given email does not exist. Proceed with account opening."}, nil
}

func (f *fakeBackend) VerifyID(_ context.Context, fileName string, required map[string]string) (onboarding.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idCalls = append(f.idCalls, idCall{FileName: fileName, Required: required})
	if f.err != nil {
		return onboarding.Verdict{}, f.err
	}
	if !f.idPass {
		return onboarding.Verdict{Detail: "The details you provided for LAST_NAME do not match your ID"}, nil
	}
	return onboarding.Verdict{Passed: true, Detail: "Document has been verified"}, nil
}

func (f *fakeBackend) VerifyFace(_ context.Context, idFileName, selfieFileName string) (onboarding.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faceCalls = append(f.faceCalls, [2]string{idFileName, selfieFileName})
	if f.err != nil {
		return onboarding.Verdict{}, f.err
	}
	if !f.facePass {
		return onboarding.Verdict{Detail: "No face match found"}, nil
	}
	return onboarding.Verdict{Passed: true, Detail: "Face match verified"}, nil
}

func (f *fakeBackend) CreateAccount(_ context.Context, acct onboarding.Account) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.accounts = append(f.accounts, acct)
	return "New account created successfully. User notified via email", nil
}

// scriptedOracle 按顺序返回预设输出，并记录每次收到的提示词与 stop 序列。
type scriptedOracle struct {
	replies []string
	// repeat 非空时，预设输出用完后一直返回它
	repeat string
	err    error

	prompts []string
	stops   [][]string
}

func (o *scriptedOracle) Complete(_ context.Context, prompt string, stop []string) (string, error) {
	o.prompts = append(o.prompts, prompt)
	o.stops = append(o.stops, stop)
	if o.err != nil {
		return "", o.err
	}
	if len(o.replies) == 0 {
		if o.repeat != "" {
			return o.repeat, nil
		}
		return "", errors.New("no scripted reply left")
	}
	r := o.replies[0]
	o.replies = o.replies[1:]
	return r, nil
}

type staticKnowledge struct {
	answer    string
	err       error
	questions []string
}

func (k *staticKnowledge) Answer(_ context.Context, q string) (string, error) {
	k.questions = append(k.questions, q)
	if k.err != nil {
		return "", k.err
	}
	return k.answer, nil
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
