package mocks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/multichannel-posting-api/internal/gateway/botgateway"
	"github.com/multichannel-posting-api/internal/gateway/translation"
	"github.com/multichannel-posting-api/internal/service"
)

// MockBotGateway is a scriptable ChannelGateway. Errors are keyed by chat id;
// a queued error is returned once, a sticky error on every call.
type MockBotGateway struct {
	mu sync.Mutex

	Sent    []botgateway.SendRequest
	Edits   []int64
	Deletes []int64

	SendErrors  map[int64][]error
	StickySend  map[int64]error
	EditErr     error
	DeleteErr   error
	InfoErr     error
	Info        map[int64]*botgateway.ChannelInfo
	Permissions map[int64]*botgateway.Permissions
	NoMessageID bool
	nextMessage int64
	sentByKey   map[string]int64
}

var _ service.ChannelGateway = (*MockBotGateway)(nil)

func NewMockBotGateway() *MockBotGateway {
	return &MockBotGateway{
		SendErrors:  make(map[int64][]error),
		StickySend:  make(map[int64]error),
		Info:        make(map[int64]*botgateway.ChannelInfo),
		Permissions: make(map[int64]*botgateway.Permissions),
		nextMessage: 100,
		sentByKey:   make(map[string]int64),
	}
}

// FailSend queues errors for the next sends to chatID
func (m *MockBotGateway) FailSend(chatID int64, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SendErrors[chatID] = append(m.SendErrors[chatID], errs...)
}

func (m *MockBotGateway) SendMessage(ctx context.Context, req botgateway.SendRequest) (*botgateway.SentMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Sent = append(m.Sent, req)
	if err := m.StickySend[req.ChatID]; err != nil {
		return nil, err
	}
	if queued := m.SendErrors[req.ChatID]; len(queued) > 0 {
		m.SendErrors[req.ChatID] = queued[1:]
		return nil, queued[0]
	}
	if m.NoMessageID {
		return &botgateway.SentMessage{ChatID: req.ChatID, Date: time.Now()}, nil
	}

	// The same idempotency key always maps to the same message
	if req.IdempotencyKey != "" {
		if id, ok := m.sentByKey[req.IdempotencyKey]; ok {
			return &botgateway.SentMessage{MessageID: id, ChatID: req.ChatID, Date: time.Now()}, nil
		}
	}
	m.nextMessage++
	if req.IdempotencyKey != "" {
		m.sentByKey[req.IdempotencyKey] = m.nextMessage
	}
	return &botgateway.SentMessage{MessageID: m.nextMessage, ChatID: req.ChatID, Date: time.Now()}, nil
}

func (m *MockBotGateway) EditMessage(ctx context.Context, chatID, messageID int64, text string, disableWebPagePreview bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Edits = append(m.Edits, messageID)
	if m.EditErr != nil {
		return false, m.EditErr
	}
	return true, nil
}

func (m *MockBotGateway) DeleteMessage(ctx context.Context, chatID, messageID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deletes = append(m.Deletes, messageID)
	if m.DeleteErr != nil {
		return false, m.DeleteErr
	}
	return true, nil
}

func (m *MockBotGateway) GetChannelInfo(ctx context.Context, chatID int64) (*botgateway.ChannelInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InfoErr != nil {
		return nil, m.InfoErr
	}
	if info, ok := m.Info[chatID]; ok {
		return info, nil
	}
	return &botgateway.ChannelInfo{ChatID: chatID, Title: "Channel", Type: "channel"}, nil
}

func (m *MockBotGateway) VerifyPermissions(ctx context.Context, chatID int64) (*botgateway.Permissions, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InfoErr != nil {
		return nil, m.InfoErr
	}
	if p, ok := m.Permissions[chatID]; ok {
		return p, nil
	}
	return &botgateway.Permissions{IsMember: true, IsAdmin: true, CanPost: true, CanEdit: true, CanDelete: true}, nil
}

// SentTo returns the requests sent to chatID
func (m *MockBotGateway) SentTo(chatID int64) []botgateway.SendRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []botgateway.SendRequest
	for _, r := range m.Sent {
		if r.ChatID == chatID {
			out = append(out, r)
		}
	}
	return out
}

// MockTranslator is a scriptable Translator. Without a scripted result the
// translation is the source text prefixed with the target language.
type MockTranslator struct {
	mu sync.Mutex

	BatchResult map[string]string
	BatchErr    error
	Errors      map[string]error
	BatchCalls  [][]string
	Calls       []translation.TranslateRequest
	// OnCall runs inside every translate call, before the result is returned
	OnCall func()
}

var _ service.Translator = (*MockTranslator)(nil)

func NewMockTranslator() *MockTranslator {
	return &MockTranslator{Errors: make(map[string]error)}
}

// Translated is the text the mock produces for lang
func Translated(lang, text string) string {
	return "[" + strings.ToLower(lang) + "] " + text
}

func (m *MockTranslator) Translate(ctx context.Context, req translation.TranslateRequest) (*translation.Translation, error) {
	m.before()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, req)
	if err := m.Errors[strings.ToLower(req.TargetLanguage)]; err != nil {
		return nil, err
	}
	return &translation.Translation{Text: Translated(req.TargetLanguage, req.Text), TokensUsed: len(req.Text)}, nil
}

func (m *MockTranslator) BatchTranslate(ctx context.Context, text, sourceLanguage string, targetLanguages []string) (map[string]string, error) {
	m.before()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchCalls = append(m.BatchCalls, append([]string(nil), targetLanguages...))
	if m.BatchErr != nil {
		return nil, m.BatchErr
	}
	if m.BatchResult != nil {
		return m.BatchResult, nil
	}
	out := make(map[string]string, len(targetLanguages))
	for _, lang := range targetLanguages {
		out[lang] = Translated(lang, text)
	}
	return out, nil
}

func (m *MockTranslator) before() {
	m.mu.Lock()
	hook := m.OnCall
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
}
