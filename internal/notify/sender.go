package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"sync"

	"github.com/google/uuid"

	"github.com/retail-insights/backend/internal/storage/models"
)

// SMTPSender is a thin transport over a relay host. Anything beyond the
// send contract (auth, TLS negotiation, provider APIs) is deliberately
// out of scope.
type SMTPSender struct {
	addr string
	from string
}

func NewSMTPSender(host string, port int, from string) *SMTPSender {
	return &SMTPSender{addr: fmt.Sprintf("%s:%d", host, port), from: from}
}

func (s *SMTPSender) Send(ctx context.Context, recipient, subject, body string) (string, error) {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", s.from, recipient, subject, body)
	if err := smtp.SendMail(s.addr, nil, s.from, []string{recipient}, []byte(msg)); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}
	return uuid.New().String(), nil
}

// MemoryStore is the in-process ResultStore used when redis is disabled
// and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	results map[string]*models.DeliveryResult
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{results: make(map[string]*models.DeliveryResult)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) (*models.DeliveryResult, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result, ok := m.results[key]
	return result, ok, nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, result *models.DeliveryResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[key] = result
	return nil
}
