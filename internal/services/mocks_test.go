package services

import (
	"sync/atomic"

	"github.com/benmeehan/ota-supervisor/pkg/agentbus"
	"github.com/stretchr/testify/mock"
)

// MockAgentClient is a testify mock of the agent's D-Bus surface with a
// controllable change stream.
type MockAgentClient struct {
	mock.Mock
	changes chan agentbus.ConsentChange
}

func NewMockAgentClient() *MockAgentClient {
	return &MockAgentClient{changes: make(chan agentbus.ConsentChange, 8)}
}

func (m *MockAgentClient) Connect() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockAgentClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockAgentClient) GetStatus() (int32, string, error) {
	args := m.Called()
	return args.Get(0).(int32), args.String(1), args.Error(2)
}

func (m *MockAgentClient) SetMode(value int32) error {
	args := m.Called(value)
	return args.Error(0)
}

func (m *MockAgentClient) CheckForUpdates() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockAgentClient) Consent(granted bool, reason string) error {
	args := m.Called(granted, reason)
	return args.Error(0)
}

func (m *MockAgentClient) Cancel() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockAgentClient) Changes() <-chan agentbus.ConsentChange {
	return m.changes
}

// PushChange simulates a PropertiesChanged notification from the agent.
func (m *MockAgentClient) PushChange(payload string) {
	m.changes <- agentbus.ConsentChange{Payload: payload}
}

// stubRebooter counts reboot requests and returns a fixed outcome.
type stubRebooter struct {
	err   error
	calls atomic.Int32
}

func (s *stubRebooter) Reboot() error {
	s.calls.Add(1)
	return s.err
}
