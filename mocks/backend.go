// Package mocks provides testify mocks for the watchit interfaces.
package mocks

import (
	"time"

	"github.com/ciresnave/watchit"
	"github.com/stretchr/testify/mock"
)

// MockBackend is a mock implementation of watchit.Backend.
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Register(path string, scope watchit.Scope) (watchit.WatchHandle, error) {
	args := m.Called(path, scope)
	handle, _ := args.Get(0).(watchit.WatchHandle)
	return handle, args.Error(1)
}

func (m *MockBackend) Unregister(handle watchit.WatchHandle) error {
	args := m.Called(handle)
	return args.Error(0)
}

func (m *MockBackend) NextEvents(timeout time.Duration) ([]watchit.RawEvent, error) {
	args := m.Called(timeout)
	events, _ := args.Get(0).([]watchit.RawEvent)
	return events, args.Error(1)
}

func (m *MockBackend) Close() error {
	args := m.Called()
	return args.Error(0)
}
