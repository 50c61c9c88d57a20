package mocks

import (
	"context"

	"story-narrator/internal/repository"

	"github.com/stretchr/testify/mock"
)

// MockAudioRepository is a mock type for the AudioRepository type
type MockAudioRepository struct {
	mock.Mock
}

// Save provides a mock function with given fields: ctx, audio
func (_m *MockAudioRepository) Save(ctx context.Context, audio []byte) (string, error) {
	ret := _m.Called(ctx, audio)

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context, []byte) string); ok {
		r0 = rf(ctx, audio)
	} else {
		r0 = ret.String(0)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, []byte) error); ok {
		r1 = rf(ctx, audio)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Path provides a mock function with given fields:
func (_m *MockAudioRepository) Path() (string, error) {
	ret := _m.Called()
	return ret.String(0), ret.Error(1)
}

// NewMockAudioRepository creates a new instance of MockAudioRepository and asserts its expectations on cleanup.
func NewMockAudioRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockAudioRepository {
	m := &MockAudioRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ repository.AudioRepository = (*MockAudioRepository)(nil)
