package mocks

import (
	"context"

	"story-narrator/internal/model"

	"github.com/stretchr/testify/mock"
)

// MockStoryRunner is a mock type for the api.StoryRunner type
type MockStoryRunner struct {
	mock.Mock
}

// Handle provides a mock function with given fields: ctx, prompt
func (_m *MockStoryRunner) Handle(ctx context.Context, prompt string) model.Result {
	ret := _m.Called(ctx, prompt)

	if rf, ok := ret.Get(0).(func(context.Context, string) model.Result); ok {
		return rf(ctx, prompt)
	}
	return ret.Get(0).(model.Result)
}

// NewMockStoryRunner creates a new instance of MockStoryRunner and asserts its expectations on cleanup.
func NewMockStoryRunner(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockStoryRunner {
	m := &MockStoryRunner{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}
