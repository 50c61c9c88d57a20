package mocks

import (
	"context"

	"story-narrator/internal/service"

	"github.com/stretchr/testify/mock"
)

// MockSynthesizer is a mock type for the Synthesizer type
type MockSynthesizer struct {
	mock.Mock
}

// Synthesize provides a mock function with given fields: ctx, text, lang
func (_m *MockSynthesizer) Synthesize(ctx context.Context, text string, lang string) ([]byte, error) {
	ret := _m.Called(ctx, text, lang)

	var r0 []byte
	if rf, ok := ret.Get(0).(func(context.Context, string, string) []byte); ok {
		r0 = rf(ctx, text, lang)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).([]byte)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string, string) error); ok {
		r1 = rf(ctx, text, lang)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockSynthesizer creates a new instance of MockSynthesizer and asserts its expectations on cleanup.
func NewMockSynthesizer(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockSynthesizer {
	m := &MockSynthesizer{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ service.Synthesizer = (*MockSynthesizer)(nil)
