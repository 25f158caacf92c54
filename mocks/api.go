package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// APIClient mocks api.Client for tests that exercise internal/configmanager
// or legacyevent without making real HTTP calls.
type APIClient struct {
	mock.Mock
}

func (c *APIClient) FetchDatafile(ctx context.Context, url, ifModifiedSince string) ([]byte, int, string, error) {
	call := c.Called(ctx, url, ifModifiedSince)
	var body []byte
	if b, ok := call.Get(0).([]byte); ok {
		body = b
	}
	return body, call.Int(1), call.String(2), call.Error(3)
}

func (c *APIClient) ReportEvents(ctx context.Context, events []byte) error {
	return c.Called(ctx, events).Error(0)
}
