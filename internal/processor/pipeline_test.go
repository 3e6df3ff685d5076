package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubDiscoverer struct {
	dim   int
	err   error
	calls int
}

func (s *stubDiscoverer) DiscoverDimensions(context.Context) (int, error) {
	s.calls++
	return s.dim, s.err
}

func TestDiscoverDimensions(t *testing.T) {
	configured := &stubDiscoverer{dim: 768}
	assert.Equal(t, 1024, discoverDimensions(context.Background(), configured, 1024))
	assert.Equal(t, 0, configured.calls, "已配置维度时不调用接口")

	unset := &stubDiscoverer{dim: 768}
	assert.Equal(t, 768, discoverDimensions(context.Background(), unset, 0))
	assert.Equal(t, 1, unset.calls)

	down := &stubDiscoverer{err: errors.New("connection refused")}
	assert.Equal(t, 0, discoverDimensions(context.Background(), down, 0), "失败时不阻止启动")
	assert.Equal(t, 1, down.calls)
}
