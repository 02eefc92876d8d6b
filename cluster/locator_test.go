package cluster

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigmod/ns-server/errors"
)

type fakeTopology struct {
	local map[string]bool
}

func (f fakeTopology) IsServiceLocal(name string) bool { return f.local[name] }

type fakeConfig struct {
	ints map[string]int
}

func (f fakeConfig) GetInt(key string) (int, bool) {
	v, ok := f.ints[key]
	return v, ok
}

func TestResolveLocalService(t *testing.T) {
	locator := NewLocator(
		fakeTopology{local: map[string]bool{"n1ql": true}},
		fakeConfig{ints: map[string]int{"rest.query.port": 9499}},
		nil, "")

	ep, err := locator.Resolve("n1ql")
	require.NoError(t, err)
	assert.Equal(t, Endpoint{Host: "127.0.0.1", Port: 9499}, ep)
	assert.Equal(t, "127.0.0.1:9499", ep.Addr())
}

func TestResolveUsesConfiguredLocalHost(t *testing.T) {
	locator := NewLocator(
		fakeTopology{local: map[string]bool{"fts": true}},
		fakeConfig{ints: map[string]int{"rest.fts.port": 8094}},
		nil, "10.0.0.7")

	ep, err := locator.Resolve("fts")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7", ep.Host)
}

func TestResolveNotScheduledLocally(t *testing.T) {
	locator := NewLocator(
		fakeTopology{local: map[string]bool{}},
		fakeConfig{ints: map[string]int{"rest.query.port": 9499}},
		nil, "")

	_, err := locator.Resolve("n1ql")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrServiceNotRunning))
	assert.True(t, errors.IsNotFound(err))
}

func TestResolveMissingPortConfigFailsLoudly(t *testing.T) {
	locator := NewLocator(
		fakeTopology{local: map[string]bool{"n1ql": true}},
		fakeConfig{ints: map[string]int{}},
		nil, "")

	_, err := locator.Resolve("n1ql")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMissingPortConfig))
	assert.True(t, errors.IsFatal(err))
}

func TestResolveUnknownServiceHasNoPortKey(t *testing.T) {
	locator := NewLocator(
		fakeTopology{local: map[string]bool{"mystery": true}},
		fakeConfig{ints: map[string]int{}},
		nil, "")

	_, err := locator.Resolve("mystery")
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestConfigRevisionAdvance(t *testing.T) {
	rev := NewConfigRevision()
	require.Equal(t, uint64(1), rev.Current())

	var fired int
	rev.OnAdvance(func() { fired++ })

	assert.Equal(t, uint64(2), rev.Advance())
	assert.Equal(t, uint64(2), rev.Current())
	assert.Equal(t, 1, fired)
}

func TestConfigRevisionConcurrentAdvance(t *testing.T) {
	rev := NewConfigRevision()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rev.Advance()
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(51), rev.Current())
}
