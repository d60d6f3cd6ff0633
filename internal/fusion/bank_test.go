package fusion

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBank_PerObjectFilters(t *testing.T) {
	t.Parallel()

	b, err := NewBank(DefaultParams())
	require.NoError(t, err)

	m := lidar(0, 1, 2)
	m.ObjectID = "car-1"
	_, err = b.Process(m)
	require.NoError(t, err)

	_, err = b.Process(radar(0, 5, 0, 0))
	require.NoError(t, err)

	assert.Equal(t, []string{"car-1", DefaultObjectID}, b.Objects())

	est, ok := b.Estimate("car-1")
	require.True(t, ok)
	assert.Equal(t, State{X: 1, Y: 2}, est.State)

	est, ok = b.Estimate("")
	require.True(t, ok)
	assert.InDelta(t, 5, est.State.X, 1e-12)

	_, ok = b.Estimate("missing")
	assert.False(t, ok)

	all := b.Estimates()
	assert.Len(t, all, 2)

	st, ok := b.Stats("car-1")
	require.True(t, ok)
	assert.Equal(t, 1, st.Lidar)

	assert.True(t, b.Remove("car-1"))
	assert.False(t, b.Remove("car-1"))
	assert.Equal(t, []string{DefaultObjectID}, b.Objects())
}

func TestBank_MalformedDoesNotCreateObject(t *testing.T) {
	t.Parallel()

	b, err := NewBank(DefaultParams())
	require.NoError(t, err)

	_, err = b.Process(Measurement{Sensor: SensorLidar, Values: []float64{1}, ObjectID: "x"})
	assert.ErrorIs(t, err, ErrMalformedMeasurement)
	assert.Empty(t, b.Objects())
}

func TestNewBank_InvalidParams(t *testing.T) {
	t.Parallel()

	p := DefaultParams()
	p.Lidar.H = nil
	_, err := NewBank(p)
	assert.ErrorIs(t, err, ErrDimension)
}

func TestBank_ConcurrentProducers(t *testing.T) {
	t.Parallel()

	b, err := NewBank(DefaultParams())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for k := 0; k < 50; k++ {
				m := lidar(int64(k)*50_000, float64(k)*0.1+1, 1)
				m.ObjectID = id
				_, err := b.Process(m)
				assert.NoError(t, err)
				_, _ = b.Estimate(id)
				_ = b.Objects()
			}
		}(fmt.Sprintf("obj-%d", i))
	}
	wg.Wait()

	assert.Len(t, b.Objects(), 8)
	for _, id := range b.Objects() {
		st, ok := b.Stats(id)
		require.True(t, ok)
		assert.Equal(t, 50, st.Processed)
	}
}
