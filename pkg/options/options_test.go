package options

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryBackend struct {
	values map[string][]byte
	writes []string
}

func (m *memoryBackend) GetOption(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memoryBackend) SetOption(_ context.Context, key string, value []byte) error {
	if m.values == nil {
		m.values = map[string][]byte{}
	}
	m.values[key] = value
	m.writes = append(m.writes, key)
	return nil
}

func TestOptions_Defaults(t *testing.T) {
	o := New(nil, nil)

	assert.Equal(t, 25.0, o.Float(KeyFPS))
	assert.Equal(t, 1, o.Int(KeySkip))
	assert.Equal(t, "count", o.String(KeyBufferMode))
	assert.False(t, o.IsSet(KeyFPS))
	assert.NotEmpty(t, o.StringList(KeyTimestampFormats))
}

func TestOptions_SetPersistsBeforeNotify(t *testing.T) {
	backend := &memoryBackend{}
	o := New(backend, nil)

	var notified []string
	o.Subscribe(func(key string) {
		notified = append(notified, key)
		assert.Contains(t, backend.values, key)
	})

	require.NoError(t, o.Set(context.Background(), KeySkip, 3))
	assert.Equal(t, 3, o.Int(KeySkip))
	assert.Equal(t, []string{KeySkip}, notified)
	assert.JSONEq(t, "3", string(backend.values[KeySkip]))
}

func TestOptions_Validation(t *testing.T) {
	o := New(&memoryBackend{}, nil)
	ctx := context.Background()

	assert.ErrorIs(t, o.Set(ctx, KeySkip, 0), ErrInvalidValue)
	assert.ErrorIs(t, o.Set(ctx, KeyMaskOpacity, 1.5), ErrInvalidValue)
	assert.ErrorIs(t, o.Set(ctx, KeyBufferMode, "disk"), ErrInvalidValue)
	assert.ErrorIs(t, o.Set(ctx, KeyRotation, 45), ErrInvalidValue)
	assert.ErrorIs(t, o.Set(ctx, KeySkip, "two"), ErrInvalidValue)
	assert.ErrorIs(t, o.Set(ctx, "missing", 1), ErrUnknownOption)

	require.NoError(t, o.Set(ctx, KeyRotation, 90))
	require.NoError(t, o.Set(ctx, KeyFPS, 30))
	assert.Equal(t, 30.0, o.Float(KeyFPS))
}

func TestOptions_LoadRoundTrip(t *testing.T) {
	backend := &memoryBackend{}
	ctx := context.Background()

	o := New(backend, nil)
	require.NoError(t, o.Set(ctx, KeyContrast, map[string][]float64{"1": {1, 255, 0, 90, 1}}))
	require.NoError(t, o.Set(ctx, KeyTimestampFormats, []string{`(?P<timestamp>%Y)`}))

	reloaded := New(backend, nil)
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, map[string][]float64{"1": {1, 255, 0, 90, 1}}, reloaded.FloatMap(KeyContrast))
	assert.Equal(t, []string{`(?P<timestamp>%Y)`}, reloaded.StringList(KeyTimestampFormats))
}

func TestParseArgs(t *testing.T) {
	overrides, rest := ParseArgs([]string{"-fps=25", "-play_start=0.1", "--config=x.yml", "-unknown=1", "data/"})

	assert.Equal(t, map[string]string{"fps": "25", "play_start": "0.1"}, overrides)
	assert.Equal(t, []string{"--config=x.yml", "-unknown=1", "data/"}, rest)

	o := New(&memoryBackend{}, nil)
	require.NoError(t, o.Apply(context.Background(), overrides))
	assert.Equal(t, 25.0, o.Float(KeyFPS))
	assert.Equal(t, 0.1, o.Float(KeyPlayStart))

	assert.Error(t, o.Apply(context.Background(), map[string]string{"skip": "x"}))
}
