package state

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsToActive(t *testing.T) {
	s := New(ModeActive)
	m, err := s.Mode()
	require.NoError(t, err)
	assert.Equal(t, ModeActive, m)
	assert.False(t, s.ShouldExit())

	s = New(OperationMode(42))
	m, err = s.Mode()
	require.NoError(t, err)
	assert.Equal(t, ModeActive, m, "invalid initial mode falls back to active")
}

func TestSetMode(t *testing.T) {
	s := New(ModeActive)
	require.NoError(t, s.SetMode(ModePassthrough))

	m, err := s.Mode()
	require.NoError(t, err)
	assert.Equal(t, ModePassthrough, m)

	err = s.SetMode(OperationMode(7))
	assert.ErrorIs(t, err, ErrPoisoned)
	m, _ = s.Mode()
	assert.Equal(t, ModePassthrough, m, "rejected write leaves mode unchanged")
}

func TestToggle(t *testing.T) {
	s := New(ModeActive)

	m, err := s.Toggle()
	require.NoError(t, err)
	assert.Equal(t, ModePassthrough, m)

	m, err = s.Toggle()
	require.NoError(t, err)
	assert.Equal(t, ModeActive, m)
}

func TestToggle_Concurrent(t *testing.T) {
	s := New(ModeActive)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Toggle()
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	m, err := s.Mode()
	require.NoError(t, err)
	assert.Equal(t, ModeActive, m, "an even number of toggles returns to the start")
}

func TestPoisonedMode(t *testing.T) {
	s := New(ModeActive)
	s.mode.Store(0xdead)

	_, err := s.Mode()
	assert.ErrorIs(t, err, ErrPoisoned)

	_, err = s.Toggle()
	assert.ErrorIs(t, err, ErrPoisoned)
}

func TestOnChange(t *testing.T) {
	s := New(ModeActive)

	var got []OperationMode
	s.OnChange(func(m OperationMode) { got = append(got, m) })

	require.NoError(t, s.SetMode(ModeActive))
	require.NoError(t, s.SetMode(ModePassthrough))
	_, err := s.Toggle()
	require.NoError(t, err)

	assert.Equal(t, []OperationMode{ModePassthrough, ModeActive}, got)
}

func TestRequestExit(t *testing.T) {
	s := New(ModeActive)

	select {
	case <-s.Done():
		t.Fatal("done closed before exit requested")
	default:
	}

	s.RequestExit()
	s.RequestExit()
	assert.True(t, s.ShouldExit())

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed")
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    OperationMode
		wantErr bool
	}{
		{"active", ModeActive, false},
		{"ACTIVE", ModeActive, false},
		{"", ModeActive, false},
		{"passthrough", ModePassthrough, false},
		{"paused", ModePassthrough, false},
		{"sideways", ModeActive, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestSharedImplementsModeSource(t *testing.T) {
	var _ ModeSource = New(ModeActive)
}
