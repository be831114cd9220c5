package keylock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockSerialisesSameKey(t *testing.T) {
	var m Map
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("loan-1")
			defer unlock()
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()
	require.Equal(t, 50, counter)
}

func TestEntriesAreReleased(t *testing.T) {
	var m Map
	for i := 0; i < 100; i++ {
		unlock := m.Lock(string(rune('a' + i%26)))
		unlock()
	}
	require.Zero(t, m.Len())

	unlockA := m.Lock("a")
	unlockB := m.Lock("b")
	require.Equal(t, 2, m.Len())
	unlockA()
	unlockB()
	require.Zero(t, m.Len())
}
