package wsline

import (
	"net"
	"sync"
	"testing"

	"github.com/oesand/wsline/mock"
)

func TestRegistry_AddRemove(t *testing.T) {
	registry := NewRegistry()
	first, _ := openSession(t, mock.DefaultConn().RemoteIP(net.IPv4(10, 0, 0, 1), 5000))
	second, _ := openSession(t, mock.DefaultConn().RemoteIP(net.IPv4(10, 0, 0, 2), 5000))
	same, _ := openSession(t, mock.DefaultConn().RemoteIP(net.IPv4(10, 0, 0, 1), 5000))

	if !registry.Add(first) || !registry.Add(second) {
		t.Fatal("distinct addresses must be added")
	}
	if registry.Add(same) {
		t.Error("duplicate address must be refused")
	}
	if registry.Len() != 2 {
		t.Errorf("len %d", registry.Len())
	}

	if got, ok := registry.Get("10.0.0.1:5000"); !ok || got != first {
		t.Error("lookup by address failed")
	}
	registry.Remove("10.0.0.1:5000")
	if registry.Contains("10.0.0.1:5000") || registry.Len() != 1 {
		t.Error("session was not removed")
	}
	registry.Remove("10.0.0.1:5000")
}

func TestRegistry_RangeStops(t *testing.T) {
	registry := NewRegistry()
	for i := 1; i <= 3; i++ {
		session, _ := openSession(t, mock.DefaultConn().RemoteIP(net.IPv4(10, 0, 0, byte(i)), 80))
		registry.Add(session)
	}

	var visited int
	registry.Range(func(session *Session) bool {
		visited++
		// removing during iteration must not deadlock
		registry.Remove(session.Addr())
		return visited < 2
	})
	if visited != 2 {
		t.Errorf("visited %d sessions", visited)
	}
	if registry.Len() != 1 {
		t.Errorf("len %d", registry.Len())
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	registry := NewRegistry()
	sessions := make([]*Session, 32)
	for i := range sessions {
		sessions[i], _ = openSession(t, mock.DefaultConn().RemoteIP(net.IPv4(10, 0, 1, byte(i)), 9000))
	}

	var wg sync.WaitGroup
	for _, session := range sessions {
		wg.Add(2)
		go func() {
			defer wg.Done()
			registry.Add(session)
		}()
		go func() {
			defer wg.Done()
			registry.Range(func(*Session) bool { return true })
			registry.Len()
		}()
	}
	wg.Wait()

	if registry.Len() != len(sessions) {
		t.Fatalf("len %d, want %d", registry.Len(), len(sessions))
	}

	for _, session := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			registry.Remove(session.Addr())
		}()
	}
	wg.Wait()

	if registry.Len() != 0 {
		t.Errorf("len %d after removing all", registry.Len())
	}
}
