package transport

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
)

// memoryJar is the default jar: a cookiejar.Jar that can be emptied.
type memoryJar struct {
	mu  sync.RWMutex
	jar *cookiejar.Jar
}

func newMemoryJar() (*memoryJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &memoryJar{jar: jar}, nil
}

func (m *memoryJar) Cookies(u *url.URL) []*http.Cookie {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jar.Cookies(u)
}

func (m *memoryJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.jar.SetCookies(u, cookies)
}

func (m *memoryJar) Clear() {
	jar, _ := cookiejar.New(nil)
	m.mu.Lock()
	m.jar = jar
	m.mu.Unlock()
}
