package store

import (
	"database/sql"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"gwi.com/coach-client/internal/logger"
)

// PersistentJar is an http.CookieJar that mirrors every cookie it is handed
// into the cookies table, so the refresh credential outlives the process.
type PersistentJar struct {
	mu    sync.RWMutex
	jar   *cookiejar.Jar
	store *SQLiteStore
}

func NewPersistentJar(s *SQLiteStore) (*PersistentJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	pj := &PersistentJar{jar: jar, store: s}

	saved, err := s.loadCookies()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for _, c := range saved {
		if c.Expires.Valid && c.Expires.Time.Before(now) {
			continue
		}
		u, err := url.Parse(c.Origin)
		if err != nil {
			logger.Logger.Warn("skipping cookie with bad origin", "origin", c.Origin, "err", err)
			continue
		}
		cookie := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires.Valid {
			cookie.Expires = c.Expires.Time
		}
		jar.SetCookies(u, []*http.Cookie{cookie})
	}
	return pj, nil
}

func (j *PersistentJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.jar.Cookies(u)
}

// Clear forgets every cookie, in memory and on disk.
func (j *PersistentJar) Clear() {
	jar, _ := cookiejar.New(nil)
	j.mu.Lock()
	j.jar = jar
	j.mu.Unlock()
	if err := j.store.clearCookies(); err != nil {
		logger.Logger.Warn("failed to clear persisted cookies", "err", err)
	}
}

func (j *PersistentJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.RLock()
	j.jar.SetCookies(u, cookies)
	j.mu.RUnlock()

	origin := u.Scheme + "://" + u.Host
	now := time.Now()
	for _, c := range cookies {
		if c.MaxAge < 0 || (!c.Expires.IsZero() && c.Expires.Before(now)) {
			if err := j.store.deleteCookie(origin, c.Name); err != nil {
				logger.Logger.Warn("failed to forget cookie", "name", c.Name, "err", err)
			}
			continue
		}

		sc := storedCookie{
			Origin:   origin,
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
		switch {
		case c.MaxAge > 0:
			sc.Expires = sql.NullTime{Time: now.Add(time.Duration(c.MaxAge) * time.Second), Valid: true}
		case !c.Expires.IsZero():
			sc.Expires = sql.NullTime{Time: c.Expires, Valid: true}
		}
		if err := j.store.saveCookie(sc); err != nil {
			logger.Logger.Warn("failed to persist cookie", "name", c.Name, "err", err)
		}
	}
}
