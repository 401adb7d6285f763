package proximity

import (
	"strings"
	"sync"
	"time"

	"github.com/user/pal-beacon/logger"
)

// Verifier ties confirmed SIDs back to the pairing sessions waiting for
// them.
type Verifier struct {
	window    time.Duration
	prefixLen int
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*pending
	order    []string
	lastSeen map[string]time.Time
}

type pending struct {
	sid      string
	verified bool
}

// NewVerifier drops repeats of a SID inside window and matches on the first
// prefixLen characters.
func NewVerifier(window time.Duration, prefixLen int) *Verifier {
	return &Verifier{
		window:    window,
		prefixLen: prefixLen,
		now:       time.Now,
		sessions:  make(map[string]*pending),
		lastSeen:  make(map[string]time.Time),
	}
}

// Expect registers a pairing session that advertises sid.
func (v *Verifier) Expect(sessionID, sid string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.sessions[sessionID]; !ok {
		v.order = append(v.order, sessionID)
	}
	v.sessions[sessionID] = &pending{sid: normalize(sid)}
}

// Forget removes a session.
func (v *Verifier) Forget(sessionID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.sessions, sessionID)
	for i, id := range v.order {
		if id == sessionID {
			v.order = append(v.order[:i], v.order[i+1:]...)
			break
		}
	}
}

// HandleSID marks the first matching session as verified and returns its id.
func (v *Verifier) HandleSID(sid string) (string, bool) {
	sid = normalize(sid)
	if sid == "" {
		return "", false
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	if last, ok := v.lastSeen[sid]; ok && now.Sub(last) < v.window {
		return "", false
	}
	v.pruneSeen(now)
	v.lastSeen[sid] = now

	for _, id := range v.order {
		p := v.sessions[id]
		if p.sid == "" || !v.matches(sid, p.sid) {
			continue
		}
		p.verified = true
		logger.Info(tag, "✅ Proximity verified for session %s (sid=%s)", id, p.sid)
		return id, true
	}
	logger.Warn(tag, "⚠️  No matching session for SID=%s", sid)
	return "", false
}

// pruneSeen forgets SIDs whose dedup window has passed.
func (v *Verifier) pruneSeen(now time.Time) {
	for sid, last := range v.lastSeen {
		if now.Sub(last) >= v.window {
			delete(v.lastSeen, sid)
		}
	}
}

// Verified reports whether sessionID has been seen nearby.
func (v *Verifier) Verified(sessionID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.sessions[sessionID]
	return ok && p.verified
}

// matches allows either SID to be a truncation of the other.
func (v *Verifier) matches(seen, expected string) bool {
	return strings.HasPrefix(seen, head(expected, v.prefixLen)) ||
		strings.HasPrefix(expected, head(seen, v.prefixLen))
}

func head(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}

func normalize(sid string) string {
	return strings.ToLower(strings.TrimSpace(sid))
}
