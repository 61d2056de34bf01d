package dashboard

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type NoticeKind string

const (
	NoticeFetch  NoticeKind = "fetch"
	NoticeUpdate NoticeKind = "update"
	NoticeDelete NoticeKind = "delete"
	NoticeUpload NoticeKind = "upload"
	NoticeChat   NoticeKind = "chat"
)

const defaultNoticeCapacity = 50

// Notice is a transient operator notification.
type Notice struct {
	ID      string     `json:"id"`
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
	At      time.Time  `json:"at"`
}

// Notices keeps the most recent notifications in a fixed-size ring.
type Notices struct {
	mu    sync.Mutex
	buf   []Notice
	start int
	count int
	now   func() time.Time
}

func NewNotices(capacity int) *Notices {
	if capacity <= 0 {
		capacity = defaultNoticeCapacity
	}
	return &Notices{buf: make([]Notice, capacity), now: time.Now}
}

// Push records a notice, evicting the oldest when full.
func (n *Notices) Push(kind NoticeKind, message string) Notice {
	if n == nil {
		return Notice{}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	notice := Notice{ID: uuid.NewString(), Kind: kind, Message: message, At: n.now().UTC()}
	idx := (n.start + n.count) % len(n.buf)
	n.buf[idx] = notice
	if n.count < len(n.buf) {
		n.count++
	} else {
		n.start = (n.start + 1) % len(n.buf)
	}
	return notice
}

// Recent returns notices oldest first.
func (n *Notices) Recent() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notice, 0, n.count)
	for i := 0; i < n.count; i++ {
		out = append(out, n.buf[(n.start+i)%len(n.buf)])
	}
	return out
}

// Dismiss removes the notice with id. It reports whether one was removed.
func (n *Notices) Dismiss(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	kept := make([]Notice, 0, n.count)
	removed := false
	for i := 0; i < n.count; i++ {
		item := n.buf[(n.start+i)%len(n.buf)]
		if item.ID == id {
			removed = true
			continue
		}
		kept = append(kept, item)
	}
	if !removed {
		return false
	}
	n.start = 0
	n.count = copy(n.buf, kept)
	return true
}
