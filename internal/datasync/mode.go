// Package datasync is the synchronization core: it routes reads and
// writes between the local store and the remote API according to the
// configured consistency mode, keeps the local template copy fresh via
// incremental hash-based sync, and flushes deferred writes in the
// background.
package datasync

import (
	"fmt"
	"strings"
)

// Mode is the configured consistency policy governing where reads and
// writes are routed.
type Mode int

const (
	// OnlineOnly routes everything to the remote API.
	OnlineOnly Mode = iota
	// OfflineOnly routes everything to the local store.
	OfflineOnly
	// OnlineFirst prefers the remote API and falls back to the local
	// store when it is unreachable.
	OnlineFirst
	// OfflineFirst writes locally first and replays to the remote API
	// opportunistically.
	OfflineFirst
)

// ParseMode resolves a configuration string to a Mode.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "online-only", "onlineonly":
		return OnlineOnly, nil
	case "offline-only", "offlineonly":
		return OfflineOnly, nil
	case "online-first", "onlinefirst":
		return OnlineFirst, nil
	case "offline-first", "offlinefirst":
		return OfflineFirst, nil
	}
	return OnlineOnly, fmt.Errorf("unknown sync mode %q", raw)
}

// String renders the canonical configuration form.
func (m Mode) String() string {
	switch m {
	case OnlineOnly:
		return "online-only"
	case OfflineOnly:
		return "offline-only"
	case OnlineFirst:
		return "online-first"
	case OfflineFirst:
		return "offline-first"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// usesPendingQueue reports whether the mode defers writes for later
// replay. Pure modes never touch the pending queue.
func (m Mode) usesPendingQueue() bool {
	return m == OnlineFirst || m == OfflineFirst
}
