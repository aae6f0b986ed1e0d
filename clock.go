package httpcache

import (
	"time"

	"github.com/sandrolain/httpfilecache/filestore"
)

// Clock is the time source every time-dependent decision in the cache
// consumes, so tests can drive expiration deterministically without
// sleeping real time. It satisfies filestore.Clock.
type Clock = filestore.Clock

// systemClock is the Clock used when none is configured via WithClock.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
