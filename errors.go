package httpcache

import "github.com/sandrolain/httpfilecache/cache"

// InvalidArgumentError is returned when RefreshResponse304-style operations
// are called with a response that is not actually a 304.
type InvalidArgumentError = cache.InvalidArgumentError
