package relay

import (
	"fmt"
	"sync"
	"time"
)

// orderKeys issues inbox keys that sort in send order: a zero-padded
// nanosecond counter that never goes backwards, then the message id.
type orderKeys struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

func (o *orderKeys) next(id string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := o.now().UnixNano()
	if n <= o.last {
		n = o.last + 1
	}
	o.last = n
	return fmt.Sprintf("%020d-%s", n, id)
}
