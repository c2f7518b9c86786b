package wire

import "golang.org/x/sys/unix"

// FDQueue holds file descriptors received (or queued to send) out of band.
// Descriptors are consumed strictly in the order they arrived, matching
// the fd slots of decoded messages.
type FDQueue struct {
	fds []int
}

func (q *FDQueue) Push(fd int) {
	q.fds = append(q.fds, fd)
}

func (q *FDQueue) Pop() (int, bool) {
	if len(q.fds) == 0 {
		return -1, false
	}
	fd := q.fds[0]
	q.fds = q.fds[1:]
	return fd, true
}

func (q *FDQueue) Len() int {
	return len(q.fds)
}

// Drain closes and drops every queued descriptor. Used on connection
// teardown so undelivered fds do not leak.
func (q *FDQueue) Drain() {
	for _, fd := range q.fds {
		_ = unix.Close(fd)
	}
	q.fds = q.fds[:0]
}
