package command

import "time"

// queued wraps a command with its dispatch eligibility time. Commands
// re-enqueued for retry carry a future readyAt from the backoff.
type queued struct {
	cmd     *Command
	readyAt time.Time
}

// deviceQueue orders pending commands for one device: priority
// descending, then creation time ascending within a priority.
//
// Not safe for concurrent use; the engine guards all queues with one
// mutex alongside the in-flight markers.
type deviceQueue struct {
	items []queued
}

func newDeviceQueue() *deviceQueue {
	return &deviceQueue{}
}

// push inserts in order. Equal-priority commands keep FIFO order by
// CreatedAt, so insertion scans from the back.
func (q *deviceQueue) push(item queued) {
	idx := len(q.items)
	for idx > 0 {
		prev := q.items[idx-1]
		if prev.cmd.Priority > item.cmd.Priority {
			break
		}
		if prev.cmd.Priority == item.cmd.Priority && !prev.cmd.CreatedAt.After(item.cmd.CreatedAt) {
			break
		}
		idx--
	}
	q.items = append(q.items, queued{})
	copy(q.items[idx+1:], q.items[idx:])
	q.items[idx] = item
}

// peek returns the head without removing it.
func (q *deviceQueue) peek() (queued, bool) {
	if len(q.items) == 0 {
		return queued{}, false
	}
	return q.items[0], true
}

// pop removes and returns the head.
func (q *deviceQueue) pop() (queued, bool) {
	if len(q.items) == 0 {
		return queued{}, false
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head, true
}

// remove deletes a command by ID. Returns the removed command, or nil.
func (q *deviceQueue) remove(id string) *Command {
	for i, item := range q.items {
		if item.cmd.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return item.cmd
		}
	}
	return nil
}

// len returns the number of queued commands.
func (q *deviceQueue) len() int {
	return len(q.items)
}
