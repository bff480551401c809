package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	sharesync "github.com/steveoberholzer/ShareSync"
	"github.com/steveoberholzer/ShareSync/message"
)

// Compile-time interface check.
var _ Transport = (*Memory)(nil)

// Memory is a fully in-process Transport for unit testing and
// development. It preserves the broker contract: priority-ordered
// best-effort delivery, manual-ack semantics (a handler error forwards
// the message to the dead-letter queue), and explicit dead-letter
// publishing.
type Memory struct {
	mu       sync.Mutex
	declared bool
	queues   map[string]*memQueue
	dead     []*message.Envelope
	deadRaw  [][]byte
	seq      uint64

	closeCh chan struct{}
	closed  bool
	wg      sync.WaitGroup
}

type memMsg struct {
	body     []byte
	priority int
	seq      uint64
}

type memQueue struct {
	messages []memMsg
	signal   chan struct{}
}

// NewMemory creates an empty in-process transport.
func NewMemory() *Memory {
	return &Memory{
		queues:  make(map[string]*memQueue),
		closeCh: make(chan struct{}),
	}
}

// DeclareTopology creates every operation queue and the dead-letter
// queue.
func (m *Memory) DeclareTopology(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return sharesync.ErrNotConnected
	}
	for _, q := range append(message.OperationQueues(), message.QueueDeadLetter) {
		if _, ok := m.queues[q]; !ok {
			m.queues[q] = &memQueue{signal: make(chan struct{}, 1)}
		}
	}
	m.declared = true
	return nil
}

// Publish enqueues the envelope, keeping the queue ordered by priority
// then arrival.
func (m *Memory) Publish(_ context.Context, queue string, env *message.Envelope, priority int) error {
	body, err := message.Encode(env)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return sharesync.ErrNotConnected
	}
	q, ok := m.queues[queue]
	if !ok {
		return fmt.Errorf("broker: publish to undeclared queue %q: %w", queue, sharesync.ErrNotConnected)
	}

	m.seq++
	q.messages = append(q.messages, memMsg{body: body, priority: clampPriority(priority), seq: m.seq})
	sort.SliceStable(q.messages, func(i, j int) bool {
		if q.messages[i].priority != q.messages[j].priority {
			return q.messages[i].priority > q.messages[j].priority
		}
		return q.messages[i].seq < q.messages[j].seq
	})

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Inject enqueues raw bytes without encoding, bypassing envelope
// validation. It exists so tests can exercise the undecodable-message
// path.
func (m *Memory) Inject(queue string, body []byte, priority int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[queue]
	if !ok {
		return fmt.Errorf("broker: inject into undeclared queue %q: %w", queue, sharesync.ErrNotConnected)
	}
	m.seq++
	q.messages = append(q.messages, memMsg{body: body, priority: clampPriority(priority), seq: m.seq})
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// PublishToDeadLetter records the envelope on the dead-letter queue.
func (m *Memory) PublishToDeadLetter(_ context.Context, env *message.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return sharesync.ErrNotConnected
	}
	cp := *env
	m.dead = append(m.dead, &cp)
	return nil
}

// Subscribe starts a consumer goroutine for the named queue.
func (m *Memory) Subscribe(ctx context.Context, queue string, h HandleFunc) error {
	m.mu.Lock()
	q, ok := m.queues[queue]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("broker: subscribe to undeclared queue %q: %w", queue, sharesync.ErrNotConnected)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			msg, ok := m.pop(q)
			if !ok {
				select {
				case <-ctx.Done():
					return
				case <-m.closeCh:
					return
				case <-q.signal:
					continue
				}
			}
			m.deliver(ctx, msg, h)
		}
	}()
	return nil
}

func (m *Memory) pop(q *memQueue) (memMsg, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(q.messages) == 0 {
		return memMsg{}, false
	}
	msg := q.messages[0]
	q.messages = q.messages[1:]
	return msg, true
}

// deliver mirrors the manual-ack contract: decode failures and handler
// errors (including panics) forward the message to dead-letter.
func (m *Memory) deliver(ctx context.Context, msg memMsg, h HandleFunc) {
	env, err := message.Decode(msg.body)
	if err != nil {
		m.mu.Lock()
		m.deadRaw = append(m.deadRaw, msg.body)
		m.mu.Unlock()
		return
	}
	if err := m.invoke(ctx, env, h); err != nil {
		m.mu.Lock()
		cp := *env
		m.dead = append(m.dead, &cp)
		m.mu.Unlock()
	}
}

func (m *Memory) invoke(ctx context.Context, env *message.Envelope, h HandleFunc) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("broker: consumer panic: %v", rec)
		}
	}()
	return h(ctx, env)
}

// DeadLetters returns a copy of the dead-letter queue contents.
func (m *Memory) DeadLetters() []*message.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*message.Envelope, len(m.dead))
	copy(out, m.dead)
	return out
}

// RawDeadLetters returns the bodies of undecodable rejected messages.
func (m *Memory) RawDeadLetters() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.deadRaw))
	copy(out, m.deadRaw)
	return out
}

// Depth returns the number of pending messages on a queue.
func (m *Memory) Depth(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[queue]; ok {
		return len(q.messages)
	}
	return 0
}

// Close stops delivery and waits for consumer goroutines to finish
// their in-flight work.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.closeCh)
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}
