// Package bus implements the message bus (§4.2): typed inter-agent messages
// with a global history, per-agent pending queues, topic pub/sub, and a
// priority queue. Locking follows the teacher's runtime/agent/hooks.Bus: a
// single mutex guards the shared maps/slices, a snapshot of subscribers is
// taken under the lock, and callbacks run after the lock is released.
package bus

import (
	"container/heap"
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"goa.design/convergio/internal/telemetry"
)

// MessageType enumerates the kinds of messages exchanged between agents.
type MessageType string

const (
	TypeUserInput     MessageType = "user_input"
	TypeAgentThought  MessageType = "agent_thought"
	TypeAgentAction   MessageType = "agent_action"
	TypeAgentResponse MessageType = "agent_response"
	TypeTaskDelegate  MessageType = "task_delegate"
	TypeTaskReport    MessageType = "task_report"
	TypeConvergence   MessageType = "convergence"
	TypeError         MessageType = "error"
)

// BroadcastRecipient is the sentinel recipient id meaning "broadcast to every
// active agent except the sender."
const BroadcastRecipient uint64 = 0

// Message is a single bus message. ParentID is nil for a root message; a
// thread is the transitive closure over ParentID (§3 Message invariant).
type Message struct {
	ID         uint64
	Type       MessageType
	Sender     uint64
	Recipient  uint64
	Content    string
	Metadata   json.RawMessage
	ParentID   *uint64
	TokensUsed int
	Timestamp  time.Time
}

// ActiveAgentsFunc returns the set of currently active agent ids, used to
// resolve broadcast sends. Injected rather than imported from the registry
// package to keep the bus independently testable (§9 "engine context over
// hidden globals").
type ActiveAgentsFunc func() []uint64

// TopicHandler reacts to a message published on a subscribed topic.
type TopicHandler func(ctx context.Context, msg Message)

// Subscription represents an active topic registration; Close removes it.
// Idempotent and thread-safe, mirroring the teacher's hooks.Subscription.
type Subscription interface {
	Close()
}

type topicSubscription struct {
	bus     *Bus
	topic   string
	once    sync.Once
}

func (s *topicSubscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.topics[s.topic], s)
		s.bus.mu.Unlock()
	})
}

// Bus is the in-memory message bus. Zero value is not usable; construct with
// New.
type Bus struct {
	mu sync.Mutex

	nextID    uint64
	history   []Message // newest-first
	pending   map[uint64][]Message
	byParent  map[uint64][]uint64 // parentID -> child message IDs, for GetThread
	byID      map[uint64]Message

	topics map[string]map[*topicSubscription]TopicHandler

	pq         priorityQueue
	nextPQSeq  uint64

	active ActiveAgentsFunc
	logger telemetry.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithActiveAgents supplies the active-agent resolver used for broadcast
// fan-out and to check the recipient of a direct message.
func WithActiveAgents(f ActiveAgentsFunc) Option {
	return func(b *Bus) { b.active = f }
}

// WithLogger attaches a logger used to record silent drops.
func WithLogger(l telemetry.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// New constructs an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		pending:  make(map[uint64][]Message),
		byParent: make(map[uint64][]uint64),
		byID:     make(map[uint64]Message),
		topics:   make(map[string]map[*topicSubscription]TopicHandler),
		logger:   telemetry.Noop().Logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Create builds a Message and assigns it an id and timestamp without
// delivering it. Send performs Create followed by delivery; Create alone is
// useful when callers need the id before enqueuing (e.g. to set ParentID on
// a subsequent reply).
func (b *Bus) Create(typ MessageType, sender, recipient uint64, content string, metadata json.RawMessage, parentID *uint64) Message {
	b.mu.Lock()
	b.nextID++
	msg := Message{
		ID:        b.nextID,
		Type:      typ,
		Sender:    sender,
		Recipient: recipient,
		Content:   content,
		Metadata:  metadata,
		ParentID:  parentID,
		Timestamp: time.Now(),
	}
	b.mu.Unlock()
	return msg
}

// Send creates and delivers a message: direct (recipient != 0, enqueued on
// that agent's pending queue) or broadcast (recipient == 0, a distinct copy
// enqueued for every active agent except the sender). With an active-agent
// resolver set, a direct message to an agent it does not list is dropped
// and logged. The message is always appended to the global history
// regardless of delivery outcome.
func (b *Bus) Send(ctx context.Context, typ MessageType, sender, recipient uint64, content string, metadata json.RawMessage, parentID *uint64) Message {
	msg := b.Create(typ, sender, recipient, content, metadata, parentID)
	b.deliver(ctx, msg)
	return msg
}

// SendAsync assigns the message id and timestamp before returning, then
// delivers on a new goroutine without blocking the caller. Each call
// delivers on its own goroutine, so the order in which several SendAsync
// messages reach history and pending queues is not defined; ids still
// follow call order.
func (b *Bus) SendAsync(ctx context.Context, typ MessageType, sender, recipient uint64, content string, metadata json.RawMessage, parentID *uint64) Message {
	msg := b.Create(typ, sender, recipient, content, metadata, parentID)
	go b.deliver(ctx, msg)
	return msg
}

// Reply sends a message addressed back to the sender of the given parent
// message, with ParentID set to link the thread.
func (b *Bus) Reply(ctx context.Context, parentID uint64, typ MessageType, sender uint64, content string, metadata json.RawMessage) (Message, bool) {
	b.mu.Lock()
	parent, ok := b.byID[parentID]
	b.mu.Unlock()
	if !ok {
		return Message{}, false
	}
	pid := parentID
	return b.Send(ctx, typ, sender, parent.Sender, content, metadata, &pid), true
}

func (b *Bus) deliver(ctx context.Context, msg Message) {
	b.mu.Lock()
	b.history = append([]Message{msg}, b.history...)
	b.byID[msg.ID] = msg
	if msg.ParentID != nil {
		b.byParent[*msg.ParentID] = append(b.byParent[*msg.ParentID], msg.ID)
	}

	var targets []uint64
	if msg.Recipient == BroadcastRecipient {
		if b.active != nil {
			for _, id := range b.active() {
				if id != msg.Sender {
					targets = append(targets, id)
				}
			}
		}
	} else if b.active == nil {
		targets = []uint64{msg.Recipient}
	} else {
		for _, id := range b.active() {
			if id == msg.Recipient {
				targets = []uint64{msg.Recipient}
				break
			}
		}
	}
	for _, id := range targets {
		b.pending[id] = append(b.pending[id], msg)
	}
	logger := b.logger
	b.mu.Unlock()

	if msg.Recipient != BroadcastRecipient && len(targets) == 0 && logger != nil {
		logger.Warn(ctx, "bus: message recipient does not resolve, dropping",
			"message_id", msg.ID, "recipient", msg.Recipient)
	}
}

// GetPending drains and returns the agent's FIFO pending queue.
func (b *Bus) GetPending(agentID uint64) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.pending[agentID]
	delete(b.pending, agentID)
	return msgs
}

// GetHistory returns up to limit most recent messages, newest-first. limit
// of 0 returns the full history.
func (b *Bus) GetHistory(limit int) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit >= len(b.history) {
		out := make([]Message, len(b.history))
		copy(out, b.history)
		return out
	}
	out := make([]Message, limit)
	copy(out, b.history[:limit])
	return out
}

// GetByType returns all history messages of the given type, newest-first.
func (b *Bus) GetByType(typ MessageType) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Message
	for _, m := range b.history {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// GetThread walks to the root of id's parent chain and returns every message
// sharing that root, in ascending id (chronological) order.
func (b *Bus) GetThread(id uint64) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	root, ok := b.byID[id]
	if !ok {
		return nil
	}
	for root.ParentID != nil {
		parent, ok := b.byID[*root.ParentID]
		if !ok {
			break
		}
		root = parent
	}

	seen := map[uint64]bool{root.ID: true}
	queue := []uint64{root.ID}
	var ids []uint64
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		ids = append(ids, cur)
		for _, childID := range b.byParent[cur] {
			if !seen[childID] {
				seen[childID] = true
				queue = append(queue, childID)
			}
		}
	}

	out := make([]Message, 0, len(ids))
	for _, msgID := range ids {
		out = append(out, b.byID[msgID])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Subscribe registers handler to receive messages published on topic.
// Returns an error-free Subscription; Close unsubscribes.
func (b *Bus) Subscribe(topic string, handler TopicHandler) Subscription {
	sub := &topicSubscription{bus: b, topic: topic}
	b.mu.Lock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*topicSubscription]TopicHandler)
	}
	b.topics[topic][sub] = handler
	b.mu.Unlock()
	return sub
}

// Publish delivers msg to every subscriber of topic. Handlers are invoked
// outside the bus lock, preventing a slow or reentrant handler from
// deadlocking the bus (§5 "Callbacks ... are always invoked outside the
// respective component's lock").
func (b *Bus) Publish(ctx context.Context, topic string, msg Message) {
	b.mu.Lock()
	subs := b.topics[topic]
	handlers := make([]TopicHandler, 0, len(subs))
	for _, h := range subs {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(ctx, msg)
	}
}

// pqItem is an entry in the priority queue: higher Priority sorts first;
// ties break FIFO by Seq (the Open Question in §9 resolved explicitly in
// favor of insertion order, not reversed by a `>=` comparator).
type pqItem struct {
	msg      Message
	priority uint8
	seq      uint64
}

type priorityQueue []pqItem

func (q priorityQueue) Len() int { return len(q) }
func (q priorityQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}
func (q priorityQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *priorityQueue) Push(x any)   { *q = append(*q, x.(pqItem)) }
func (q *priorityQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// EnqueuePriority adds msg to the priority queue at the given priority
// (0..255, higher dequeues first).
func (b *Bus) EnqueuePriority(msg Message, priority uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextPQSeq++
	heap.Push(&b.pq, pqItem{msg: msg, priority: priority, seq: b.nextPQSeq})
}

// DequeuePriority removes and returns the highest-priority message, FIFO
// among ties. Returns false when the queue is empty.
func (b *Bus) DequeuePriority() (Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pq.Len() == 0 {
		return Message{}, false
	}
	item := heap.Pop(&b.pq).(pqItem)
	return item.msg, true
}

// QueueDepth reports the number of messages currently queued by priority.
func (b *Bus) QueueDepth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pq.Len()
}
