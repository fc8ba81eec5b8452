package transport

import (
	"net"
	"sync"
	"time"
)

// State is a connection FSM state (spec.md §4.3).
type State int

const (
	StateClosed State = iota
	StateSynSent
	StateSynReceived
	StateEstablished
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateSynSent:
		return "SYN-SENT"
	case StateSynReceived:
		return "SYN-RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// Connection is a stateful association with one remote peer,
// identified by conn_id plus addresses (spec.md §3). All of a
// connection's sender/receiver/FSM mutations happen under mu — the
// sole serialization domain for that connection (spec.md §5).
type Connection struct {
	mu sync.Mutex

	endpoint     *Endpoint
	connID       uint32
	localAddr    net.Addr
	remoteAddr   *net.UDPAddr
	initiator    bool
	state        State
	handshakeErr error

	snd *sender
	rcv *receiver

	stats *Stats

	inbox       chan []byte
	established chan struct{}
	closed      chan struct{}
	closeOnce   sync.Once

	deliverMu   sync.Mutex
	deliverCond *sync.Cond
	deliverQ    [][]byte
	deliverStop bool

	timerMu      sync.Mutex
	timer        *time.Timer
	timerStopped bool

	ackMu        sync.Mutex
	delayedACK   *time.Timer
	pendingAck   uint32
	pendingWin   uint16
	ackScheduled bool

	closePending bool

	onMessage func([]byte)
}

func newConnection(ep *Endpoint, connID uint32, remote *net.UDPAddr, initiator bool) *Connection {
	// The handshake's SYN consumes sequence number 0 on both sides
	// (spec.md §4.3: responder's SYN|ACK and the initiator's closing
	// ACK both carry ack=1). The sender must therefore start its own
	// bookkeeping one past that, in step with the ack=1 it is about to
	// receive, or the first real data segment would be assigned seq=0
	// while sndUna has already advanced to 1 and could never be acked.
	const initialSeq = 1
	c := &Connection{
		endpoint:    ep,
		connID:      connID,
		localAddr:   ep.LocalAddr(),
		remoteAddr:  remote,
		initiator:   initiator,
		state:       StateClosed,
		stats:       newStats(),
		inbox:       make(chan []byte, 64),
		established: make(chan struct{}),
		closed:      make(chan struct{}),
	}
	c.snd = newSender(ep.cfg, initialSeq, c.transmit)
	c.snd.onSample = c.stats.recordLatency
	// rcv.rcvNxt is a placeholder until handleNewSYN/handleSynAck
	// overwrite it from the peer's actual SYN sequence number.
	c.rcv = newReceiver(ep.cfg, initialSeq)
	c.deliverCond = sync.NewCond(&c.deliverMu)
	go c.deliverLoop()
	return c
}

func (c *Connection) transmit(seg Segment) error {
	seg.ConnID = c.connID
	return c.endpoint.send(c.remoteAddr, seg, c.stats)
}

// sendOrScheduleAck emits a cumulative ACK immediately, or coalesces it
// behind a short timer when cfg.DelayedACK > 0 (spec.md §4.4: "emit
// (or schedule via a short delayed-ack timer, <= 50 ms)"). A later call
// before the timer fires just updates the pending ack/win in place, so
// several data segments arriving within the window produce one ACK.
func (c *Connection) sendOrScheduleAck(ack uint32, win uint16) {
	if c.endpoint.cfg.DelayedACK <= 0 {
		c.sendAckNow(ack, win)
		return
	}

	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	c.pendingAck = ack
	c.pendingWin = win
	if c.ackScheduled {
		return
	}
	c.ackScheduled = true
	c.delayedACK = time.AfterFunc(c.endpoint.cfg.DelayedACK, func() {
		c.ackMu.Lock()
		a, w := c.pendingAck, c.pendingWin
		c.ackScheduled = false
		c.ackMu.Unlock()
		c.sendAckNow(a, w)
	})
}

func (c *Connection) sendAckNow(ack uint32, win uint16) {
	seg := Segment{Flags: FlagACK, ConnID: c.connID, Ack: ack, Win: win}
	_ = c.endpoint.send(c.remoteAddr, seg, c.stats)
}

// ConnID returns the connection's 32-bit identifier.
func (c *Connection) ConnID() uint32 { return c.connID }

// RemoteAddr returns the peer's UDP address.
func (c *Connection) RemoteAddr() net.Addr { return c.remoteAddr }

// State returns the connection's current FSM state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.state = s
}

// Stats returns the connection's live counters (spec.md §6).
func (c *Connection) Stats() Snapshot {
	c.mu.Lock()
	c.stats.updateRTT(c.snd.rtt.currentSRTT(), c.snd.rto())
	c.mu.Unlock()
	return c.stats.Snapshot()
}

// OnMessage registers the callback invoked for each in-order message
// (spec.md §6 external interface).
func (c *Connection) OnMessage(handler func([]byte)) {
	c.mu.Lock()
	c.onMessage = handler
	c.mu.Unlock()
}

// Recv blocks for the next in-order message, or returns
// ErrConnectionAborted if the connection is CLOSED before one arrives.
func (c *Connection) Recv() ([]byte, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.closed:
		select {
		case msg := <-c.inbox:
			return msg, nil
		default:
		}
		return nil, ErrConnectionAborted
	}
}

// deliver hands in-order payloads to the delivery goroutine, which
// drains them into the app-facing inbox (or OnMessage callback) at
// whatever pace the application reads. The queue here is unbounded on
// purpose: spec.md §8's "no duplication" invariant equates deliveries
// with successful send_msg calls, so a slow reader must apply
// backpressure through its own drain speed, never through message
// loss. Decoupling it into its own goroutine keeps a stalled consumer
// on one connection from blocking the endpoint's shared receive loop.
func (c *Connection) deliver(payloads [][]byte) {
	if len(payloads) == 0 {
		return
	}
	c.deliverMu.Lock()
	c.deliverQ = append(c.deliverQ, payloads...)
	c.deliverMu.Unlock()
	c.deliverCond.Signal()
}

func (c *Connection) deliverLoop() {
	for {
		c.deliverMu.Lock()
		for len(c.deliverQ) == 0 && !c.deliverStop {
			c.deliverCond.Wait()
		}
		if len(c.deliverQ) == 0 && c.deliverStop {
			c.deliverMu.Unlock()
			return
		}
		p := c.deliverQ[0]
		c.deliverQ = c.deliverQ[1:]
		c.deliverMu.Unlock()

		c.mu.Lock()
		handler := c.onMessage
		c.mu.Unlock()
		if handler != nil {
			handler(p)
			continue
		}
		select {
		case c.inbox <- p:
		case <-c.closed:
			return
		}
	}
}

func (c *Connection) stopDeliverLoop() {
	c.deliverMu.Lock()
	c.deliverStop = true
	c.deliverMu.Unlock()
	c.deliverCond.Signal()
}

// SendMsg reliably enqueues payload for delivery (spec.md §4.2,
// §6). It fails with ErrConnectionNotReady before ESTABLISHED and
// ErrWouldBlock if the send window is full.
func (c *Connection) SendMsg(payload []byte) error {
	if len(payload) > c.endpoint.cfg.MaxPayload {
		return ErrPayloadTooLarge
	}

	c.mu.Lock()
	if c.state != StateEstablished {
		c.mu.Unlock()
		return ErrConnectionNotReady
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)

	_, err := c.snd.sendMsg(0, c.connID, buf)
	rto := c.snd.rto()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.armTimer(rto)
	return nil
}

// armTimer (re)schedules the retransmission timer for d, the RTO
// sampled by the caller while holding c.mu — the timer field itself is
// guarded separately by timerMu so arming never has to nest under mu.
func (c *Connection) armTimer(d time.Duration) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(d, func() { c.endpoint.handleTimeout(c) })
	c.timerStopped = false
}

func (c *Connection) cancelTimer() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timerStopped = true
}

// Close initiates a graceful close (spec.md §4.3, §5). It is
// idempotent: calling it on a CLOSED or CLOSING connection is a
// no-op. If the send window is full the FIN cannot be enqueued yet;
// rather than declare CLOSING with nothing in flight to retransmit
// (which would wedge the timer forever), the close is left pending
// and retried by maybeSendPendingFIN once an ACK frees window space.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateClosing {
		c.mu.Unlock()
		return nil
	}
	rto, sent, err := c.trySendFINLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if sent {
		c.armTimer(rto)
	}
	return nil
}

// trySendFINLocked enqueues and transmits the closing FIN. Called
// with c.mu held.
func (c *Connection) trySendFINLocked() (rto time.Duration, sent bool, err error) {
	_, sendErr := c.snd.sendMsg(FlagFIN, c.connID, nil)
	switch sendErr {
	case nil:
		c.closePending = false
		c.setState(StateClosing)
		return c.snd.rto(), true, nil
	case ErrWouldBlock:
		c.closePending = true
		return 0, false, nil
	default:
		return 0, false, sendErr
	}
}

// maybeSendPendingFIN retries a Close() that was deferred by a full
// send window, called after handleAck advances sndUna and frees room
// for the FIN.
func (c *Connection) maybeSendPendingFIN() {
	c.mu.Lock()
	if !c.closePending || c.state == StateClosed || c.state == StateClosing {
		c.mu.Unlock()
		return
	}
	rto, sent, _ := c.trySendFINLocked()
	c.mu.Unlock()
	if sent {
		c.armTimer(rto)
	}
}

func (c *Connection) abort() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.setState(StateClosed)
	c.cancelTimer()
	c.mu.Unlock()
	c.cancelDelayedAck()
	c.closeOnce.Do(func() { close(c.closed) })
	c.stopDeliverLoop()
}

func (c *Connection) finishClose() {
	c.mu.Lock()
	c.setState(StateClosed)
	c.cancelTimer()
	c.mu.Unlock()
	c.cancelDelayedAck()
	c.closeOnce.Do(func() { close(c.closed) })
	c.stopDeliverLoop()
}

func (c *Connection) cancelDelayedAck() {
	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	if c.delayedACK != nil {
		c.delayedACK.Stop()
	}
	c.ackScheduled = false
}
