package transport

import (
	"crypto/rand"
	"encoding/binary"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// udpSocket is the slice of *net.UDPConn the endpoint actually uses.
// Production code always gets a real *net.UDPConn from Listen; tests
// substitute an in-memory fake that can drop, corrupt, or reorder
// packets in flight, mirroring the teacher's channelConnector /
// segmentManipulator pair in testUtils.go.
type udpSocket interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	Close() error
	LocalAddr() net.Addr
}

// Endpoint owns one bound UDP socket and every Connection multiplexed
// over it, keyed by conn_id (spec.md §2, §4.5). It is a plain value
// created by Listen — there is no package-level state — per
// spec.md §9's "Global module-level state" design note.
type Endpoint struct {
	cfg  *Config
	log  *log.Logger
	sock udpSocket
	pool *segmentPool

	writeMu sync.Mutex

	mu          sync.RWMutex
	connections map[uint32]*Connection
	acceptQueue chan *Connection

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Listen binds a UDP socket at addr and starts the receive loop. It
// is the entry point for both the initiator and responder roles
// (spec.md §6 listen/connect share one endpoint type).
func Listen(addr string, cfg *Config) (*Endpoint, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.applyDefaults()

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %s", addr)
	}
	sock, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "binding %s", addr)
	}

	return newEndpoint(sock, cfg), nil
}

func newEndpoint(sock udpSocket, cfg *Config) *Endpoint {
	ep := &Endpoint{
		cfg:         cfg,
		log:         log.New(os.Stderr, "transport: ", log.LstdFlags),
		sock:        sock,
		pool:        newSegmentPool(cfg),
		connections: make(map[uint32]*Connection),
		acceptQueue: make(chan *Connection, 16),
		closed:      make(chan struct{}),
	}

	ep.wg.Add(1)
	go ep.receiveLoop()

	return ep
}

// LocalAddr returns the endpoint's bound UDP address.
func (ep *Endpoint) LocalAddr() net.Addr {
	return ep.sock.LocalAddr()
}

// SetLogger overrides the endpoint's diagnostic logger.
func (ep *Endpoint) SetLogger(l *log.Logger) {
	ep.log = l
}

func newConnID() uint32 {
	for {
		var b [4]byte
		_, _ = rand.Read(b[:])
		id := binary.BigEndian.Uint32(b[:])
		if id != 0 {
			return id
		}
	}
}

// Connect performs the three-way handshake against remoteAddr
// (spec.md §4.3) and returns once ESTABLISHED, or ErrTimeout if the
// handshake does not complete within MaxRetries*RTO.
func (ep *Endpoint) Connect(remoteAddr string) (*Connection, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %s", remoteAddr)
	}

	connID := newConnID()
	c := newConnection(ep, connID, udpAddr, true)

	ep.mu.Lock()
	ep.connections[connID] = c
	ep.mu.Unlock()

	c.mu.Lock()
	c.setState(StateSynSent)
	c.mu.Unlock()

	seg := Segment{Flags: FlagSYN, ConnID: connID, Seq: 0, Win: uint16(ep.cfg.RcvWndCap)}
	if err := ep.send(udpAddr, seg, c.stats); err != nil {
		return nil, err
	}

	timeout := time.Duration(ep.cfg.MaxRetries) * ep.cfg.RTOInitial
	select {
	case <-c.established:
		return c, nil
	case <-time.After(timeout):
		ep.mu.Lock()
		delete(ep.connections, connID)
		ep.mu.Unlock()
		return nil, ErrTimeout
	}
}

// Accept blocks until a handshake initiated by a remote peer
// completes (spec.md §6 accept()).
func (ep *Endpoint) Accept() (*Connection, error) {
	select {
	case c := <-ep.acceptQueue:
		return c, nil
	case <-ep.closed:
		return nil, ErrEndpointClosed
	}
}

// Close stops the receive loop and closes the socket. Any live
// connections are aborted.
func (ep *Endpoint) Close() error {
	var err error
	ep.closeOnce.Do(func() {
		close(ep.closed)
		err = ep.sock.Close()
		ep.mu.Lock()
		for _, c := range ep.connections {
			c.abort()
		}
		ep.mu.Unlock()
	})
	ep.wg.Wait()
	return err
}

func (ep *Endpoint) send(addr *net.UDPAddr, seg Segment, stats *Stats) error {
	buf, err := Encode(seg)
	if err != nil {
		return err
	}

	el := ep.pool.get(buf)
	defer ep.pool.put(el)

	ep.writeMu.Lock()
	n, err := ep.sock.WriteToUDP(el.Data.(*segmentBuffer).GetSlice(), addr)
	ep.writeMu.Unlock()
	if err != nil {
		return errors.Wrap(err, "writing segment")
	}
	if stats != nil {
		stats.recordSend(n)
	}
	return nil
}

func (ep *Endpoint) receiveLoop() {
	defer ep.wg.Done()

	buf := make([]byte, HeaderLength+MaxPayload)
	for {
		n, addr, err := ep.sock.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ep.closed:
				return
			default:
				ep.log.Println("read error:", err)
				continue
			}
		}

		seg, err := Decode(buf[:n])
		if err != nil {
			if connID, ok := peekConnID(buf[:n]); ok {
				ep.mu.RLock()
				c, known := ep.connections[connID]
				ep.mu.RUnlock()
				if known {
					c.stats.recordChecksumError()
				}
			}
			continue // spec.md §7 Corrupt: dropped silently
		}
		ep.dispatch(seg, addr)
	}
}

// dispatch implements the four-step routing algorithm of spec.md
// §4.5.
func (ep *Endpoint) dispatch(seg *Segment, addr *net.UDPAddr) {
	ep.mu.RLock()
	c, known := ep.connections[seg.ConnID]
	ep.mu.RUnlock()

	if seg.Flags.Has(FlagSYN) && !seg.Flags.Has(FlagACK) {
		if known {
			// spec.md §9 open question: colliding conn_id is a
			// ProtocolViolation, dropped.
			return
		}
		ep.handleNewSYN(seg, addr)
		return
	}

	if !known {
		return // spec.md §7 Unknown: dropped
	}

	c.stats.recordReceive(HeaderLength + len(seg.Payload))

	switch {
	case seg.Flags.Has(FlagSYN) && seg.Flags.Has(FlagACK):
		ep.handleSynAck(c, seg)
	case seg.Flags.Has(FlagACK) && !seg.Flags.Has(FlagDATA) && !seg.Flags.Has(FlagFIN) && len(seg.Payload) == 0 && c.State() == StateSynReceived:
		ep.handleHandshakeAck(c, seg)
	case seg.Flags.Has(FlagACK) && seg.ConnID == c.connID && !seg.Flags.Has(FlagDATA) && !seg.Flags.Has(FlagFIN):
		ep.handleAck(c, seg)
	default:
		ep.handleDataOrFin(c, seg)
	}
}

func (ep *Endpoint) handleNewSYN(seg *Segment, addr *net.UDPAddr) {
	c := newConnection(ep, seg.ConnID, addr, false)
	c.mu.Lock()
	c.setState(StateSynReceived)
	c.rcv.rcvNxt = seg.Seq + 1
	c.mu.Unlock()

	ep.mu.Lock()
	ep.connections[seg.ConnID] = c
	ep.mu.Unlock()

	synAck := Segment{Flags: FlagSYN | FlagACK, ConnID: c.connID, Seq: 0, Ack: c.rcv.rcvNxt, Win: uint16(ep.cfg.RcvWndCap)}
	_ = ep.send(addr, synAck, c.stats)
}

func (ep *Endpoint) handleSynAck(c *Connection, seg *Segment) {
	c.mu.Lock()
	if c.state != StateSynSent {
		c.mu.Unlock()
		return
	}
	c.rcv.rcvNxt = seg.Seq + 1
	c.snd.onAck(seg.Ack, seg.Win)
	c.setState(StateEstablished)
	c.mu.Unlock()

	ack := Segment{Flags: FlagACK, ConnID: c.connID, Seq: 0, Ack: c.rcv.rcvNxt, Win: uint16(ep.cfg.RcvWndCap)}
	_ = ep.send(c.remoteAddr, ack, c.stats)

	close(c.established)
}

func (ep *Endpoint) handleHandshakeAck(c *Connection, seg *Segment) {
	c.mu.Lock()
	if c.state != StateSynReceived {
		c.mu.Unlock()
		return
	}
	c.snd.onAck(seg.Ack, seg.Win)
	c.setState(StateEstablished)
	c.mu.Unlock()

	select {
	case ep.acceptQueue <- c:
	default:
		ep.log.Println("accept queue full, dropping handshake for conn", c.connID)
	}
}

func (ep *Endpoint) handleAck(c *Connection, seg *Segment) {
	c.mu.Lock()
	c.snd.onAck(seg.Ack, seg.Win)
	c.stats.updateRTT(c.snd.rtt.currentSRTT(), c.snd.rto())
	c.mu.Unlock()

	// A freed window may let a Close() that was deferred with
	// ErrWouldBlock finally enqueue its FIN, so recheck in-flight
	// state below only after giving it the chance.
	c.maybeSendPendingFIN()

	c.mu.Lock()
	hasInFlight := c.snd.hasInFlight()
	rto := c.snd.rto()
	closing := c.state == StateClosing
	c.mu.Unlock()

	if hasInFlight {
		c.armTimer(rto)
	} else {
		c.cancelTimer()
		if closing {
			c.finishClose()
		}
	}
}

func (ep *Endpoint) handleDataOrFin(c *Connection, seg *Segment) {
	entry := segmentEnvelope{payload: seg.Payload, fin: seg.Flags.Has(FlagFIN)}

	c.mu.Lock()
	result := c.rcv.accept(seg.Seq, entry)
	ackNum := c.rcv.rcvNxt
	win := c.rcv.rcvWnd()
	c.mu.Unlock()

	switch {
	case result.duplicate:
		c.stats.recordDuplicate()
	case result.outOfOrder:
		c.stats.recordOutOfOrder()
	}

	c.sendOrScheduleAck(ackNum, win)

	var toDeliver [][]byte
	sawFin := false
	for _, e := range result.inOrder {
		if e.fin {
			sawFin = true
			continue
		}
		toDeliver = append(toDeliver, e.payload)
	}
	if len(toDeliver) > 0 {
		c.deliver(toDeliver)
	}

	if sawFin {
		ep.handlePeerFin(c)
	}
}

func (ep *Endpoint) handlePeerFin(c *Connection) {
	c.mu.Lock()
	already := c.state == StateClosing || c.state == StateClosed
	c.mu.Unlock()

	if already {
		return
	}

	_ = c.Close()
}

// handleTimeout is invoked by a connection's retransmission timer
// (spec.md §4.2 on_timeout).
func (ep *Endpoint) handleTimeout(c *Connection) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	aborted := c.snd.onTimeout(c.connID)
	c.stats.recordRetransmission()
	c.stats.updateRTT(c.snd.rtt.currentSRTT(), c.snd.rto())
	rto := c.snd.rto()
	c.mu.Unlock()

	if aborted {
		c.abort()
		return
	}
	c.armTimer(rto)
}
