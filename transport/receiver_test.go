package transport

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type ReceiverTestSuite struct {
	suite.Suite
	cfg *Config
}

func (suite *ReceiverTestSuite) SetupTest() {
	suite.cfg = DefaultConfig()
	suite.cfg.RcvWndCap = 4
}

func (suite *ReceiverTestSuite) TestInOrderDelivery() {
	r := newReceiver(suite.cfg, 0)
	out := r.accept(0, segmentEnvelope{payload: []byte("a")})
	suite.Len(out.inOrder, 1)
	suite.Equal(uint32(1), r.rcvNxt)
}

func (suite *ReceiverTestSuite) TestOutOfOrderBuffersThenDrainsContiguously() {
	r := newReceiver(suite.cfg, 0)

	out := r.accept(2, segmentEnvelope{payload: []byte("c")})
	suite.True(out.outOfOrder)
	suite.Empty(out.inOrder)
	suite.Equal(uint32(0), r.rcvNxt)

	out = r.accept(1, segmentEnvelope{payload: []byte("b")})
	suite.True(out.outOfOrder)
	suite.Equal(uint32(0), r.rcvNxt)

	out = r.accept(0, segmentEnvelope{payload: []byte("a")})
	suite.Len(out.inOrder, 3, "arrival of the missing head must drain the buffered tail contiguously")
	suite.Equal([]byte("a"), out.inOrder[0].payload)
	suite.Equal([]byte("b"), out.inOrder[1].payload)
	suite.Equal([]byte("c"), out.inOrder[2].payload)
	suite.Equal(uint32(3), r.rcvNxt)
}

func (suite *ReceiverTestSuite) TestDuplicateOfDeliveredSegment() {
	r := newReceiver(suite.cfg, 0)
	r.accept(0, segmentEnvelope{payload: []byte("a")})
	out := r.accept(0, segmentEnvelope{payload: []byte("a")})
	suite.True(out.duplicate)
	suite.Empty(out.inOrder)
}

func (suite *ReceiverTestSuite) TestDuplicateOfBufferedOutOfOrderSegment() {
	r := newReceiver(suite.cfg, 0)
	r.accept(2, segmentEnvelope{payload: []byte("c")})
	out := r.accept(2, segmentEnvelope{payload: []byte("c")})
	suite.True(out.duplicate)
}

func (suite *ReceiverTestSuite) TestOutOfWindowSegmentRejected() {
	r := newReceiver(suite.cfg, 0)
	out := r.accept(r.rcvNxt+r.cfg.RcvWndCap, segmentEnvelope{payload: []byte("z")})
	suite.True(out.outOfWindow)
}

func (suite *ReceiverTestSuite) TestRcvWndShrinksAsReorderBufferFills() {
	r := newReceiver(suite.cfg, 0)
	suite.Equal(suite.cfg.RcvWndCap, uint32(r.rcvWnd()))
	r.accept(1, segmentEnvelope{payload: []byte("b")})
	suite.Equal(suite.cfg.RcvWndCap-1, uint32(r.rcvWnd()))
}

func (suite *ReceiverTestSuite) TestFinConsumesSequenceNumberLikeData() {
	r := newReceiver(suite.cfg, 0)
	out := r.accept(0, segmentEnvelope{fin: true})
	suite.Len(out.inOrder, 1)
	suite.True(out.inOrder[0].fin)
	suite.Equal(uint32(1), r.rcvNxt)
}

func TestReceiverSuite(t *testing.T) {
	suite.Run(t, new(ReceiverTestSuite))
}
