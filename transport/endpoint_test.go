package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// EndpointTestSuite exercises the endpoint end to end over real
// loopback UDP sockets, grounded on integration_test.go's
// SetupTest/TearDownTest pattern (SocketListen on two local ports,
// exchange traffic, Close both). Fault injection (drop/corrupt/reorder)
// is covered by FaultInjectionTestSuite in fault_test.go instead of
// here: it replaces the endpoint's udpSocket with an in-memory fake
// that can manipulate packets in flight.
type EndpointTestSuite struct {
	suite.Suite
	alpha *Endpoint
	beta  *Endpoint
}

func (suite *EndpointTestSuite) SetupTest() {
	if testing.Short() {
		suite.T().Skip("skipping endpoint integration tests in -short mode")
	}
	cfg := DefaultConfig()
	cfg.RTOInitial = 50 * time.Millisecond
	cfg.RTOMin = 20 * time.Millisecond

	alpha, err := Listen("127.0.0.1:0", cfg)
	suite.Require().NoError(err)
	beta, err := Listen("127.0.0.1:0", cfg)
	suite.Require().NoError(err)
	suite.alpha = alpha
	suite.beta = beta
}

func (suite *EndpointTestSuite) TearDownTest() {
	if suite.alpha != nil {
		_ = suite.alpha.Close()
	}
	if suite.beta != nil {
		_ = suite.beta.Close()
	}
}

func (suite *EndpointTestSuite) TestHandshakeReachesEstablishedOnBothSides() {
	accepted := make(chan *Connection, 1)
	go func() {
		c, err := suite.beta.Accept()
		suite.NoError(err)
		accepted <- c
	}()

	initiator, err := suite.alpha.Connect(suite.beta.LocalAddr().String())
	suite.Require().NoError(err)
	suite.Equal(StateEstablished, initiator.State())

	responder := <-accepted
	suite.Equal(StateEstablished, responder.State())
}

func (suite *EndpointTestSuite) TestLosslessMessageExchangeBothDirections() {
	accepted := make(chan *Connection, 1)
	go func() {
		c, _ := suite.beta.Accept()
		accepted <- c
	}()
	initiator, err := suite.alpha.Connect(suite.beta.LocalAddr().String())
	suite.Require().NoError(err)
	responder := <-accepted

	suite.Require().NoError(initiator.SendMsg([]byte("ping")))
	got, err := responder.Recv()
	suite.NoError(err)
	suite.Equal("ping", string(got))

	suite.Require().NoError(responder.SendMsg([]byte("pong")))
	got, err = initiator.Recv()
	suite.NoError(err)
	suite.Equal("pong", string(got))
}

func (suite *EndpointTestSuite) TestMultipleMessagesDeliveredInOrder() {
	accepted := make(chan *Connection, 1)
	go func() {
		c, _ := suite.beta.Accept()
		accepted <- c
	}()
	initiator, err := suite.alpha.Connect(suite.beta.LocalAddr().String())
	suite.Require().NoError(err)
	responder := <-accepted

	messages := []string{"one", "two", "three"}
	for _, m := range messages {
		suite.Require().NoError(initiator.SendMsg([]byte(m)))
	}
	for _, want := range messages {
		got, err := responder.Recv()
		suite.NoError(err)
		suite.Equal(want, string(got))
	}
}

func (suite *EndpointTestSuite) TestGracefulCloseDeliversFinAndTransitionsBothSidesClosed() {
	accepted := make(chan *Connection, 1)
	go func() {
		c, _ := suite.beta.Accept()
		accepted <- c
	}()
	initiator, err := suite.alpha.Connect(suite.beta.LocalAddr().String())
	suite.Require().NoError(err)
	responder := <-accepted

	suite.Require().NoError(initiator.Close())

	_, err = responder.Recv()
	suite.ErrorIs(err, ErrConnectionAborted)

	suite.Eventually(func() bool {
		return initiator.State() == StateClosed
	}, time.Second, 10*time.Millisecond)
}

func (suite *EndpointTestSuite) TestSendMsgRejectedBeforeEstablished() {
	c := newConnection(suite.alpha, 1, nil, true)
	err := c.SendMsg([]byte("too soon"))
	suite.ErrorIs(err, ErrConnectionNotReady)
}

func (suite *EndpointTestSuite) TestSendMsgRejectsOversizedPayload() {
	c := newConnection(suite.alpha, 1, nil, true)
	err := c.SendMsg(make([]byte, suite.alpha.cfg.MaxPayload+1))
	suite.ErrorIs(err, ErrPayloadTooLarge)
}

func (suite *EndpointTestSuite) TestConnectTimesOutAgainstUnreachablePeer() {
	cfg := DefaultConfig()
	cfg.RTOInitial = 5 * time.Millisecond
	cfg.MaxRetries = 2
	lonely, err := Listen("127.0.0.1:0", cfg)
	suite.Require().NoError(err)
	defer lonely.Close()

	// nothing is listening on this port
	_, err = lonely.Connect("127.0.0.1:1")
	suite.ErrorIs(err, ErrTimeout)
}

func TestEndpointSuite(t *testing.T) {
	suite.Run(t, new(EndpointTestSuite))
}
