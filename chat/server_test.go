package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/corvid-systems/rtp/transport"
)

// ChatTestSuite drives a real Server over loopback UDP, grounded on
// transport's own EndpointTestSuite (SetupTest/TearDownTest around two
// live endpoints) plus chat_server.py's login/join/msg/dm scenarios.
type ChatTestSuite struct {
	suite.Suite
	serverEP *transport.Endpoint
	server   *Server
}

func (suite *ChatTestSuite) SetupTest() {
	if testing.Short() {
		suite.T().Skip("skipping chat integration tests in -short mode")
	}
	cfg := transport.DefaultConfig()
	cfg.RTOInitial = 30 * time.Millisecond

	ep, err := transport.Listen("127.0.0.1:0", cfg)
	suite.Require().NoError(err)
	suite.serverEP = ep
	suite.server = NewServer(ep)
	go suite.server.Serve()
}

func (suite *ChatTestSuite) TearDownTest() {
	_ = suite.serverEP.Close()
}

func (suite *ChatTestSuite) dialClient() *Client {
	cfg := transport.DefaultConfig()
	cfg.RTOInitial = 30 * time.Millisecond
	ep, err := transport.Listen("127.0.0.1:0", cfg)
	suite.Require().NoError(err)
	suite.T().Cleanup(func() { _ = ep.Close() })

	c, err := Dial(ep, suite.serverEP.LocalAddr().String())
	suite.Require().NoError(err)
	return c
}

func (suite *ChatTestSuite) recvUntil(c *Client, typ string) Envelope {
	deadline := time.After(2 * time.Second)
	for {
		type result struct {
			env Envelope
			err error
		}
		ch := make(chan result, 1)
		go func() {
			env, err := c.Recv()
			ch <- result{env, err}
		}()
		select {
		case r := <-ch:
			suite.Require().NoError(r.err)
			if r.env.Type == typ {
				return r.env
			}
		case <-deadline:
			suite.FailNow("timed out waiting for envelope type " + typ)
		}
	}
}

func (suite *ChatTestSuite) TestLoginWelcomeThenDuplicateRejected() {
	alice := suite.dialClient()
	suite.Require().NoError(alice.Login("alice"))
	welcome := suite.recvUntil(alice, TypeInfo)
	suite.Contains(welcome.Msg, "Welcome, alice")

	bob := suite.dialClient()
	suite.Require().NoError(bob.Login("alice"))
	rejection := suite.recvUntil(bob, TypeInfo)
	suite.Contains(rejection.Msg, "already taken")
}

func (suite *ChatTestSuite) TestJoinWithoutLoginIsRejected() {
	alice := suite.dialClient()
	suite.Require().NoError(alice.Join(GeneralRoom))
	info := suite.recvUntil(alice, TypeInfo)
	suite.Contains(info.Msg, "login first")
}

func (suite *ChatTestSuite) TestJoinReplaysRoomHistory() {
	alice := suite.dialClient()
	suite.Require().NoError(alice.Login("alice"))
	suite.recvUntil(alice, TypeInfo)
	suite.Require().NoError(alice.Join(GeneralRoom))
	suite.recvUntil(alice, TypeInfo) // "You joined general"
	suite.Require().NoError(alice.Send("hello room"))
	// give the server time to record history before bob joins
	time.Sleep(50 * time.Millisecond)

	bob := suite.dialClient()
	suite.Require().NoError(bob.Login("bob"))
	suite.recvUntil(bob, TypeInfo)
	suite.Require().NoError(bob.Join(GeneralRoom))
	history := suite.recvUntil(bob, TypeHistory)
	suite.Require().NotEmpty(history.History)
	suite.Equal("alice", history.History[len(history.History)-1].Sender)
	suite.Equal("hello room", history.History[len(history.History)-1].Text)
}

func (suite *ChatTestSuite) TestBroadcastReachesOtherRoomMember() {
	alice := suite.dialClient()
	suite.Require().NoError(alice.Login("alice"))
	suite.recvUntil(alice, TypeInfo)
	suite.Require().NoError(alice.Join(GeneralRoom))
	suite.recvUntil(alice, TypeInfo)

	bob := suite.dialClient()
	suite.Require().NoError(bob.Login("bob"))
	suite.recvUntil(bob, TypeInfo)
	suite.Require().NoError(bob.Join(GeneralRoom))
	suite.recvUntil(bob, TypeInfo)

	suite.Require().NoError(alice.Send("hi bob"))
	chatMsg := suite.recvUntil(bob, TypeChat)
	suite.Equal("alice", chatMsg.Sender)
	suite.Equal("hi bob", chatMsg.Text)
}

func (suite *ChatTestSuite) TestDMRoutesToTargetAndConfirmsToSender() {
	alice := suite.dialClient()
	suite.Require().NoError(alice.Login("alice"))
	suite.recvUntil(alice, TypeInfo)

	bob := suite.dialClient()
	suite.Require().NoError(bob.Login("bob"))
	suite.recvUntil(bob, TypeInfo)

	suite.Require().NoError(alice.DM("bob", "psst"))
	dm := suite.recvUntil(bob, TypeDM)
	suite.Equal("alice", dm.Sender)
	suite.Equal("psst", dm.Text)

	confirm := suite.recvUntil(alice, TypeInfo)
	suite.Contains(confirm.Msg, "DM sent to bob")
}

func (suite *ChatTestSuite) TestDMToUnknownUserReturnsError() {
	alice := suite.dialClient()
	suite.Require().NoError(alice.Login("alice"))
	suite.recvUntil(alice, TypeInfo)

	suite.Require().NoError(alice.DM("ghost", "hello?"))
	info := suite.recvUntil(alice, TypeInfo)
	suite.Contains(info.Msg, "not found")
}

func (suite *ChatTestSuite) TestDisconnectRemovesUsernameAndRoomMembership() {
	alice := suite.dialClient()
	suite.Require().NoError(alice.Login("alice"))
	suite.recvUntil(alice, TypeInfo)
	suite.Require().NoError(alice.Join(GeneralRoom))
	suite.recvUntil(alice, TypeInfo)
	suite.Require().NoError(alice.Close())

	suite.Eventually(func() bool {
		snap := suite.server.Snapshot()
		return len(snap) == 0
	}, 2*time.Second, 20*time.Millisecond)

	bob := suite.dialClient()
	suite.Require().NoError(bob.Login("alice"))
	welcome := suite.recvUntil(bob, TypeInfo)
	suite.Contains(welcome.Msg, "Welcome, alice", "the name must be free again once alice disconnected")
}

func TestChatSuite(t *testing.T) {
	suite.Run(t, new(ChatTestSuite))
}
