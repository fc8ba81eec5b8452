package transport

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type ReorderTestSuite struct {
	suite.Suite
}

func (suite *ReorderTestSuite) TestInsertHasTakeNext() {
	b := newReorderBuffer()
	suite.False(b.has(5))

	b.insert(5, segmentEnvelope{payload: []byte("x")})
	suite.True(b.has(5))
	suite.Equal(1, b.len())

	entry, ok := b.takeNext(5)
	suite.True(ok)
	suite.Equal([]byte("x"), entry.payload)
	suite.Equal(0, b.len())
	suite.False(b.has(5))
}

func (suite *ReorderTestSuite) TestTakeNextMissingReturnsFalse() {
	b := newReorderBuffer()
	_, ok := b.takeNext(1)
	suite.False(ok)
}

func (suite *ReorderTestSuite) TestFinEnvelopeSurvivesRoundTrip() {
	b := newReorderBuffer()
	b.insert(3, segmentEnvelope{fin: true})
	entry, ok := b.takeNext(3)
	suite.True(ok)
	suite.True(entry.fin)
	suite.Empty(entry.payload)
}

func TestReorderSuite(t *testing.T) {
	suite.Run(t, new(ReorderTestSuite))
}
