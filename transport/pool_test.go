package transport

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type PoolTestSuite struct {
	suite.Suite
}

func (suite *PoolTestSuite) TestSegmentBufferCopyAndReset() {
	b := newSegmentBuffer().(*segmentBuffer)
	suite.NoError(b.Copy([]byte("hello")))
	suite.Equal([]byte("hello"), b.GetSlice())

	b.Reset()
	suite.Equal(0, len(b.GetSlice()))
}

func (suite *PoolTestSuite) TestSegmentPoolRoundTrip() {
	cfg := DefaultConfig()
	cfg.PayloadPool = 4
	p := newSegmentPool(cfg)

	el := p.get([]byte("segment-bytes"))
	suite.Equal([]byte("segment-bytes"), el.Data.(*segmentBuffer).GetSlice())
	p.put(el)
}

func TestPoolSuite(t *testing.T) {
	suite.Run(t, new(PoolTestSuite))
}
