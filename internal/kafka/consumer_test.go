package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32               { return nil }
func (s *fakeSession) MemberID() string                         { return "worker-1" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "herald-deliveries" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 3 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func newClaim(offsets ...int64) *fakeClaim {
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, len(offsets))}
	for _, offset := range offsets {
		claim.messages <- &sarama.ConsumerMessage{Topic: "herald-deliveries", Offset: offset}
	}

	close(claim.messages)

	return claim
}

func TestConsumeClaimMarksProcessedRecords(t *testing.T) {
	session := &fakeSession{ctx: context.Background()}
	handler := &consumerGroupHandler{messageHandler: func(context.Context, *sarama.ConsumerMessage) error {
		return nil
	}}

	require.NoError(t, handler.ConsumeClaim(session, newClaim(0, 1, 2)))
	require.Equal(t, []int64{0, 1, 2}, session.marked)
}

func TestConsumeClaimStopsOnUnfinishedRecord(t *testing.T) {
	session := &fakeSession{ctx: context.Background()}

	var handled []int64

	handler := &consumerGroupHandler{messageHandler: func(_ context.Context, msg *sarama.ConsumerMessage) error {
		handled = append(handled, msg.Offset)
		if msg.Offset == 1 {
			return errors.New("worker stopping")
		}

		return nil
	}}

	require.NoError(t, handler.ConsumeClaim(session, newClaim(0, 1, 2)))
	require.Equal(t, []int64{0}, session.marked)
	require.Equal(t, []int64{0, 1}, handled)
}
