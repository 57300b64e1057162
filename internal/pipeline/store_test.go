package pipeline

import (
	"context"
	"testing"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/catalog"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/message"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewStore(client), mr
}

func TestOperationalFlagDefaultsToHealthy(t *testing.T) {
	ctx := context.Background()
	store, mr := newStore(t)

	ok, err := store.IsOperational(ctx, message.ChannelEmail, "SES")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, mr.Set("pipeline:EMAIL:SES:operational", "false"))

	ok, err = store.IsOperational(ctx, message.ChannelEmail, "SES")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mr.Set("pipeline:EMAIL:SES:operational", "anything"))

	ok, err = store.IsOperational(ctx, message.ChannelEmail, "SES")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestUpdateSMSBalanceTogglesOperational(t *testing.T) {
	ctx := context.Background()
	store, mr := newStore(t)
	checkedAt := time.Date(2026, 5, 1, 2, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return checkedAt }

	require.NoError(t, store.UpdateSMSBalance(ctx, "FAST2SMS", 0))

	value, err := mr.Get("pipeline:SMS:FAST2SMS:operational")
	require.NoError(t, err)
	require.Equal(t, "false", value)

	require.NoError(t, store.UpdateSMSBalance(ctx, "FAST2SMS", 125.5))

	ok, err := store.IsOperational(ctx, message.ChannelSMS, "FAST2SMS")
	require.NoError(t, err)
	require.True(t, ok)

	balance, err := store.SMSBalance(ctx, "FAST2SMS")
	require.NoError(t, err)
	require.NotNil(t, balance)
	require.InDelta(t, 125.5, *balance, 0.0001)

	last, err := store.LastBalanceCheck(ctx, "FAST2SMS")
	require.NoError(t, err)
	require.NotNil(t, last)
	require.True(t, checkedAt.Equal(*last))
}

func TestReport(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	c, err := catalog.Load("")
	require.NoError(t, err)

	require.NoError(t, store.SetBreakerState(ctx, message.ChannelEmail, "SES", "OPEN"))
	require.NoError(t, store.SetOperational(ctx, message.ChannelEmail, "GMAIL", false))
	require.NoError(t, store.UpdateSMSBalance(ctx, "FAST2SMS", 10))

	report, err := store.Report(ctx, c)
	require.NoError(t, err)

	require.Len(t, report["email"], 2)
	require.Equal(t, "SES", report["email"][0].Provider)
	require.Equal(t, "OPEN", report["email"][0].BreakerState)
	require.True(t, report["email"][0].Operational)
	require.False(t, report["email"][1].Operational)
	require.Equal(t, "CLOSED", report["email"][1].BreakerState)
	require.Nil(t, report["email"][0].Balance)

	require.Len(t, report["sms"], 1)
	require.NotNil(t, report["sms"][0].Balance)
	require.NotNil(t, report["sms"][0].LastCheckedAt)
}
