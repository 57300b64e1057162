package provider

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}

	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-123")}, nil
}

func TestSESSend(t *testing.T) {
	api := &fakeSES{}
	ses := NewSESWithAPI(api, "noreply@herald.dev", "AKIA")

	receipt, err := ses.Send(context.Background(), Message{
		CorrelationID: "abc.123",
		Recipient:     "user@example.com",
		Subject:       "Welcome",
		Body:          "<p>Hello</p>",
	})
	require.NoError(t, err)
	require.Equal(t, "ses-123", receipt.MessageID)

	require.Equal(t, "noreply@herald.dev", aws.ToString(api.input.FromEmailAddress))
	require.Equal(t, []string{"user@example.com"}, api.input.Destination.ToAddresses)
	require.Equal(t, "Welcome", aws.ToString(api.input.Content.Simple.Subject.Data))
	require.Equal(t, "<p>Hello</p>", aws.ToString(api.input.Content.Simple.Body.Html.Data))
	require.Equal(t, "abc_123", aws.ToString(api.input.EmailTags[0].Value))
}

func TestSESSendError(t *testing.T) {
	ses := NewSESWithAPI(&fakeSES{err: errors.New("throttled")}, "noreply@herald.dev", "AKIA")

	_, err := ses.Send(context.Background(), Message{Recipient: "user@example.com"})
	require.EqualError(t, err, "throttled")
}

func TestSESCheckHealth(t *testing.T) {
	require.True(t, NewSESWithAPI(&fakeSES{}, "", "AKIA").CheckHealth(context.Background()))
	require.False(t, NewSESWithAPI(&fakeSES{}, "", "test_key").CheckHealth(context.Background()))
	require.False(t, NewSESWithAPI(&fakeSES{}, "", "").CheckHealth(context.Background()))
}

type fakeSendCloser struct{ closed bool }

func (f *fakeSendCloser) Send(string, []string, io.WriterTo) error { return nil }

func (f *fakeSendCloser) Close() error {
	f.closed = true
	return nil
}

type fakeDialer struct {
	sent    []*gomail.Message
	err     error
	delay   time.Duration
	session *fakeSendCloser
}

func (f *fakeDialer) Dial() (gomail.SendCloser, error) {
	if f.err != nil {
		return nil, f.err
	}

	f.session = &fakeSendCloser{}

	return f.session, nil
}

func (f *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	time.Sleep(f.delay)

	if f.err != nil {
		return f.err
	}

	f.sent = append(f.sent, m...)

	return nil
}

func TestGmailSend(t *testing.T) {
	dialer := &fakeDialer{}
	gmail := NewGmailWithDialer(dialer, "alerts@gmail.com", "Herald")

	receipt, err := gmail.Send(context.Background(), Message{
		Recipient: "user@example.com",
		Subject:   "Reset",
		Body:      "<b>code</b>",
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(receipt.MessageID, "<"))
	require.True(t, strings.HasSuffix(receipt.MessageID, "@gmail.com>"))

	require.Len(t, dialer.sent, 1)
	require.Equal(t, []string{receipt.MessageID}, dialer.sent[0].GetHeader("Message-ID"))
	require.Equal(t, []string{"user@example.com"}, dialer.sent[0].GetHeader("To"))

	var buf bytes.Buffer
	_, err = dialer.sent[0].WriteTo(&buf)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "Subject: Reset")
}

func TestGmailSendTimeout(t *testing.T) {
	gmail := NewGmailWithDialer(&fakeDialer{delay: 200 * time.Millisecond}, "alerts@gmail.com", "")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := gmail.Send(ctx, Message{Recipient: "user@example.com"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGmailCheckHealth(t *testing.T) {
	dialer := &fakeDialer{}
	require.True(t, NewGmailWithDialer(dialer, "a@b.c", "").CheckHealth(context.Background()))
	require.True(t, dialer.session.closed)

	failing := &fakeDialer{err: errors.New("auth failed")}
	require.False(t, NewGmailWithDialer(failing, "a@b.c", "").CheckHealth(context.Background()))
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry(NewSESWithAPI(&fakeSES{}, "", ""), NewGmailWithDialer(&fakeDialer{}, "", ""))

	p, ok := registry.Get(SESName)
	require.True(t, ok)
	require.Equal(t, SESName, p.Name())

	_, ok = registry.Get("NOPE")
	require.False(t, ok)
	require.Equal(t, []string{GmailName, SESName}, registry.Names())
}
