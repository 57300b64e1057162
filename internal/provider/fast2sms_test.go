package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/catalog"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func newFast2SMS(t *testing.T, handler http.HandlerFunc) *Fast2SMS {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &Fast2SMS{BaseURL: server.URL, APIKey: "live-key", HTTPClient: server.Client()}
}

func otpMessage() Message {
	return Message{
		CorrelationID: "corr-1",
		Recipient:     "+91 98765-43210",
		TemplateCode:  "OTP_VERIFICATION",
		DLT:           &catalog.DLTTemplate{MessageID: "208230", SenderID: "DOSTAI", Variables: []string{"otp"}},
		Variables:     map[string]any{"otp": float64(123456)},
	}
}

func TestFast2SMSSend(t *testing.T) {
	var got fast2SMSRequest

	f := newFast2SMS(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/bulkV2", r.URL.Path)
		require.Equal(t, "live-key", r.Header.Get("authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))

		_, _ = w.Write([]byte(`{"return":true,"request_id":"req-9","message":["SMS sent successfully."]}`))
	})

	receipt, err := f.Send(context.Background(), otpMessage())
	require.NoError(t, err)
	require.Equal(t, "SMS sent successfully.", receipt.MessageID)

	require.Equal(t, "dlt", got.Route)
	require.Equal(t, "DOSTAI", got.SenderID)
	require.Equal(t, "208230", got.Message)
	require.Equal(t, "123456|", got.VariablesValues)
	require.Equal(t, "9876543210", got.Numbers)
	require.Zero(t, got.Flash)
}

func TestFast2SMSSendRejected(t *testing.T) {
	f := newFast2SMS(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"return":false,"status_code":412,"message":"Invalid Authentication"}`))
	})

	_, err := f.Send(context.Background(), otpMessage())
	require.ErrorIs(t, err, ErrFast2SMSRejected)
	require.Contains(t, err.Error(), "Invalid Authentication")
}

func TestFast2SMSSendWithoutDLT(t *testing.T) {
	f := newFast2SMS(t, func(http.ResponseWriter, *http.Request) {
		t.Fatal("no request expected")
	})

	msg := otpMessage()
	msg.DLT = nil

	_, err := f.Send(context.Background(), msg)
	require.ErrorIs(t, err, ErrDLTTemplateNotConfigured)
}

func TestFast2SMSSendHonoursDeadline(t *testing.T) {
	f := newFast2SMS(t, func(_ http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.Send(ctx, otpMessage())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFast2SMSCheckBalance(t *testing.T) {
	f := newFast2SMS(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/wallet", r.URL.Path)
		_, _ = w.Write([]byte(`{"return":true,"wallet":"1523.50","sms_count":7617}`))
	})

	balance, err := f.CheckBalance(context.Background())
	require.NoError(t, err)
	require.InDelta(t, 1523.5, balance, 0.001)
}

func TestFast2SMSCheckHealth(t *testing.T) {
	require.True(t, (&Fast2SMS{APIKey: "live-key"}).CheckHealth(context.Background()))
	require.False(t, (&Fast2SMS{APIKey: "test_abc"}).CheckHealth(context.Background()))
	require.False(t, (&Fast2SMS{}).CheckHealth(context.Background()))
}

func TestNormalizeIndianNumber(t *testing.T) {
	cases := map[string]string{
		"+91 98765 43210": "9876543210",
		"919876543210":    "9876543210",
		"9876543210":      "9876543210",
		"(987) 654-3210":  "9876543210",
		"91987654321":     "91987654321",
	}

	for in, want := range cases {
		require.Equal(t, want, NormalizeIndianNumber(in), in)
	}
}

func TestFormatDLTVariables(t *testing.T) {
	vars := map[string]any{"otp": "4821", "minutes": float64(5)}

	require.Equal(t, "4821|5|", FormatDLTVariables([]string{"otp", "minutes"}, vars))
	require.Equal(t, "4821||", FormatDLTVariables([]string{"otp", "missing"}, vars))
	require.Empty(t, FormatDLTVariables(nil, vars))
}
