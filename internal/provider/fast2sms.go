package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/templating"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const Fast2SMSName = "FAST2SMS"

var (
	ErrDLTTemplateNotConfigured = errors.New("template not configured for Fast2SMS DLT")
	ErrFast2SMSRejected         = errors.New("Fast2SMS API returned failure")
)

var nonDigits = regexp.MustCompile(`\D`)

type fast2SMSRequest struct {
	Route           string `json:"route"`
	SenderID        string `json:"sender_id"`
	Message         string `json:"message"`
	VariablesValues string `json:"variables_values"`
	Flash           int    `json:"flash"`
	Numbers         string `json:"numbers"`
}

type fast2SMSResponse struct {
	Return    bool            `json:"return"`
	RequestID string          `json:"request_id"`
	Message   json.RawMessage `json:"message"`
	Wallet    json.RawMessage `json:"wallet"`
}

type Fast2SMS struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewFast2SMS() *Fast2SMS {
	return &Fast2SMS{
		BaseURL:    config.Conf.Fast2SMSBaseURL,
		APIKey:     config.Conf.Fast2SMSAPIKey,
		HTTPClient: &http.Client{},
	}
}

func (f *Fast2SMS) Name() string {
	return Fast2SMSName
}

// Send posts a DLT route message; the per-attempt deadline comes from ctx.
func (f *Fast2SMS) Send(ctx context.Context, msg Message) (Receipt, error) {
	if msg.DLT == nil {
		return Receipt{}, fmt.Errorf("%w: %s", ErrDLTTemplateNotConfigured, msg.TemplateCode)
	}

	payload := fast2SMSRequest{
		Route:           "dlt",
		SenderID:        msg.DLT.SenderID,
		Message:         msg.DLT.MessageID,
		VariablesValues: FormatDLTVariables(msg.DLT.Variables, msg.Variables),
		Flash:           0,
		Numbers:         NormalizeIndianNumber(msg.Recipient),
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return Receipt{}, err
	}

	apiURL, err := url.JoinPath(f.BaseURL, "bulkV2")
	if err != nil {
		return Receipt{}, err
	}

	resp, err := f.do(ctx, http.MethodPost, apiURL, reqBody)
	if err != nil {
		logging.Logger.Error("Fast2SMS DLT send failed",
			zap.String("correlation_id", msg.CorrelationID),
			zap.String("template", msg.TemplateCode),
			zap.String("error", err.Error()),
		)

		return Receipt{}, err
	}

	messageID := rawString(resp.Message)
	if len(resp.Message) > 0 && resp.Message[0] == '[' {
		var ids []string
		if json.Unmarshal(resp.Message, &ids) == nil && len(ids) > 0 {
			messageID = ids[0]
		}
	}

	if messageID == "" {
		messageID = resp.RequestID
	}

	logging.Logger.Info("Fast2SMS DLT SMS sent successfully",
		zap.String("correlation_id", msg.CorrelationID),
		zap.String("template", msg.TemplateCode),
		zap.String("message_id", messageID),
	)

	return Receipt{MessageID: messageID}, nil
}

// CheckBalance reads the prepaid wallet.
func (f *Fast2SMS) CheckBalance(ctx context.Context) (float64, error) {
	apiURL, err := url.JoinPath(f.BaseURL, "wallet")
	if err != nil {
		return 0, err
	}

	resp, err := f.do(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return 0, err
	}

	balance, err := strconv.ParseFloat(rawString(resp.Wallet), 64)
	if err != nil {
		return 0, fmt.Errorf("parse Fast2SMS wallet balance: %w", err)
	}

	return balance, nil
}

// CheckHealth only verifies a usable API key; Fast2SMS has no health endpoint.
func (f *Fast2SMS) CheckHealth(context.Context) bool {
	return f.APIKey != "" && !strings.Contains(f.APIKey, "test_")
}

func (f *Fast2SMS) do(ctx context.Context, method, apiURL string, reqBody []byte) (*fast2SMSResponse, error) {
	var body io.Reader
	if reqBody != nil {
		body = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("authorization", f.APIKey)
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := f.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		cerr := httpResp.Body.Close()
		if cerr != nil {
			logging.Logger.Error("Failed to close response body", zap.String("error", cerr.Error()))
		}
	}()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	var resp fast2SMSResponse

	err = json.Unmarshal(respBody, &resp)
	if err != nil {
		return nil, fmt.Errorf("%w: status %d", ErrFast2SMSRejected, httpResp.StatusCode)
	}

	if httpResp.StatusCode != http.StatusOK || !resp.Return {
		reason := rawString(resp.Message)
		if reason == "" {
			reason = fmt.Sprintf("status %d", httpResp.StatusCode)
		}

		return nil, fmt.Errorf("%w: %s", ErrFast2SMSRejected, reason)
	}

	return &resp, nil
}

// NormalizeIndianNumber keeps digits only and strips a 91 country prefix from
// 12-digit numbers.
func NormalizeIndianNumber(phone string) string {
	cleaned := nonDigits.ReplaceAllString(phone, "")
	if len(cleaned) == 12 && strings.HasPrefix(cleaned, "91") {
		cleaned = cleaned[2:]
	}

	return cleaned
}

// FormatDLTVariables joins the template variables as "v1|v2|" with a trailing pipe.
func FormatDLTVariables(names []string, variables map[string]any) string {
	var b strings.Builder

	for _, name := range names {
		value, _ := templating.Value(variables, name)
		b.WriteString(value)
		b.WriteByte('|')
	}

	return b.String()
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}

	return strings.Trim(string(raw), `"`)
}
