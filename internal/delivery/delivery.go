// Package delivery carries issued OTP codes to the employee's contact
// channels. Delivery is a collaborator concern: the engine only needs to
// know whether at least one channel succeeded.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/altrix0/pcit-crd-sub000/internal/model"
)

type Sender interface {
	Send(ctx context.Context, account model.Account, purpose model.Purpose, code string) error
}

// LogSender acknowledges delivery without a real channel. It logs the
// dispatch event only, never the code. Used when no gateway is configured.
type LogSender struct {
	Logger *zap.Logger
}

func (s *LogSender) Send(_ context.Context, account model.Account, purpose model.Purpose, _ string) error {
	if s.Logger != nil {
		s.Logger.Info("otp dispatched via log sender",
			zap.String("account_id", account.ID),
			zap.String("purpose", string(purpose)),
		)
	}
	return nil
}

// SMSSender posts the code to an SMS gateway. It fails fast when the
// account has no registered mobile number.
type SMSSender struct {
	GatewayURL string
	AuthToken  string
	Client     *http.Client
}

func NewSMSSender(gatewayURL, authToken string) *SMSSender {
	return &SMSSender{
		GatewayURL: gatewayURL,
		AuthToken:  authToken,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type smsPayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

func (s *SMSSender) Send(ctx context.Context, account model.Account, purpose model.Purpose, code string) error {
	if account.Mobile == nil || *account.Mobile == "" {
		return errors.New("account has no mobile number")
	}

	message := fmt.Sprintf("Your PCIT portal verification code is %s. It expires in 10 minutes.", code)
	if purpose == model.PurposePasswordReset {
		message = fmt.Sprintf("Your PCIT portal password reset code is %s. It expires in 10 minutes.", code)
	}

	body, err := json.Marshal(smsPayload{To: *account.Mobile, Message: message})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.AuthToken)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned %d", resp.StatusCode)
	}
	return nil
}
