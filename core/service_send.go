package core

import (
	"context"
	"fmt"
	"strings"
)

// Send delivers one reply through the account's platform client. Admission, the
// retried platform call and usage recording run under the account lock so that
// concurrent sends cannot overshoot the window.
func (s *Service) Send(ctx context.Context, accountID string, message string, recipientID string) (result SendResult, err error) {
	startedAt := s.now()
	accountID = strings.TrimSpace(accountID)
	conn, connected := s.Connection(accountID)
	defer func() {
		s.observeOperation(ctx, startedAt, "send", err, map[string]any{
			"account_id": accountID,
			"platform":   string(conn.Platform),
		})
	}()

	if !connected {
		return SendResult{}, s.mapError(&NotConnectedError{AccountID: accountID})
	}
	if strings.TrimSpace(message) == "" {
		return SendResult{}, s.mapError(fmt.Errorf("core: message is required"))
	}

	unlock, err := s.lockAccount(ctx, accountID)
	if err != nil {
		return SendResult{}, s.mapError(err)
	}
	defer unlock()

	// The connection may have been refreshed or dropped while waiting for the lock.
	if conn, connected = s.Connection(accountID); !connected {
		return SendResult{}, s.mapError(&NotConnectedError{AccountID: accountID})
	}
	client, err := s.clientFor(conn.Platform)
	if err != nil {
		return SendResult{}, s.mapError(err)
	}

	if err = s.governor.CheckAdmission(accountID, conn.Platform); err != nil {
		return SendResult{}, s.mapError(err)
	}

	ec := ErrorContext{AccountID: accountID, Platform: conn.Platform, Action: "sendAutoreply"}
	var receipt SendReceipt
	err = s.retrier.Execute(ctx, func(ctx context.Context) error {
		sent, sendErr := client.Send(ctx, conn, message, recipientID)
		if sendErr != nil {
			return sendErr
		}
		receipt = sent
		s.governor.RecordUsage(accountID, conn.Platform)
		return nil
	}, ec)
	if err != nil {
		if info := s.retrier.Classify(err); info.Kind == ErrorKindAuth {
			if authErr := s.retrier.OnAuthError(ctx, ec, heldLockInvalidator{service: s}); authErr != nil {
				return SendResult{}, s.mapError(authErr)
			}
		}
		return SendResult{}, s.mapError(err)
	}

	return SendResult{
		MessageID: receipt.MessageID,
		Platform:  conn.Platform,
		Timestamp: s.now().UTC(),
	}, nil
}
