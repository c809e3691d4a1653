// Package push carries reminder notifications to respondent devices. The real
// transport is an external collaborator; this package defines the contract the
// dispatcher needs plus a development sender.
package push

import "log"

// Sender delivers one message to one device token. A returned error concerns that
// recipient only; the dispatcher logs it and continues with the rest.
type Sender interface {
	Send(token, title, body string, data map[string]string) error
}

// LogSender writes notifications to the process log instead of delivering them.
// Default sender in development and when no transport is configured.
type LogSender struct{}

func (LogSender) Send(token, title, body string, data map[string]string) error {
	log.Printf("push: to=%s title=%q body=%q data=%v", token, title, body, data)
	return nil
}
