package service

import "github.com/xiaot623/autoreply/internal/domain"

// nextStatus is the session transition table. ok is false when the event is
// not accepted in the current status and must be ignored.
//
//	disconnected --qr--> pairing --ready--> connected --disconnected--> disconnected
//	pairing|connected --auth_failure--> error
//
// Message events never change the status and are accepted only while connected.
func nextStatus(current domain.SessionStatus, evt domain.Event) (domain.SessionStatus, bool) {
	switch evt.(type) {
	case domain.QREvent:
		switch current {
		case domain.SessionStatusDisconnected, domain.SessionStatusPairing:
			return domain.SessionStatusPairing, true
		}
	case domain.ReadyEvent:
		// Backends without pairing report ready straight from disconnected.
		switch current {
		case domain.SessionStatusDisconnected, domain.SessionStatusPairing, domain.SessionStatusConnected:
			return domain.SessionStatusConnected, true
		}
	case domain.MessageEvent:
		if current == domain.SessionStatusConnected {
			return current, true
		}
	case domain.DisconnectedEvent:
		switch current {
		case domain.SessionStatusPairing, domain.SessionStatusConnected:
			return domain.SessionStatusDisconnected, true
		}
	case domain.AuthFailureEvent:
		// A client can fail before its first QR, while still disconnected.
		switch current {
		case domain.SessionStatusDisconnected, domain.SessionStatusPairing, domain.SessionStatusConnected:
			return domain.SessionStatusError, true
		}
	}
	return current, false
}

// isTerminal reports whether the actor stops after entering status.
func isTerminal(status domain.SessionStatus) bool {
	return status == domain.SessionStatusDisconnected || status == domain.SessionStatusError
}
