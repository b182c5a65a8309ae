package nse

import "time"

// Observer receives fetch-path events. Implementations must be safe for concurrent use.
type Observer interface {
	SlotAcquired()
	SlotReleased()
	AttemptFailed(path string, err error)
	CredentialRotated()
	FetchLatency(d time.Duration)
}

type nopObserver struct{}

func (nopObserver) SlotAcquired()               {}
func (nopObserver) SlotReleased()               {}
func (nopObserver) AttemptFailed(string, error) {}
func (nopObserver) CredentialRotated()          {}
func (nopObserver) FetchLatency(time.Duration)  {}
