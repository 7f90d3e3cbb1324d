package poller

import "fmt"

// FetchError reports that retrieving items for a source failed. The tick
// that hit it ends without changing any state.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DeliveryError reports that forwarding one item failed. It never affects
// other items or sources.
type DeliveryError struct {
	Source string
	ItemID string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s item %s: %v", e.Source, e.ItemID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ConfigurationError reports a source whose settings prevent it from being
// scheduled, such as an unusable delivery target.
type ConfigurationError struct {
	Source string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("source %s misconfigured: %v", e.Source, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
