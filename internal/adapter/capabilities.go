package adapter

import "slices"

// Capability names one operation of the Adapter contract.
type Capability string

// Adapter capabilities.
const (
	CapOpenGate        Capability = "open_gate"
	CapCloseGate       Capability = "close_gate"
	CapSendDisplay     Capability = "send_display"
	CapSendPaymentInfo Capability = "send_payment_info"
	CapRequestPayment  Capability = "request_payment"
	CapCancelPayment   Capability = "cancel_payment"
	CapCheckHealth     Capability = "check_health"
)

// RequiredCapabilities is the full contract a conforming adapter supports.
var RequiredCapabilities = CapabilitySet{
	CapOpenGate,
	CapCloseGate,
	CapSendDisplay,
	CapSendPaymentInfo,
	CapRequestPayment,
	CapCancelPayment,
	CapCheckHealth,
}

// CapabilitySet is an ordered list of capabilities.
type CapabilitySet []Capability

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool {
	return slices.Contains(s, c)
}

// Missing returns the entries of required that are not in s, in required order.
func (s CapabilitySet) Missing(required CapabilitySet) CapabilitySet {
	var missing CapabilitySet
	for _, c := range required {
		if !s.Has(c) {
			missing = append(missing, c)
		}
	}
	return missing
}

// Strings returns the capability names, for logging and JSON.
func (s CapabilitySet) Strings() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = string(c)
	}
	return out
}
