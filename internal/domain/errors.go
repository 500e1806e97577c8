package domain

import "fmt"

// ValidationError reports a malformed order request (bad volume or step).
type ValidationError struct {
	Symbol string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("order validation failed for %s: %s", e.Symbol, e.Reason)
}

// ExecutionError reports that the gateway rejected or timed out a leg.
type ExecutionError struct {
	Symbol string
	Code   int
	Reason string
}

func (e *ExecutionError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("execution failed for %s (code %d): %s", e.Symbol, e.Code, e.Reason)
	}
	return fmt.Sprintf("execution failed for %s: %s", e.Symbol, e.Reason)
}

// ConnectivityError reports an unreachable gateway.
type ConnectivityError struct {
	Gateway string
	Reason  string
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("gateway %s unreachable: %s", e.Gateway, e.Reason)
}

// ConfigurationError reports a missing or invalid configuration parameter.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Key, e.Reason)
}

// RecoveryTimeoutError reports a hedge chain that exceeded its time budget
// without reaching net profit.
type RecoveryTimeoutError struct {
	Symbol  string
	Elapsed float64 // seconds
}

func (e *RecoveryTimeoutError) Error() string {
	return fmt.Sprintf("recovery for %s timed out after %.0fs", e.Symbol, e.Elapsed)
}
