// Package validation provides input validation for chainscout.
package validation

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
)

// ValidateAddress validates an EVM address
func ValidateAddress(addr string) error {
	if len(addr) != 42 {
		return errors.New("invalid address length: must be 42 characters (0x + 40 hex)")
	}
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return errors.New("invalid address: must start with 0x")
	}
	// Check hex characters
	for _, c := range addr[2:] {
		isDigit := c >= '0' && c <= '9'
		isLowerHex := c >= 'a' && c <= 'f'
		isUpperHex := c >= 'A' && c <= 'F'
		if !isDigit && !isLowerHex && !isUpperHex {
			return errors.New("invalid address: contains non-hex characters")
		}
	}
	return nil
}

// ValidateChainID validates a chain ID
func ValidateChainID(chainID int64) error {
	if chainID <= 0 {
		return errors.New("chain ID must be positive")
	}
	return nil
}

// ValidateThreshold validates a relevance threshold
func ValidateThreshold(threshold float64) error {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %v", threshold)
	}
	return nil
}

// ValidateRPCURL validates an RPC endpoint the probe can dial
func ValidateRPCURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid RPC URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported RPC URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("RPC URL has no host")
	}
	return nil
}
