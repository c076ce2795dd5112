package faults

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigErrorNamesField(t *testing.T) {
	err := Configf("benchmark", "SPY", "symbol not present in price table")
	assert.Equal(t, "configuration error: benchmark=SPY: symbol not present in price table", err.Error())

	wrapped := fmt.Errorf("detect regime: %w", err)
	assert.True(t, IsConfig(wrapped))
	assert.False(t, IsConfig(ErrMissingPrice))
}

func TestConfigErrorWithoutValue(t *testing.T) {
	err := &ConfigError{Field: "regime.weights", Reason: "weights must sum to a positive value"}
	assert.Equal(t, "configuration error: regime.weights: weights must sum to a positive value", err.Error())
}

func TestInsufficientDataError(t *testing.T) {
	err := &InsufficientDataError{What: "covariance", Have: 12, Need: 60}
	assert.Contains(t, err.Error(), "have 12, need 60")
}
