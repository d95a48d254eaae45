package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBondTransitions(t *testing.T) {
	// PENDING 可以流向所有终态
	assert.True(t, BondCanTransitionTo(BondStatusPending, BondStatusRefunded))
	assert.True(t, BondCanTransitionTo(BondStatusPending, BondStatusTransferred))
	assert.True(t, BondCanTransitionTo(BondStatusPending, BondStatusExpired))

	// 终态不可再变更
	for _, terminal := range []string{BondStatusRefunded, BondStatusTransferred, BondStatusExpired} {
		assert.False(t, BondCanTransitionTo(terminal, BondStatusPending))
		assert.False(t, BondCanTransitionTo(terminal, BondStatusRefunded))
		assert.False(t, BondCanTransitionTo(terminal, BondStatusExpired))
	}
}

func TestDepositTransitions(t *testing.T) {
	assert.True(t, DepositCanTransitionTo(DepositStatusPending, DepositStatusClaimed))
	assert.True(t, DepositCanTransitionTo(DepositStatusPending, DepositStatusExpired))

	assert.False(t, DepositCanTransitionTo(DepositStatusClaimed, DepositStatusExpired))
	assert.False(t, DepositCanTransitionTo(DepositStatusExpired, DepositStatusClaimed))
	assert.False(t, DepositCanTransitionTo(DepositStatusClaimed, DepositStatusPending))
}
