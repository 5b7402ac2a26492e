package analysis

import (
	"sync"
	"time"

	"soundnerd/internal/logging"
)

// Mode selects which analysis configuration the external process runs with.
type Mode int

const (
	// ModeStandard enables all native analysis paths.
	ModeStandard Mode = iota
	// ModeSafe disables the crash-prone subsystems (heavy DSP, ML
	// inference, fingerprinting) via environment flags.
	ModeSafe
)

func (m Mode) String() string {
	if m == ModeSafe {
		return "safe"
	}
	return "standard"
}

// CooldownState tracks recent crash history as two independent time-boxed
// windows. Written only by failure handlers, read by every new request;
// last-writer-wins is fine because these are advisory hints that decay
// by wall clock.
type CooldownState struct {
	mu sync.Mutex

	safeUntil      time.Time
	emergencyUntil time.Time

	safeWindow      time.Duration
	emergencyWindow time.Duration

	now func() time.Time // overridable in tests
}

// NewCooldownState creates cooldown tracking with the given window durations.
func NewCooldownState(safeWindow, emergencyWindow time.Duration) *CooldownState {
	return &CooldownState{
		safeWindow:      safeWindow,
		emergencyWindow: emergencyWindow,
		now:             time.Now,
	}
}

// ArmSafe opens the safe-mode window: new requests start directly in Safe
// mode until it expires.
func (c *CooldownState) ArmSafe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.safeUntil = c.now().Add(c.safeWindow)
	logging.Analysis("safe-mode cooldown armed for %v", c.safeWindow)
}

// ArmEmergency opens the emergency window: new requests skip analysis
// entirely and synthesize a fallback record until it expires.
func (c *CooldownState) ArmEmergency() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emergencyUntil = c.now().Add(c.emergencyWindow)
	logging.Analysis("emergency-fallback cooldown armed for %v", c.emergencyWindow)
}

// SafeActive reports whether the safe-mode window is open.
func (c *CooldownState) SafeActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Before(c.safeUntil)
}

// EmergencyActive reports whether the emergency window is open.
func (c *CooldownState) EmergencyActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Before(c.emergencyUntil)
}

// StartingMode picks the mode for a new request. synthesize is true when
// the emergency window is open and the request should skip analysis.
func (c *CooldownState) StartingMode() (mode Mode, synthesize bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	switch {
	case now.Before(c.emergencyUntil):
		return ModeSafe, true
	case now.Before(c.safeUntil):
		return ModeSafe, false
	default:
		return ModeStandard, false
	}
}
