package detect

import "time"

// SetClock overrides the engine's time source for refractory-window tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }
