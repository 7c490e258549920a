// Package cooldown tracks per-credential, per-model-group cooldown windows.
//
// The tracker never delays a caller; it only answers whether a credential is
// currently cooling down so the scheduler can filter it out. State is held in
// memory only; losing it on restart shortens enforced cooldowns at worst.
//
// Usage:
//
//	tracker := cooldown.NewTracker()
//	tracker.Start(credID, group, time.Now(), 4*time.Second)
//	if tracker.IsCoolingDown(credID, group, time.Now()) {
//	    // skip this credential
//	}
package cooldown
