// Package dedupe remembers recently seen keys so redelivered events can be
// dropped. Entries expire after a fixed window and the set is size-bounded.
package dedupe
