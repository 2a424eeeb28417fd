package mqtt

import "go.uber.org/zap"

// newNopLogger returns a *zap.Logger that discards everything, the default
// for a Client that was not given one via WithLogger. Mirrors VolantMQ's
// session/connection package, which always has a concrete *zap.Logger in
// hand (never a nil-checked interface) and relies on a no-op logger to make
// "logging disabled" a real logger rather than a special case at call
// sites.
func newNopLogger() *zap.Logger { return zap.NewNop() }
