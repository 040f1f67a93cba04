// Package router routes inference requests to tiered model providers.
//
// A request names a tier (high, low, free); each tier carries an ordered
// rotation of (provider, model) descriptors. The router checks the response
// cache first, then walks the rotation, retrying each descriptor with
// exponential backoff before moving to the next. Every call, hit or miss,
// lands in the token ledger. Exhaustion resolves to a synthesized
// "[inference unavailable: ...]" string rather than an error, so workflow
// steps degrade instead of aborting.
package router
