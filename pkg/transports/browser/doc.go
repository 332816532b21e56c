// Package browser implements the engine's page driver on top of Chrome and
// the DevTools protocol.
//
// A Launcher starts one headless (or headed) Chrome per session. Page calls
// wait up to SettleTimeout for their target and then report it as missing
// (engine.ErrTargetNotFound) or present but hidden (engine.ErrNotRendered).
// Any failure after the browser went away is engine.ErrSessionLost.
package browser
