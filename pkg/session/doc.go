// Package session owns the connection to the running application.
//
// The Facade caches the application root, its project manager and the open
// project. The cache is advisory: the operator may close or switch projects at
// any time, so handlers call RefreshProject before touching project state.
//
// State moves Disconnected -> Connecting -> Connected. A failing accessor never
// demotes the state on its own; only Reconnect does, and Verify is the explicit
// liveness check that triggers it.
//
//	facade := session.New(bridge.New(bridge.DefaultConfig()), nil)
//	s, err := facade.Current(ctx)
//	if errors.Is(err, session.ErrNotConnected) {
//		// Resolve is not running
//	}
package session
