// Package sfx plays short sound effects without blocking the caller.
//
// A Manager decodes every sound once when it is registered and keeps it
// in memory. PlaySound hands the cached samples to a background
// dispatcher and returns immediately, so it is safe to call from UI
// event handlers and hot loops. GetAudioData exposes the decoded
// samples for consumers that want to mix or forward them themselves.
//
//	m, err := sfx.New(ctx, sfx.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer m.Close(ctx)
//
//	m.PlaySound("AP_Engage")
//
// Most programs only need the shared instance:
//
//	sfx.PlaySound("chime_single")
package sfx
