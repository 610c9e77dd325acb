// Package coordination provides a Hub that wires the session ownership and
// collaboration components together for one signed-in user.
//
// The Hub creates and manages:
//
//	api.Client → fulfillment.Controller ⇄ takeover.Coordinator
//
// Plus the shared realtime plumbing:
//
//   - Realtime Channel (one connection, joined to the inventory room)
//   - Presence Tracker (roster and cell locks for the room)
//   - Takeover Negotiator (owner-to-owner requests over the channel)
//
// And the safety nets:
//
//   - Active-work Token (the one session this client is working)
//   - Recovery Manager (drafts the active session on abandonment)
//   - Dashboard Aggregator (fleet view, started with WithDashboard)
//
// Usage:
//
//	hub, err := coordination.NewHub(coordination.Config{
//	    Settings:  cfg,
//	    Prompter:  prompter,
//	    Navigator: navigator,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := hub.Start(ctx); err != nil {
//	    return err
//	}
//	defer hub.Stop()
//
//	sess, err := hub.Controller().Open(ctx, "SO1042", api.SessionPick)
package coordination
