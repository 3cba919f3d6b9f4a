package securerule

import (
	"context"
	"fmt"
)

// buildRules constructs the six built-in rules in priority order. Lower
// priority numbers run first.
func (e *Engine) buildRules() []rule {
	t := e.thresholds

	return []rule{
		{
			id:       "lockdown_block",
			priority: 0,
			evaluate: func(_ context.Context, st *evalState) Outcome {
				if !st.channel.Lockdown {
					return Outcome{Decision: Continue}
				}
				if st.securityLevel < t.LockdownBypassLevel {
					return Outcome{Decision: Deny, Reason: "channel_is_locked_down", Audited: true}
				}
				return Outcome{Decision: Allow, Reason: "lockdown_bypass_co_owner+", Audited: true}
			},
		},
		{
			id:       "owner_override",
			priority: 10,
			actions:  actionSet(ActionOverrideSecurity, ActionSetSecure, ActionRemoveSecure),
			evaluate: func(_ context.Context, st *evalState) Outcome {
				const ownerLevel = 100
				if st.securityLevel >= ownerLevel {
					return Outcome{Decision: Allow, Reason: "owner_override_granted"}
				}
				return Outcome{Decision: Deny, Reason: "requires_owner", Audited: true}
			},
		},
		{
			id:       "secure_view_logs",
			priority: 10,
			actions:  actionSet(ActionViewLogs),
			evaluate: func(_ context.Context, st *evalState) Outcome {
				if !st.channel.IsSecure {
					return Outcome{Decision: Continue}
				}
				if st.securityLevel >= t.SecureViewLogsLevel {
					return Outcome{Decision: Allow, Reason: "view_logs_authorized"}
				}
				return Outcome{Decision: Deny, Reason: "requires_security_admin"}
			},
		},
		{
			id:       "secure_trigger_lockdown",
			priority: 10,
			actions:  actionSet(ActionTriggerLockdown, ActionReleaseLockdown),
			evaluate: func(_ context.Context, st *evalState) Outcome {
				if !st.channel.IsSecure {
					return Outcome{Decision: Continue}
				}
				if st.securityLevel >= t.SecureLockdownLevel {
					return Outcome{Decision: Allow, Reason: "lockdown_authorized"}
				}
				return Outcome{Decision: Deny, Reason: "requires_admin"}
			},
		},
		{
			id:       "block_unauthorized_delete",
			priority: 20,
			actions:  actionSet(ActionDeleteMessage),
			evaluate: func(_ context.Context, st *evalState) Outcome {
				if !st.channel.IsSecure {
					return Outcome{Decision: Continue}
				}
				if st.req.IsOwnMessage {
					return Outcome{Decision: Allow, Reason: "own_message_delete"}
				}
				if st.securityLevel >= t.BlockDeleteLevel {
					return Outcome{Decision: Allow, Reason: "security_admin_delete"}
				}
				return Outcome{Decision: Deny, Reason: "unauthorized_delete", Audited: true}
			},
		},
		{
			id:       "secure_rate_limit",
			priority: 50,
			actions:  actionSet(ActionSendMessage),
			evaluate: func(ctx context.Context, st *evalState) Outcome {
				if !st.channel.IsSecure {
					return Outcome{Decision: Continue}
				}
				if st.securityLevel >= t.RateLimitExemptLevel {
					return Outcome{Decision: Allow, Reason: "rate_limit_exempt"}
				}
				allowed, count := e.limiter.Allow(ctx, st.req.PrincipalID, st.req.ChannelID)
				if !allowed {
					return Outcome{
						Decision: Deny,
						Reason:   fmt.Sprintf("secure_rate_limited: %d events in window", count),
						Audited:  true,
					}
				}
				return Outcome{Decision: Allow, Reason: "secure_rate_limit_under_cap"}
			},
		},
	}
}

func actionSet(actions ...Action) map[Action]struct{} {
	set := make(map[Action]struct{}, len(actions))
	for _, a := range actions {
		set[a] = struct{}{}
	}
	return set
}
