// Package securerule implements the declarative rule engine: an ordered
// set of priority-sorted rules evaluated before RBAC on every
// security-sensitive action, backed by the rate limiter, the audit sink,
// and the permission resolver.
package securerule

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/aegis-chat/aegis-ids/internal/audit"
	"github.com/aegis-chat/aegis-ids/internal/channel"
	"github.com/aegis-chat/aegis-ids/internal/permbits"
	"github.com/aegis-chat/aegis-ids/internal/permission"
	"github.com/aegis-chat/aegis-ids/internal/ratelimit"
)

// ErrChannelNotFound is returned by EvaluateRules when the target channel
// does not exist.
var ErrChannelNotFound = errors.New("channel not found")

// Decision is the closed set of outcomes a rule (or the engine's default
// terminal policy) may produce.
type Decision string

const (
	Allow    Decision = "allow"
	Deny     Decision = "deny"
	Continue Decision = "continue"
)

// Action names the operation being checked. It is a closed, named set
// rather than a bare string so rule applicability lists stay typo-proof.
type Action string

const (
	ActionAny              Action = "*"
	ActionSendMessage      Action = "send_message"
	ActionDeleteMessage    Action = "delete_message"
	ActionEditMessage      Action = "edit_message"
	ActionViewChannel      Action = "view_channel"
	ActionViewLogs         Action = "view_logs"
	ActionTriggerLockdown  Action = "trigger_lockdown"
	ActionReleaseLockdown  Action = "release_lockdown"
	ActionSetSecure        Action = "set_secure"
	ActionRemoveSecure     Action = "remove_secure"
	ActionOverrideSecurity Action = "override_security"
)

// Outcome is the result of evaluating the rule chain for one request.
type Outcome struct {
	Decision Decision
	Reason   string
	Audited  bool
}

// Request bundles everything a rule needs to evaluate one access check.
type Request struct {
	PrincipalID   uuid.UUID
	ServerID      uuid.UUID
	ChannelID     uuid.UUID
	Action        Action
	PermissionKey permbits.Bitfield
	// IsOwnMessage answers the block_unauthorized_delete rule's
	// extra.isOwnMessage check. Authorship is a message-layer fact outside
	// this core's scope, so the caller supplies it rather than the engine
	// re-deriving it.
	IsOwnMessage bool
	IP           string
	UserAgent    string
}

// evalState is the per-call working context threaded through rule
// evaluation: the loaded channel snapshot and the principal's precomputed
// security level.
type evalState struct {
	req           Request
	channel       *channel.Channel
	securityLevel int
}

// rule is a single priority-ordered decision function.
type rule struct {
	id       string
	priority int
	actions  map[Action]struct{} // empty/nil means wildcard
	evaluate func(ctx context.Context, st *evalState) Outcome
}

func (r rule) appliesTo(a Action) bool {
	if len(r.actions) == 0 {
		return true
	}
	_, ok := r.actions[a]
	return ok
}

// Thresholds groups the configurable security-level cutoffs the built-in
// rules compare against.
type Thresholds struct {
	LockdownBypassLevel  int
	SecureViewLogsLevel  int
	SecureLockdownLevel  int
	BlockDeleteLevel     int
	RateLimitExemptLevel int
}

// Engine holds the priority-sorted rule set and its collaborators.
type Engine struct {
	rules      []rule
	channels   channel.Repository
	resolver   *permission.Resolver
	limiter    *ratelimit.Limiter
	sink       *audit.Sink
	thresholds Thresholds
	decisions  *prometheus.CounterVec
	log        zerolog.Logger
}

// SetDecisionCounter wires a rule-engine decision counter, labeled by rule
// id and decision ("default_policy" as the rule id when no rule fired).
// Optional; a nil counter (the default) disables observation.
func (e *Engine) SetDecisionCounter(c *prometheus.CounterVec) {
	e.decisions = c
}

func (e *Engine) observeDecision(ruleID string, decision Decision) {
	if e.decisions == nil {
		return
	}
	e.decisions.WithLabelValues(ruleID, string(decision)).Inc()
}

// NewEngine builds an Engine with the six built-in rules,
// wired to the given collaborators.
func NewEngine(channels channel.Repository, resolver *permission.Resolver, limiter *ratelimit.Limiter, sink *audit.Sink, thresholds Thresholds, logger zerolog.Logger) *Engine {
	e := &Engine{
		channels:   channels,
		resolver:   resolver,
		limiter:    limiter,
		sink:       sink,
		thresholds: thresholds,
		log:        logger,
	}
	e.rules = e.buildRules()
	sort.SliceStable(e.rules, func(i, j int) bool { return e.rules[i].priority < e.rules[j].priority })
	return e
}

// EvaluateRules loads the channel, computes the principal's security
// level, and walks the applicable rules in priority order until one
// returns a terminal decision.
func (e *Engine) EvaluateRules(ctx context.Context, req Request) (Outcome, error) {
	ch, err := e.channels.GetByID(ctx, req.ChannelID)
	if err != nil {
		if errors.Is(err, channel.ErrNotFound) {
			return Outcome{}, ErrChannelNotFound
		}
		return Outcome{}, fmt.Errorf("load channel: %w", err)
	}

	level, err := e.resolver.ResolveSecurityLevel(ctx, req.PrincipalID, req.ServerID)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve security level: %w", err)
	}

	st := &evalState{req: req, channel: ch, securityLevel: level}

	for _, r := range e.rules {
		if !r.appliesTo(req.Action) {
			continue
		}
		outcome := r.evaluate(ctx, st)
		if outcome.Decision == Continue {
			continue
		}

		if outcome.Audited {
			e.emitAudit(ctx, st, r.id, outcome)
		}
		e.observeDecision(r.id, outcome.Decision)
		return outcome, nil
	}

	if ch.IsSecure {
		e.observeDecision("default_policy", Deny)
		return Outcome{Decision: Deny, Reason: "secure_channel_default_deny"}, nil
	}
	e.observeDecision("default_policy", Allow)
	return Outcome{Decision: Allow, Reason: "no_rule_blocked"}, nil
}

// CheckAccess composes the rule engine with the bitfield resolver: the rule
// engine's decision gates bitfield evaluation, and a secure channel always
// requires VIEW_CHANNEL in addition to the checked key (unless the checked
// key is itself VIEW_CHANNEL).
func (e *Engine) CheckAccess(ctx context.Context, req Request) (Outcome, error) {
	outcome, err := e.EvaluateRules(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	if outcome.Decision == Deny {
		return outcome, nil
	}

	required := req.PermissionKey
	allowed, err := e.resolver.HasPermission(ctx, req.PrincipalID, req.ServerID, req.ChannelID, required)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve permission: %w", err)
	}
	if allowed && req.PermissionKey != permbits.ViewChannel {
		ch, err := e.channels.GetByID(ctx, req.ChannelID)
		if err != nil {
			return Outcome{}, fmt.Errorf("load channel: %w", err)
		}
		if ch.IsSecure {
			allowed, err = e.resolver.HasPermission(ctx, req.PrincipalID, req.ServerID, req.ChannelID, permbits.ViewChannel)
			if err != nil {
				return Outcome{}, fmt.Errorf("resolve view permission: %w", err)
			}
		}
	}
	if !allowed {
		return Outcome{Decision: Deny, Reason: "missing_permission"}, nil
	}

	ch, err := e.channels.GetByID(ctx, req.ChannelID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load channel: %w", err)
	}
	if ch.IsSecure && !outcome.Audited {
		e.emitAudit(ctx, &evalState{req: req, channel: ch}, permissionKeyReasonLabel(req.PermissionKey), Outcome{Decision: Allow})
	}

	return Outcome{Decision: Allow, Reason: outcome.Reason}, nil
}

func permissionKeyReasonLabel(bit permbits.Bitfield) string {
	return bit.String()
}

func (e *Engine) emitAudit(ctx context.Context, st *evalState, permissionChecked string, outcome Outcome) {
	if e.sink == nil {
		return
	}

	result := audit.ResultAllowed
	if outcome.Decision == Deny {
		result = audit.ResultDenied
	}

	channelID := st.req.ChannelID
	_, err := e.sink.Append(ctx, audit.Entry{
		ServerID:          st.req.ServerID,
		ChannelID:         &channelID,
		PrincipalID:       st.req.PrincipalID,
		Action:            string(st.req.Action),
		PermissionChecked: permissionChecked,
		Result:            result,
		Metadata:          outcome.Reason,
		IP:                st.req.IP,
		UserAgent:         st.req.UserAgent,
	})
	if err != nil {
		e.log.Warn().Err(err).Msg("audit write failed")
	}
}
