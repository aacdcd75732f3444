package policy

import (
	"strings"

	"github.com/technosupport/ts-eventgate/internal/config"
)

// CameraPolicy is the per-camera routing and notification configuration.
// It is immutable once built; accessors return copies.
type CameraPolicy struct {
	name            string
	desired         map[int]struct{}
	desiredOrder    []int
	emailEnabled    bool
	emailRecipients []string
	chatEnabled     bool
	chatTargets     []string
}

// NewCameraPolicy builds a policy from its configuration block.
func NewCameraPolicy(name string, c config.CameraConfig) CameraPolicy {
	p := CameraPolicy{
		name:         name,
		desired:      make(map[int]struct{}, len(c.DesiredClasses)),
		emailEnabled: c.EmailEnabled,
		chatEnabled:  c.ChatEnabled,
	}
	for _, id := range c.DesiredClasses {
		if _, dup := p.desired[id]; dup {
			continue
		}
		p.desired[id] = struct{}{}
		p.desiredOrder = append(p.desiredOrder, id)
	}
	for _, r := range c.EmailRecipients {
		if r = strings.TrimSpace(r); r != "" {
			p.emailRecipients = append(p.emailRecipients, r)
		}
	}
	for _, t := range c.ChatTargets {
		if t = strings.TrimSpace(t); t != "" {
			p.chatTargets = append(p.chatTargets, t)
		}
	}
	return p
}

func (p CameraPolicy) Name() string { return p.name }

// Wants reports whether classID is one of the desired classes.
func (p CameraPolicy) Wants(classID int) bool {
	_, ok := p.desired[classID]
	return ok
}

func (p CameraPolicy) DesiredClasses() []int {
	return append([]int(nil), p.desiredOrder...)
}

// EmailRecipients returns the non-empty, trimmed recipients.
func (p CameraPolicy) EmailRecipients() []string {
	return append([]string(nil), p.emailRecipients...)
}

// ChatTargets returns the non-empty chat targets.
func (p CameraPolicy) ChatTargets() []string {
	return append([]string(nil), p.chatTargets...)
}

func (p CameraPolicy) WantsEmail() bool {
	return p.emailEnabled && len(p.emailRecipients) > 0
}

func (p CameraPolicy) WantsChat() bool {
	return p.chatEnabled && len(p.chatTargets) > 0
}

// Registry maps camera ids to policies with a mandatory default.
type Registry struct {
	policies map[string]CameraPolicy
	fallback CameraPolicy
}

func NewRegistry(policies map[string]CameraPolicy, fallback CameraPolicy) *Registry {
	cp := make(map[string]CameraPolicy, len(policies))
	for k, v := range policies {
		cp[k] = v
	}
	return &Registry{policies: cp, fallback: fallback}
}

// RegistryFromConfig builds the registry from the cameras section.
func RegistryFromConfig(c config.CamerasConfig) *Registry {
	policies := make(map[string]CameraPolicy, len(c.Policies))
	for name, pc := range c.Policies {
		policies[name] = NewCameraPolicy(name, pc)
	}
	return NewRegistry(policies, NewCameraPolicy(config.DefaultPolicyName, c.Default))
}

// Resolve returns the policy for cameraID, or the default. Matching is exact.
func (r *Registry) Resolve(cameraID string) CameraPolicy {
	if p, ok := r.policies[cameraID]; ok {
		return p
	}
	return r.fallback
}

// Len returns the number of camera-specific policies.
func (r *Registry) Len() int {
	return len(r.policies)
}
