// Package guard holds the structural rules of conversations and messages.
//
// Every function is pure: it takes the current state and either returns the
// corrected state or an error wrapping one of the model sentinel errors.
// Participants, admins, reactions and read receipts are only ever changed
// through these functions.
package guard

import (
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/capitalize-ai/realtime-chat/internal/model"
)

// MinGroupSize is the smallest group: the creator plus two others.
const MinGroupSize = 3

// Pagination bounds.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// ValidateDirectParticipants rejects a direct conversation with oneself.
func ValidateDirectParticipants(a, b string) error {
	if a == "" || b == "" {
		return fmt.Errorf("%w: participant id required", model.ErrInvalidInput)
	}
	if a == b {
		return fmt.Errorf("%w: cannot start a direct conversation with yourself", model.ErrInvalidOperation)
	}
	return nil
}

// DirectPair returns the pair in canonical order so {a,b} and {b,a} map to one key.
func DirectPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// IsDirectBetween reports whether conv is the direct conversation of exactly {a, b}.
func IsDirectBetween(conv *model.Conversation, a, b string) bool {
	if conv == nil || conv.IsGroup || len(conv.Participants) != 2 {
		return false
	}
	x, y := DirectPair(conv.Participants[0], conv.Participants[1])
	p, q := DirectPair(a, b)
	return x == p && y == q
}

// FindExistingDirect returns the first candidate whose participant set is exactly {a, b}.
func FindExistingDirect(candidates []*model.Conversation, a, b string) *model.Conversation {
	for _, c := range candidates {
		if IsDirectBetween(c, a, b) {
			return c
		}
	}
	return nil
}

// NewGroupMembership validates a group creation and returns the initial
// participant and admin sets. The creator is always a participant and the sole admin.
func NewGroupMembership(name string, members []string, creator string) (participants, admins []string, err error) {
	if strings.TrimSpace(name) == "" {
		return nil, nil, fmt.Errorf("%w: group name required", model.ErrInvalidInput)
	}
	if creator == "" {
		return nil, nil, fmt.Errorf("%w: creator required", model.ErrInvalidInput)
	}
	participants = lo.Union(normalizeIDs(members), []string{creator})
	if len(participants) < MinGroupSize {
		return nil, nil, fmt.Errorf("%w: group name and at least 2 members required", model.ErrInvalidInput)
	}
	return participants, []string{creator}, nil
}

// ValidateAdminRemoval fails when removing target would leave the group without an admin.
func ValidateAdminRemoval(admins []string, target string) error {
	if lo.Contains(admins, target) && len(admins) == 1 {
		return model.ErrLastAdmin
	}
	return nil
}

// Rename returns the new group name, keeping current when name is blank.
func Rename(current, name string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return current
}

// AddMembers unions members into the group. Already present members are ignored.
func AddMembers(conv *model.Conversation, members []string) (*model.Conversation, error) {
	if err := requireGroup(conv); err != nil {
		return nil, err
	}
	next := conv.Clone()
	next.Participants = lo.Union(next.Participants, normalizeIDs(members))
	return next, nil
}

// RemoveMember drops target from participants and admins.
func RemoveMember(conv *model.Conversation, target string) (*model.Conversation, error) {
	if err := requireGroup(conv); err != nil {
		return nil, err
	}
	if err := ValidateAdminRemoval(conv.Admins, target); err != nil {
		return nil, err
	}
	next := conv.Clone()
	next.Participants = lo.Without(next.Participants, target)
	next.Admins = lo.Without(next.Admins, target)
	return next, checkGroup(next)
}

// Leave removes actor from the group, refusing when actor is the sole admin.
func Leave(conv *model.Conversation, actor string) (*model.Conversation, error) {
	return RemoveMember(conv, actor)
}

// Promote makes target an admin. Target must already be a participant.
func Promote(conv *model.Conversation, target string) (*model.Conversation, error) {
	if err := requireGroup(conv); err != nil {
		return nil, err
	}
	if !conv.HasParticipant(target) {
		return nil, fmt.Errorf("%w: only participants can become admins", model.ErrInvalidInput)
	}
	next := conv.Clone()
	next.Admins = lo.Union(next.Admins, []string{target})
	return next, checkGroup(next)
}

// UpsertReaction sets userID's emoji, replacing any previous one.
func UpsertReaction(reactions []model.Reaction, userID, emoji string) ([]model.Reaction, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, fmt.Errorf("%w: emoji required", model.ErrInvalidInput)
	}
	out := slices.Clone(reactions)
	for i := range out {
		if out[i].UserID == userID {
			out[i].Emoji = emoji
			return out, nil
		}
	}
	return append(out, model.Reaction{UserID: userID, Emoji: emoji}), nil
}

// ClearReaction removes userID's reaction. The bool is false when there was none.
func ClearReaction(reactions []model.Reaction, userID string) ([]model.Reaction, bool) {
	out := lo.Filter(reactions, func(r model.Reaction, _ int) bool {
		return r.UserID != userID
	})
	return out, len(out) != len(reactions)
}

// MarkSeen adds userID to seenBy. The bool is false when it was already present.
func MarkSeen(seenBy []string, userID string) ([]string, bool) {
	if lo.Contains(seenBy, userID) {
		return seenBy, false
	}
	return append(slices.Clone(seenBy), userID), true
}

// ValidateContent trims content and rejects it when nothing is left.
func ValidateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", fmt.Errorf("%w: message content required", model.ErrInvalidInput)
	}
	return trimmed, nil
}

// ClampPage normalises 1-indexed pagination input.
func ClampPage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	return page, min(max(limit, 1), MaxPageLimit)
}

// CheckGroup verifies the admin invariants of a group.
func CheckGroup(conv *model.Conversation) error {
	return checkGroup(conv)
}

func checkGroup(conv *model.Conversation) error {
	if len(conv.Admins) == 0 {
		return model.ErrLastAdmin
	}
	for _, a := range conv.Admins {
		if !conv.HasParticipant(a) {
			return fmt.Errorf("%w: admin %s is not a participant", model.ErrInternal, a)
		}
	}
	return nil
}

func requireGroup(conv *model.Conversation) error {
	if conv == nil || !conv.IsGroup {
		return fmt.Errorf("%w: group not found", model.ErrNotFound)
	}
	return nil
}

func normalizeIDs(ids []string) []string {
	return lo.Uniq(lo.Compact(lo.Map(ids, func(id string, _ int) string {
		return strings.TrimSpace(id)
	})))
}
