package core

import "github.com/dkeye/chorus/internal/domain"

// Thresholds for channel admission.
const (
	MemberVisibilityLevel  = domain.PermissionMember
	PrivateVisibilityLevel = domain.PermissionTrusted
	CapacityOverrideLevel  = domain.PermissionAdmin
)

// Admit decides whether member may enter ch. The lobby ignores visibility
// rules so a server can always be entered.
func Admit(srv *domain.Server, ch *domain.Channel, m *domain.Member) error {
	if ch.Visibility == domain.ChannelReadonly {
		return domain.Deny("CHANNEL_IS_READONLY", "this channel is read-only")
	}
	if !ch.IsLobby {
		if (srv.Visibility == domain.ServerPrivate || ch.Visibility == domain.ChannelMember) && m.Permission < MemberVisibilityLevel {
			return domain.Deny("PERMISSION_DENIED", "you need to be a member of this server to join the channel")
		}
		if ch.Visibility == domain.ChannelPrivate && m.Permission < PrivateVisibilityLevel {
			return domain.Deny("PERMISSION_DENIED", "this channel is private")
		}
	}
	if ch.Full() && m.Permission < CapacityOverrideLevel {
		return domain.Deny("CHANNEL_IS_FULL", "the channel is full")
	}
	return nil
}
