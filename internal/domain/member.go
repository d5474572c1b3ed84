package domain

// PermissionLevel is ordinal: higher is more privileged.
type PermissionLevel int

const (
	PermissionGuest   PermissionLevel = 1
	PermissionMember  PermissionLevel = 2
	PermissionTrusted PermissionLevel = 3
	PermissionAdmin   PermissionLevel = 5
	PermissionOwner   PermissionLevel = 6
)

// Member represents user's participation meta for a server.
// No transport or lifecycle logic here.
type Member struct {
	UserID       UserID          `json:"userId"`
	Nickname     string          `json:"nickname,omitempty"`
	Permission   PermissionLevel `json:"permissionLevel"`
	Contribution int64           `json:"contribution"`
	JoinedAt     int64           `json:"joinedAt"`
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(uid UserID, level PermissionLevel, now int64) *Member {
	return &Member{UserID: uid, Permission: level, JoinedAt: now}
}
