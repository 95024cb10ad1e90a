package models

type Role string

const (
	RoleAdmin        Role = "admin"
	RoleInvestigator Role = "investigator"
	RoleCommunity    Role = "community"
)

// IsAuthenticatedUser reports whether the role is a known non-admin role.
func (r Role) IsAuthenticatedUser() bool {
	return r == RoleInvestigator || r == RoleCommunity
}

type Relationship string

const (
	RelationNone         Relationship = ""
	RelationOwner        Relationship = "owner"
	RelationCollaborator Relationship = "collaborator"
)

func (r Relationship) IsMember() bool {
	return r == RelationOwner || r == RelationCollaborator
}

// Caller identifies who is asking. It is supplied per request by the
// authentication layer and never persisted.
type Caller struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// RelationTo derives the caller's relationship to a project from its roster.
func (c Caller) RelationTo(access ProjectAccess) Relationship {
	if c.UserID == "" {
		return RelationNone
	}
	if access.OwnerID == c.UserID {
		return RelationOwner
	}
	for _, id := range access.CollaboratorIDs {
		if id == c.UserID {
			return RelationCollaborator
		}
	}
	return RelationNone
}
