package service

import (
	"context"
	"strings"

	"github.com/pesio-ai/be-exp-expenses/internal/repository"
	"github.com/pesio-ai/be-exp-expenses/pkg/auth"
	"github.com/pesio-ai/be-exp-expenses/pkg/errors"
)

// ApproverDirectory maps routing roles to the active users that fill them.
type ApproverDirectory struct {
	users  UserDirectory
	titles map[RoutingRole]string
}

// NewApproverDirectory creates a directory. titles gives the position text
// matched for each role when no user carries an explicit approver role.
func NewApproverDirectory(users UserDirectory, titles map[RoutingRole]string) *ApproverDirectory {
	t := make(map[RoutingRole]string, len(titles))
	for role, title := range titles {
		t[role] = strings.TrimSpace(title)
	}
	return &ApproverDirectory{users: users, titles: t}
}

// Lookup returns the user filling role, or nil when it is unfilled.
func (d *ApproverDirectory) Lookup(ctx context.Context, role RoutingRole) (*repository.User, error) {
	return d.users.FindActiveApprover(ctx, string(role), d.titles[role])
}

// FindApproverByTitle returns the active user whose trimmed position equals
// title, or nil.
func (d *ApproverDirectory) FindApproverByTitle(ctx context.Context, title string) (*repository.User, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, nil
	}
	return d.users.FindActiveApprover(ctx, "", title)
}

// Title returns the configured title for role.
func (d *ApproverDirectory) Title(role RoutingRole) string {
	return d.titles[role]
}

// NewUserLoader adapts a UserDirectory to the authentication boundary.
// Missing and inactive users load as nil so the caller answers 401.
func NewUserLoader(users UserDirectory) auth.UserLoader {
	return func(ctx context.Context, userID int64) (*auth.UserContext, error) {
		u, err := users.GetByID(ctx, userID)
		if errors.CodeOf(err) == errors.ErrCodeNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if !u.IsActive {
			return nil, nil
		}
		return &auth.UserContext{UserID: u.ID, Name: u.Name, Role: u.Role}, nil
	}
}
