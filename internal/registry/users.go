package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"nexus-backend/internal/events"
	"nexus-backend/internal/storage"
)

// AssistantUserID is the only system user that answers messages.
const AssistantUserID = "u1"

var systemUsers = []User{
	{
		ID:         AssistantUserID,
		Username:   "Alex AI",
		AvatarRef:  "https://picsum.photos/seed/ai/200",
		StatusText: "Thinking...",
		IsOnline:   true,
		Role:       RoleSystem,
	},
	{
		ID:         "u2",
		Username:   "Sarah Jenkins",
		AvatarRef:  "https://picsum.photos/seed/sarah/200",
		StatusText: "At the gym 🏋️",
		IsOnline:   true,
		Role:       RoleSystem,
	},
	{
		ID:         "u3",
		Username:   "Mike Ross",
		AvatarRef:  "https://picsum.photos/seed/mike/200",
		StatusText: "Busy",
		Role:       RoleSystem,
	},
	{
		ID:         "u4",
		Username:   "Jessica Pearson",
		AvatarRef:  "https://picsum.photos/seed/jessica/200",
		StatusText: "Available",
		IsOnline:   true,
		Role:       RoleSystem,
	},
	{
		ID:         "u5",
		Username:   "Louis Litt",
		AvatarRef:  "https://picsum.photos/seed/louis/200",
		StatusText: "Working...",
		Role:       RoleSystem,
	},
}

// SeedSystemUsers inserts the built-in system accounts that are missing.
func (s *Service) SeedSystemUsers(ctx context.Context) error {
	nowMs := s.nowMs()
	var added []User
	if _, err := storage.Update(ctx, s.store, storage.KeyUsers, func(users []User) ([]User, error) {
		added = added[:0]
		for _, sys := range systemUsers {
			if _, ok := findUser(users, sys.ID); ok {
				continue
			}
			sys.CreatedAtMs = nowMs
			sys.LastSeenMs = nowMs
			users = append(users, sys)
			added = append(added, sys)
		}
		if len(added) == 0 {
			return nil, storage.ErrNoChange
		}
		return users, nil
	}); err != nil {
		return err
	}

	for _, u := range added {
		s.logger.Info("system user seeded", "userID", u.ID, "username", u.Username)
		s.bus.Publish(ctx, events.NewUserEvent{
			ID:         u.ID,
			Username:   u.Username,
			AvatarRef:  u.AvatarRef,
			StatusText: u.StatusText,
			Role:       string(u.Role),
		})
	}
	return nil
}

func (s *Service) GetUser(ctx context.Context, id string) (User, error) {
	u, ok := findUser(s.users(ctx), id)
	if !ok {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return u.public(), nil
}

// SearchUsers returns every user other than caller whose username contains
// query, ignoring case. An empty query matches nobody.
func (s *Service) SearchUsers(ctx context.Context, caller, query string) ([]User, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []User{}, nil
	}

	out := make([]User, 0)
	for _, u := range s.users(ctx) {
		if u.ID == caller {
			continue
		}
		if strings.Contains(strings.ToLower(u.Username), q) {
			out = append(out, u.public())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Username) < strings.ToLower(out[j].Username)
	})
	return out, nil
}

func (s *Service) UpdateProfile(ctx context.Context, caller string, upd ProfileUpdate) (User, error) {
	if caller == "" {
		return User{}, ErrAuthRequired
	}

	var newName string
	if upd.Username != nil {
		newName = strings.TrimSpace(*upd.Username)
		if err := validateUsername(newName); err != nil {
			return User{}, err
		}
	}

	var user User
	if _, err := storage.Update(ctx, s.store, storage.KeyUsers, func(users []User) ([]User, error) {
		for i := range users {
			if users[i].ID != caller {
				continue
			}
			if upd.Username != nil {
				if usernameTaken(users, newName, caller) {
					return nil, fmt.Errorf("%w: %s", ErrDuplicateUsername, newName)
				}
				users[i].Username = newName
			}
			if upd.AvatarRef != nil {
				users[i].AvatarRef = strings.TrimSpace(*upd.AvatarRef)
			}
			if upd.StatusText != nil {
				users[i].StatusText = strings.TrimSpace(*upd.StatusText)
			}
			user = users[i]
			return users, nil
		}
		return nil, ErrAuthRequired
	}); err != nil {
		return User{}, err
	}

	s.bus.Publish(ctx, presenceEvent(user))
	return user.public(), nil
}
