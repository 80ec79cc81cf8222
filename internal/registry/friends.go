package registry

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"nexus-backend/internal/events"
	"nexus-backend/internal/storage"
)

func (s *Service) SendFriendRequest(ctx context.Context, caller, toID string) (FriendRequest, error) {
	from, err := s.requireUser(ctx, caller)
	if err != nil {
		return FriendRequest{}, err
	}
	if toID == caller {
		return FriendRequest{}, ErrCannotAddSelf
	}
	if _, ok := findUser(s.users(ctx), toID); !ok {
		return FriendRequest{}, fmt.Errorf("%w: user %s", ErrNotFound, toID)
	}

	req := FriendRequest{
		ID:           uuid.NewString(),
		FromID:       from.ID,
		ToID:         toID,
		Status:       RequestPending,
		Timestamp:    s.nowMs(),
		FromUsername: from.Username,
	}
	if _, err := storage.Update(ctx, s.store, storage.KeyFriendRequests, func(reqs []FriendRequest) ([]FriendRequest, error) {
		for _, r := range reqs {
			if r.Status == RequestPending && r.FromID == req.FromID && r.ToID == req.ToID {
				return nil, ErrDuplicateRequest
			}
		}
		return append(reqs, req), nil
	}); err != nil {
		return FriendRequest{}, err
	}

	s.logger.Info("friend request sent", "requestID", req.ID, "fromID", req.FromID, "toID", req.ToID)
	s.bus.Publish(ctx, requestEvent(req))
	return req, nil
}

// GetPendingRequests lists pending requests addressed to caller, oldest
// first. The sender's name is resolved now rather than taken from the
// snapshot stored with the request.
func (s *Service) GetPendingRequests(ctx context.Context, caller string) ([]FriendRequest, error) {
	if _, err := s.requireUser(ctx, caller); err != nil {
		return nil, err
	}

	users := s.users(ctx)
	out := make([]FriendRequest, 0)
	for _, r := range s.requests(ctx) {
		if r.ToID != caller || r.Status != RequestPending {
			continue
		}
		if u, ok := findUser(users, r.FromID); ok {
			r.FromUsername = u.Username
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// RespondToRequest resolves a pending request addressed to caller. Accepting
// also opens the individual chat between both users. A request resolves
// exactly once; later calls fail with ErrRequestResolved.
func (s *Service) RespondToRequest(ctx context.Context, caller, requestID string, decision Decision) (RespondResult, error) {
	if decision != DecisionAccept && decision != DecisionDecline {
		return RespondResult{}, fmt.Errorf("%w: decision %q", ErrInvalidInput, decision)
	}
	if _, err := s.requireUser(ctx, caller); err != nil {
		return RespondResult{}, err
	}

	var resolved FriendRequest
	if _, err := storage.Update(ctx, s.store, storage.KeyFriendRequests, func(reqs []FriendRequest) ([]FriendRequest, error) {
		for i := range reqs {
			if reqs[i].ID != requestID {
				continue
			}
			if reqs[i].ToID != caller {
				break
			}
			if reqs[i].Status != RequestPending {
				return nil, fmt.Errorf("%w: %s is %s", ErrRequestResolved, requestID, reqs[i].Status)
			}
			reqs[i].Status = RequestStatus(decision)
			resolved = reqs[i]
			return reqs, nil
		}
		return nil, fmt.Errorf("%w: friend request %s", ErrNotFound, requestID)
	}); err != nil {
		return RespondResult{}, err
	}

	s.logger.Info("friend request resolved", "requestID", resolved.ID, "status", resolved.Status)
	result := RespondResult{Request: resolved}
	if resolved.Status != RequestAccepted {
		s.bus.Publish(ctx, requestEvent(resolved))
		return result, nil
	}

	chat, _, err := s.CreateChat(ctx, resolved.ToID, resolved.FromID)
	if err != nil {
		return result, fmt.Errorf("open chat for accepted request: %w", err)
	}
	result.Chat = &chat

	s.bus.Publish(ctx, events.RequestAcceptedEvent{
		RequestID: resolved.ID,
		FromID:    resolved.FromID,
		ToID:      resolved.ToID,
		ChatID:    chat.ID,
	})
	return result, nil
}

func requestEvent(r FriendRequest) events.FriendRequestEvent {
	return events.FriendRequestEvent{
		ID:           r.ID,
		FromID:       r.FromID,
		ToID:         r.ToID,
		FromUsername: r.FromUsername,
		Status:       string(r.Status),
		Timestamp:    r.Timestamp,
	}
}
