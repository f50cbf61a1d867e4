package party

import (
	"context"
	"fmt"
	"strings"

	"quest-party-service/internal/docstore"
	"quest-party-service/internal/domain"
)

// Update is one state of the session as seen through the live feed: current
// phase, roster in display order, and the watching member's own document.
// Self is nil once the member's document has been removed; Kicked stays true
// from the moment the kicked flag was observed.
type Update struct {
	Phase  domain.Phase
	Roster []domain.Member
	Self   *domain.Member
	Kicked bool
}

// Watch subscribes to everything under the session and folds the snapshot
// stream into roster updates. Cancelling tears the subscription down
// immediately; in-flight writes are left to complete on their own.
func (s *Service) Watch(ctx context.Context, code, userID string) (<-chan Update, func(), error) {
	snaps, cancel, err := s.store.Subscribe(ctx, docstore.SessionPath(code))
	if err != nil {
		return nil, nil, fmt.Errorf("watch session %s: %w", code, domain.BackendError(err))
	}

	out := make(chan Update, 16)
	selfPath := docstore.MemberPath(code, userID)
	sessionPath := docstore.SessionPath(code)
	membersPrefix := docstore.MembersPrefix(code)

	go func() {
		defer close(out)

		phase := domain.PhaseLobby
		members := make(map[string]docstore.Fields)
		kicked := false

		for snap := range snaps {
			switch {
			case snap.Path == sessionPath:
				if snap.Deleted {
					return
				}
				phase = domain.Phase(snap.Fields.Str("phase"))
			case strings.HasPrefix(snap.Path, membersPrefix):
				if snap.Deleted {
					delete(members, snap.Path)
				} else {
					members[snap.Path] = snap.Fields
					if snap.Path == selfPath && snap.Fields.Bool("isKicked") {
						kicked = true
					}
				}
			default:
				// Question documents also live under the session prefix but
				// do not change the roster.
				continue
			}

			up := Update{
				Phase:  phase,
				Roster: rosterFromDocs(members),
				Kicked: kicked,
			}
			if f, ok := members[selfPath]; ok {
				m := memberFromFields(f)
				up.Self = &m
			}

			select {
			case out <- up:
			default:
				// Drop the stale pending update so writers never block on a
				// slow watcher.
				select {
				case <-out:
				default:
				}
				out <- up
			}
		}
	}()

	return out, cancel, nil
}
