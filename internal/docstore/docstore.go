// Package docstore defines the document store the coordination services are
// built on: key-path addressed documents with field-level merges, atomic
// numeric increments, all-or-nothing transactions, and push-based snapshot
// subscriptions.
package docstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a document does not exist at the given path.
var ErrNotFound = errors.New("document not found")

// Snapshot is one pushed update for a document under a subscribed prefix.
// Deleted snapshots carry no fields.
type Snapshot struct {
	Path    string
	Fields  Fields
	Deleted bool
}

// Tx stages reads and writes inside a transaction. Writes are applied in the
// order they were staged, all-or-nothing, when the transaction function
// returns nil.
type Tx interface {
	Get(path string) (Fields, error)
	List(prefix string) (map[string]Fields, error)
	Set(path string, fields Fields)
	Delete(path string)
}

// Store is the document store client. Set merges fields into any existing
// document. Increment is atomic with respect to concurrent writers and does
// not require a prior read.
type Store interface {
	Get(ctx context.Context, path string) (Fields, error)
	Set(ctx context.Context, path string, fields Fields) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) (map[string]Fields, error)
	Increment(ctx context.Context, path, field string, delta int64) error
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
	Subscribe(ctx context.Context, prefix string) (<-chan Snapshot, func(), error)
}

// Document path layout. Sessions own their member and question sub-documents
// so a single prefix subscription observes a whole session.

func SessionPath(code string) string {
	return "sessions/" + code
}

func SessionPrefix(code string) string {
	return "sessions/" + code + "/"
}

func MemberPath(code, userID string) string {
	return "sessions/" + code + "/members/" + userID
}

func MembersPrefix(code string) string {
	return "sessions/" + code + "/members/"
}

// QuestionPath zero-pads the index so lexicographic path order matches
// question order.
func QuestionPath(code string, index int) string {
	return fmt.Sprintf("sessions/%s/questions/%02d", code, index)
}

func QuestionsPrefix(code string) string {
	return "sessions/" + code + "/questions/"
}

func ProfilePath(userID string) string {
	return "profiles/" + userID
}

const ProfilesPrefix = "profiles/"
