// Package memory persists conversation threads between turns.
//
// A thread is the ordered message history of one conversation, keyed by
// the client-chosen thread ID. Stores hand out and accept copies, so a
// caller may freely append to what it received.
package memory

import (
	"context"

	"github.com/chatngt/chatngt/internal/llm"
)

// Store holds thread histories.
type Store interface {
	// Get returns a copy of the thread's messages. ok is false when the
	// thread does not exist or has expired.
	Get(ctx context.Context, threadID string) (msgs []llm.Message, ok bool, err error)

	// Set replaces the thread's messages and renews its time to live.
	Set(ctx context.Context, threadID string, msgs []llm.Message) error

	// Delete forgets a thread. Deleting an unknown thread is not an error.
	Delete(ctx context.Context, threadID string) error
}

// Sweeper is implemented by stores that hold on to expired threads
// until told to drop them.
type Sweeper interface {
	CleanupExpired(ctx context.Context) (int, error)
}
