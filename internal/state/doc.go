// Package state provides the persistence used by the cron runner: last-run
// bookkeeping (JSON file or SQLite) and the execution journal.
package state

import "github.com/user/coredelegate/internal/types"

// Compile-time interface compliance checks.
var _ types.LastRunStore = (*FileLastRunStore)(nil)
var _ types.LastRunStore = (*SQLiteLastRunStore)(nil)
var _ types.RunJournal = (*RunJournal)(nil)
