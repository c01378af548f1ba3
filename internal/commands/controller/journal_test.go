// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package controller

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/daemonkit/internal/cli"
	"github.com/tombee/daemonkit/internal/lifecycle"
)

// writeJournal records a start, a stop and a payload failure at path.
func writeJournal(t *testing.T, path string) {
	t.Helper()
	l := lifecycle.NewLifecycleLogger(path, "instance-1")
	require.NoError(t, l.LogStart([]string{"start"}))
	require.NoError(t, l.LogStartSuccess(4242, 10*time.Millisecond))
	require.NoError(t, l.LogPayloadFailure(4242, errors.New("boom")))
}

func TestJournal_Text(t *testing.T) {
	pidFile, sink := isolate(t)
	journal := filepath.Join(t.TempDir(), "lifecycle.log")
	writeJournal(t, journal)

	out, err := execute(t, NewJournalCommand(),
		"--pid-file", pidFile, "--log-sink", sink, "--journal", journal)
	require.NoError(t, err)

	assert.Contains(t, out, lifecycle.EventStart)
	assert.Contains(t, out, "pid=4242")
	assert.Contains(t, out, "boom")
}

func TestJournal_JSONLimit(t *testing.T) {
	pidFile, sink := isolate(t)
	setJSON(t)
	journal := filepath.Join(t.TempDir(), "lifecycle.log")
	writeJournal(t, journal)

	out, err := execute(t, NewJournalCommand(),
		"--pid-file", pidFile, "--log-sink", sink, "--journal", journal, "--limit", "2")
	require.NoError(t, err)

	var resp journalResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "journal", resp.Command)
	assert.Equal(t, journal, resp.Path)
	require.Len(t, resp.Events, 2)
	assert.Equal(t, lifecycle.EventStartSuccess, resp.Events[0].Event)
	assert.Equal(t, lifecycle.EventPayloadFailure, resp.Events[1].Event)
	assert.Equal(t, "instance-1", resp.Events[1].InstanceID)
}

func TestJournal_Empty(t *testing.T) {
	pidFile, sink := isolate(t)
	journal := filepath.Join(t.TempDir(), "missing.log")

	out, err := execute(t, NewJournalCommand(),
		"--pid-file", pidFile, "--log-sink", sink, "--journal", journal)
	require.NoError(t, err)
	assert.Contains(t, out, "No lifecycle events recorded")
}

func TestJournal_Disabled(t *testing.T) {
	pidFile, sink := isolate(t)

	_, err := execute(t, NewJournalCommand(),
		"--pid-file", pidFile, "--log-sink", sink, "--journal", "")
	require.Error(t, err)
	assert.Equal(t, cli.ExitConfigError, cli.ExitCode(err))
}
