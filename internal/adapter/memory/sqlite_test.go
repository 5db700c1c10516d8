package memory

import (
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agora/internal/domain"
	"agora/internal/infra/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memory.db")
	s := Open(path, logger.Discard())
	require.True(t, s.IsConnected())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadRoundtrip(t *testing.T) {
	s := newTestStore(t)

	s.SaveQA("Perry", "how deep is the lagoon?", "about forty meters", "conv-1")
	s.SaveQA("Perry", "and the reef?", "shallower, watch the keel", "conv-1")
	s.SaveQA("Netty", "heading?", "north by northwest", "conv-2")

	rows := s.LoadRecentQA("Perry", 10)
	require.Len(t, rows, 2)
	// Newest first.
	assert.Equal(t, "and the reef?", rows[0].Question)
	assert.Equal(t, "shallower, watch the keel", rows[0].Answer)
	assert.Equal(t, "conv-1", rows[0].ConvID)
	assert.Equal(t, "how deep is the lagoon?", rows[1].Question)
	assert.False(t, rows[0].Timestamp.IsZero())
}

func TestSaveQASkipsEmptyExchange(t *testing.T) {
	s := newTestStore(t)
	s.SaveQA("Perry", "", "", "conv-1")
	assert.Empty(t, s.LoadRecentQA("Perry", 10))
}

func TestSaveQATruncatesOversizedFields(t *testing.T) {
	s := newTestStore(t)
	longQ := strings.Repeat("q", maxQuestionLen+500)
	longA := strings.Repeat("a", maxAnswerLen+500)

	s.SaveQA("Perry", longQ, longA, "conv-1")

	rows := s.LoadRecentQA("Perry", 1)
	require.Len(t, rows, 1)
	assert.Len(t, rows[0].Question, maxQuestionLen)
	assert.Len(t, rows[0].Answer, maxAnswerLen)
}

func TestSaveQATruncatesOnRuneBoundary(t *testing.T) {
	s := newTestStore(t)
	// Three-byte runes do not divide the byte limits evenly, so a naive
	// byte slice would split one in half.
	longQ := strings.Repeat("海", maxQuestionLen/3+10)
	longA := strings.Repeat("風", maxAnswerLen/3+10)

	s.SaveQA("Perry", longQ, longA, "conv-1")

	rows := s.LoadRecentQA("Perry", 1)
	require.Len(t, rows, 1)
	assert.True(t, utf8.ValidString(rows[0].Question))
	assert.True(t, utf8.ValidString(rows[0].Answer))
	assert.LessOrEqual(t, len(rows[0].Question), maxQuestionLen)
	assert.LessOrEqual(t, len(rows[0].Answer), maxAnswerLen)
}

func TestLoadRecentQAEmptyNameTargetsGroupBucket(t *testing.T) {
	s := newTestStore(t)
	s.SaveQA(domain.GroupKey, "what do we all think?", "", "conv-1")
	s.SaveQA("Perry", "private question", "private answer", "conv-2")

	rows := s.LoadRecentQA("", 10)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.GroupKey, rows[0].AgentName)
	assert.Equal(t, "what do we all think?", rows[0].Question)
}

func TestLoadRecentQARespectsLimit(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		s.SaveQA("Perry", "q", "a", "")
	}
	assert.Len(t, s.LoadRecentQA("Perry", 3), 3)
}

func TestFetchRecentRowsSpansAgents(t *testing.T) {
	s := newTestStore(t)
	s.SaveQA("Perry", "one", "1", "")
	s.SaveQA("Netty", "two", "2", "")
	s.SaveQA(domain.GroupKey, "three", "", "")

	rows := s.FetchRecentRows(10)
	require.Len(t, rows, 3)
	// Newest first, id breaks same-second timestamp ties.
	assert.Equal(t, domain.GroupKey, rows[0].AgentName)
	assert.Equal(t, "Netty", rows[1].AgentName)
	assert.Equal(t, "Perry", rows[2].AgentName)
}

func TestClearMemoryRemovesOnlyOneAgent(t *testing.T) {
	s := newTestStore(t)
	s.SaveQA("Perry", "q", "a", "")
	s.SaveQA("Netty", "q", "a", "")

	s.ClearMemory("Perry")

	assert.Empty(t, s.LoadRecentQA("Perry", 10))
	assert.Len(t, s.LoadRecentQA("Netty", 10), 1)
}

func TestClearAll(t *testing.T) {
	s := newTestStore(t)
	s.SaveQA("Perry", "q", "a", "")
	s.SaveQA(domain.GroupKey, "q", "", "")

	s.ClearAll()

	assert.Empty(t, s.FetchRecentRows(10))
}

func TestReconnectAfterClose(t *testing.T) {
	s := newTestStore(t)
	s.SaveQA("Perry", "before close", "yes", "")

	require.NoError(t, s.Close())
	assert.False(t, s.IsConnected())

	// Operations reconnect transparently on the next call.
	s.SaveQA("Perry", "after close", "also yes", "")
	rows := s.LoadRecentQA("Perry", 10)
	require.Len(t, rows, 2)
	assert.Equal(t, "after close", rows[0].Question)
	assert.True(t, s.IsConnected())
}

func TestOpenWithBadPathFailsSoft(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "missing", "deep", "memory.db"), logger.Discard())
	// No panic, reads come back empty, writes are dropped.
	s.SaveQA("Perry", "q", "a", "")
	assert.Empty(t, s.LoadRecentQA("Perry", 10))
}
