package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewpilot/internal/llm"
	"github.com/reviewpilot/internal/retry"
	"github.com/reviewpilot/internal/scm"
	"github.com/reviewpilot/pkg/models"
)

const samplePatch = `@@ -1,3 +1,4 @@
 package main
+import "fmt"

 func main() {`

// fakeSCM records calls and serves a canned snapshot. Setting blockSnapshot
// makes GetPRSnapshot wait until the channel is closed, which lets tests
// hold an attempt in flight.
type fakeSCM struct {
	mu            sync.Mutex
	snapshot      *models.PRSnapshot
	snapshotErr   error
	panicSnapshot bool
	blockSnapshot chan struct{}

	inlineErr    error
	rejectInline []int

	snapshotCalls int
	summaries     []string
	inline        []scm.InlineComment
}

func (f *fakeSCM) GetPRSnapshot(ctx context.Context, owner, repo string, number int) (*models.PRSnapshot, error) {
	f.mu.Lock()
	f.snapshotCalls++
	block := f.blockSnapshot
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if f.panicSnapshot {
		panic("snapshot backend exploded")
	}
	if f.snapshotErr != nil {
		return nil, f.snapshotErr
	}
	return f.snapshot, nil
}

func (f *fakeSCM) PostSummaryComment(ctx context.Context, owner, repo string, number int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, body)
	return nil
}

func (f *fakeSCM) PostInlineComments(ctx context.Context, owner, repo string, number int, headSHA string, comments []scm.InlineComment) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inlineErr != nil {
		rejected := make([]int, len(comments))
		for i := range comments {
			rejected[i] = i
		}
		return rejected, f.inlineErr
	}
	f.inline = append(f.inline, comments...)
	return f.rejectInline, nil
}

func (f *fakeSCM) counts() (snapshots, summaries, inline int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotCalls, len(f.summaries), len(f.inline)
}

type fakeLLM struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.response, f.err
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testSnapshot() *models.PRSnapshot {
	return &models.PRSnapshot{
		Owner:      "octocat",
		Repo:       "hello",
		Number:     7,
		Title:      "Add greeting",
		HeadSHA:    "abc123",
		BaseBranch: "main",
		Files: []models.FileDiff{
			{Filename: "main.go", Status: models.FileModified, Patch: samplePatch},
		},
	}
}

func prEvent(action string) models.TriggerEvent {
	return models.TriggerEvent{
		Kind:       models.TriggerPR,
		Owner:      "octocat",
		Repo:       "hello",
		Number:     7,
		Action:     action,
		BaseBranch: "main",
	}
}

func newTestCoordinator(s scm.Client, l llm.Client, opts Options) *Coordinator {
	fast := retry.Config{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	return New(s, llm.NewResilientClient(l, fast, time.Second), opts)
}

func waitIdle(t *testing.T, c *Coordinator) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(c.Status()) == 0
	}, 2*time.Second, 5*time.Millisecond, "attempt never released its entry")
}

func TestHandleEventHappyPath(t *testing.T) {
	s := &fakeSCM{snapshot: testSnapshot()}
	l := &fakeLLM{response: `{"findings":[{"file":"main.go","line":2,"issue":"unused import","severity":"MINOR","category":"CODE_SMELL"}],"assessment":"REVIEW_REQUIRED"}`}
	c := newTestCoordinator(s, l, Options{})
	defer c.Close(time.Second)

	got := c.HandleEvent(prEvent("opened"))
	require.Equal(t, "accepted", got)
	waitIdle(t, c)

	snapshots, summaries, inline := s.counts()
	assert.Equal(t, 1, snapshots)
	assert.Equal(t, 1, summaries)
	assert.Equal(t, 1, inline, "the resolved finding should post inline")

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, "main.go", s.inline[0].File)
	assert.Equal(t, 2, s.inline[0].Line)
	assert.Contains(t, s.inline[0].Body, "unused import")
}

func TestDuplicateTriggerIgnoredWhileInFlight(t *testing.T) {
	block := make(chan struct{})
	s := &fakeSCM{snapshot: testSnapshot(), blockSnapshot: block}
	l := &fakeLLM{response: `{"findings":[],"assessment":"PROPERLY_REVIEWED"}`}
	c := newTestCoordinator(s, l, Options{})
	defer c.Close(time.Second)

	require.Equal(t, "accepted", c.HandleEvent(prEvent("opened")))

	// Wait until the first attempt is visibly in flight, then fire again.
	require.Eventually(t, func() bool {
		return len(c.Status()) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, "ignored_duplicate", c.HandleEvent(prEvent("synchronize")))

	close(block)
	waitIdle(t, c)

	snapshots, _, _ := s.counts()
	assert.Equal(t, 1, snapshots, "duplicate trigger must not start a second attempt")
}

func TestEntryReleasedAfterPanic(t *testing.T) {
	s := &fakeSCM{panicSnapshot: true}
	l := &fakeLLM{}
	c := newTestCoordinator(s, l, Options{})
	defer c.Close(time.Second)

	require.Equal(t, "accepted", c.HandleEvent(prEvent("opened")))
	waitIdle(t, c)

	// The panic must have produced an error comment and released the entry
	// so the next trigger starts fresh.
	_, summaries, _ := s.counts()
	assert.Equal(t, 1, summaries)
	s.mu.Lock()
	assert.Contains(t, s.summaries[0], "could not complete")
	s.mu.Unlock()

	assert.Equal(t, "accepted", c.HandleEvent(prEvent("synchronize")))
}

func TestDebounceCollapsesBurstToOneAttempt(t *testing.T) {
	s := &fakeSCM{snapshot: testSnapshot()}
	l := &fakeLLM{response: `{"findings":[],"assessment":"PROPERLY_REVIEWED"}`}
	c := newTestCoordinator(s, l, Options{DebounceDelay: 30 * time.Millisecond})
	defer c.Close(time.Second)

	ev := models.TriggerEvent{Kind: models.TriggerReviewComment, Owner: "octocat", Repo: "hello", Number: 7}
	for i := 0; i < 3; i++ {
		require.Equal(t, "debounced", c.HandleEvent(ev))
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		snapshots, _, _ := s.counts()
		return snapshots == 1
	}, time.Second, 5*time.Millisecond)
	waitIdle(t, c)

	// Give any spurious extra timer a chance to fire, then recheck.
	time.Sleep(60 * time.Millisecond)
	snapshots, _, _ := s.counts()
	assert.Equal(t, 1, snapshots, "a burst of comment events must produce exactly one analysis")
}

func TestBotEventsNeverTrigger(t *testing.T) {
	s := &fakeSCM{snapshot: testSnapshot()}
	l := &fakeLLM{}
	c := newTestCoordinator(s, l, Options{DebounceDelay: 5 * time.Millisecond})
	defer c.Close(time.Second)

	ev := models.TriggerEvent{Kind: models.TriggerReviewComment, Owner: "octocat", Repo: "hello", Number: 7, IsBot: true}
	assert.Equal(t, "ignored_bot_event", c.HandleEvent(ev))

	prBot := prEvent("opened")
	prBot.IsBot = true
	assert.Equal(t, "ignored_bot_event", c.HandleEvent(prBot))

	time.Sleep(30 * time.Millisecond)
	snapshots, _, _ := s.counts()
	assert.Zero(t, snapshots)
}

func TestUnqualifiedPREventsIgnored(t *testing.T) {
	s := &fakeSCM{snapshot: testSnapshot()}
	l := &fakeLLM{}
	c := newTestCoordinator(s, l, Options{MonitoredBranches: []string{"main"}})
	defer c.Close(time.Second)

	draft := prEvent("opened")
	draft.Draft = true
	assert.Equal(t, "ignored_unqualified", c.HandleEvent(draft))

	closed := prEvent("closed")
	assert.Equal(t, "ignored_unqualified", c.HandleEvent(closed))

	wrongBranch := prEvent("opened")
	wrongBranch.BaseBranch = "release/1.x"
	assert.Equal(t, "ignored_unqualified", c.HandleEvent(wrongBranch))

	snapshots, _, _ := s.counts()
	assert.Zero(t, snapshots)
}

func TestEmptyPRSkipsAnalysis(t *testing.T) {
	snap := testSnapshot()
	snap.Files = nil
	s := &fakeSCM{snapshot: snap}
	l := &fakeLLM{}
	c := newTestCoordinator(s, l, Options{})
	defer c.Close(time.Second)

	require.Equal(t, "accepted", c.HandleEvent(prEvent("opened")))
	waitIdle(t, c)

	assert.Zero(t, l.callCount(), "no files means no provider call")
	_, summaries, _ := s.counts()
	assert.Zero(t, summaries)
}

func TestProviderFailurePostsErrorResult(t *testing.T) {
	s := &fakeSCM{snapshot: testSnapshot()}
	l := &fakeLLM{err: errors.New("upstream returned status 500")}
	c := newTestCoordinator(s, l, Options{})
	defer c.Close(time.Second)

	require.Equal(t, "accepted", c.HandleEvent(prEvent("opened")))
	waitIdle(t, c)

	_, summaries, _ := s.counts()
	require.Equal(t, 1, summaries)
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Contains(t, s.summaries[0], "could not complete")
	assert.Contains(t, s.summaries[0], string(models.AssessmentReviewRequired))
}

func TestUnresolvableFindingStaysInSummary(t *testing.T) {
	s := &fakeSCM{snapshot: testSnapshot()}
	// Line 500 is nowhere near the sample patch's commentable lines.
	l := &fakeLLM{response: `{"findings":[{"file":"main.go","line":500,"issue":"leak far away","severity":"MAJOR","category":"BUG"}],"assessment":"NOT_PROPERLY_REVIEWED"}`}
	c := newTestCoordinator(s, l, Options{})
	defer c.Close(time.Second)

	require.Equal(t, "accepted", c.HandleEvent(prEvent("opened")))
	waitIdle(t, c)

	_, summaries, inline := s.counts()
	assert.Equal(t, 1, summaries)
	assert.Zero(t, inline)
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Contains(t, s.summaries[0], "leak far away")
	assert.Contains(t, s.summaries[0], "outside the diff")
}

func TestCeilingTimeoutLeavesHolderSlotIntact(t *testing.T) {
	s := &fakeSCM{snapshot: testSnapshot()}
	l := &fakeLLM{}
	c := newTestCoordinator(s, l, Options{MaxConcurrent: 1, CeilingWait: 10 * time.Millisecond})
	defer c.Close(time.Second)

	// Occupy the only slot, as a live attempt would.
	c.slots <- struct{}{}

	acquired := c.acquireSlot()
	require.False(t, acquired, "the ceiling wait should time out while the slot is held")

	// The timed-out attempt's release must not drain the holder's token.
	c.releaseSlot(acquired)
	assert.Len(t, c.slots, 1)

	<-c.slots
}

func TestPostedTracksActualDelivery(t *testing.T) {
	line2, line12 := 2, 12
	newResult := func() *models.AnalysisResult {
		r := &models.AnalysisResult{
			Findings: []models.Finding{
				{File: "main.go", Line: 2, Issue: "unused import", Severity: models.SeverityMinor, Category: models.CategoryCodeSmell, ResolvedLine: &line2},
				{File: "main.go", Line: 12, Issue: "shadowed err", Severity: models.SeverityMajor, Category: models.CategoryBug, ResolvedLine: &line12},
			},
			Assessment: models.AssessmentReviewRequired,
		}
		r.RecomputeSummary()
		return r
	}

	t.Run("wholesale failure leaves nothing marked", func(t *testing.T) {
		s := &fakeSCM{inlineErr: errors.New("all 2 inline comments were rejected")}
		c := newTestCoordinator(s, &fakeLLM{}, Options{})
		defer c.Close(time.Second)

		result := newResult()
		require.NoError(t, c.postResult(context.Background(), testSnapshot(), result, zerolog.Nop()))
		assert.False(t, result.Findings[0].Posted)
		assert.False(t, result.Findings[1].Posted)
	})

	t.Run("individual rejection unmarks only that finding", func(t *testing.T) {
		s := &fakeSCM{rejectInline: []int{1}}
		c := newTestCoordinator(s, &fakeLLM{}, Options{})
		defer c.Close(time.Second)

		result := newResult()
		require.NoError(t, c.postResult(context.Background(), testSnapshot(), result, zerolog.Nop()))
		assert.True(t, result.Findings[0].Posted)
		assert.False(t, result.Findings[1].Posted)
	})
}

func TestReviewNowReportsNoChanges(t *testing.T) {
	snap := testSnapshot()
	snap.Files = nil
	s := &fakeSCM{snapshot: snap}
	c := newTestCoordinator(s, &fakeLLM{}, Options{})
	defer c.Close(time.Second)

	err := c.ReviewNow(context.Background(), "octocat", "hello", 7)
	require.ErrorIs(t, err, ErrNoChanges)

	_, summaries, inline := s.counts()
	assert.Zero(t, summaries)
	assert.Zero(t, inline)
}

func TestFormatSummary(t *testing.T) {
	line := 2
	result := &models.AnalysisResult{
		Findings: []models.Finding{
			{File: "main.go", Line: 2, Issue: "unused import", Severity: models.SeverityMinor, Category: models.CategoryCodeSmell, ResolvedLine: &line},
			{File: "main.go", Line: 99, Issue: "possible nil deref", Severity: models.SeverityCritical, Category: models.CategoryBug},
		},
		Assessment:     models.AssessmentNotProperlyReviewed,
		Recommendation: "Fix the critical issue first.",
	}
	result.Summary.DebtEstimate = "30min"
	result.RecomputeSummary()

	got := FormatSummary(result)
	for _, want := range []string{
		"NOT_PROPERLY_REVIEWED",
		"2 finding(s)",
		"CRITICAL | 1",
		"MINOR | 1",
		"possible nil deref",
		"30min",
		"Fix the critical issue first.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "unused import") {
		t.Errorf("anchored finding should not be listed in the summary body:\n%s", got)
	}
}
