package transcript

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/gustawsonb-collab/gadugator/internal/domain"
	"github.com/gustawsonb-collab/gadugator/internal/feedback"
	"github.com/gustawsonb-collab/gadugator/internal/kv"
	"github.com/gustawsonb-collab/gadugator/internal/reply"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestLog(t *testing.T) (*Log, *kv.Memory) {
	t.Helper()
	mem := kv.NewMemory()
	return New(kv.NewSafe(mem, nil), WithIDGenerator(sequentialIDs())), mem
}

type fakeTracker struct {
	state domain.InitState
	marks int
}

func (f *fakeTracker) InitState() domain.InitState { return f.state }
func (f *fakeTracker) MarkOnboarded() {
	f.state = domain.Onboarded
	f.marks++
}

func TestHydrate_Reconciliation(t *testing.T) {
	t.Parallel()

	log, mem := newTestLog(t)
	require.NoError(t, mem.Set(KeyCurrent, `[
		{"id":"a1","role":"assistant","text":"Welcome!","feedback":null},
		{"id":"u1","role":"user","text":"I goed home","feedback":{"corrected":"I went home"}},
		{"id":"a2","role":"bot","text":"Nice!","feedback":{"corrected":"","tips":[],"alternatives":[]},"feedbackOpen":false},
		{"id":"a3","role":"assistant","text":"Great.","feedback":{"feedback":{"corrected":"I went home."}}},
		{"role":"user","text":"no id"},
		{"id":"bad","role":"user","text":42},
		"garbage",
		{"id":"a4","role":"assistant","text":"Tell me more","meta":{"kind":"notice"}}
	]`))

	res := log.Hydrate()
	assert.Equal(t, KeyCurrent, res.Source)
	assert.False(t, res.Migrated)
	require.Equal(t, 6, res.Turns)

	turns := log.Turns()

	assert.Equal(t, domain.RoleAssistant, turns[0].Role)
	assert.Equal(t, feedback.Synthesize(""), *turns[0].Feedback)
	assert.True(t, turns[0].FeedbackVisible)

	assert.Equal(t, domain.RoleUser, turns[1].Role)
	assert.Nil(t, turns[1].Feedback)
	assert.False(t, turns[1].FeedbackVisible)

	assert.Equal(t, domain.RoleAssistant, turns[2].Role, "unknown roles become assistant")
	assert.Equal(t, feedback.Synthesize("I goed home"), *turns[2].Feedback)
	assert.False(t, turns[2].FeedbackVisible)

	assert.Equal(t, "I went home.", turns[3].Feedback.Corrected)

	assert.Equal(t, "id-1", turns[4].ID, "missing ids are regenerated")
	assert.Equal(t, domain.RoleUser, turns[4].Role)

	assert.Equal(t, domain.OriginNotice, turns[5].Origin())
	assert.Equal(t, feedback.Synthesize("no id"), *turns[5].Feedback)
}

func TestHydrate_MigratesLegacyKeyOnce(t *testing.T) {
	t.Parallel()

	log, mem := newTestLog(t)
	legacy := `[{"id":"u1","role":"user","text":"Hello"},{"id":"a1","role":"assistant","text":"Hi!"}]`
	require.NoError(t, mem.Set(KeyV2, legacy))

	res := log.Hydrate()
	assert.Equal(t, KeyV2, res.Source)
	assert.True(t, res.Migrated)
	assert.Equal(t, 2, res.Turns)

	stored, ok := mem.Raw(KeyCurrent)
	require.True(t, ok)
	var rewritten []domain.Turn
	require.NoError(t, json.Unmarshal([]byte(stored), &rewritten))
	require.Len(t, rewritten, 2)
	assert.Equal(t, "u1", rewritten[0].ID)
	assert.Equal(t, "Hi!", rewritten[1].Text)
	assert.True(t, feedback.Meaningful(rewritten[1].Feedback))
	_, ok = mem.Raw(KeyV2)
	assert.False(t, ok)

	second := log.Hydrate()
	assert.Equal(t, KeyCurrent, second.Source)
	assert.False(t, second.Migrated)
	again, _ := mem.Raw(KeyCurrent)
	assert.Equal(t, stored, again)
}

func TestHydrate_V1ContentAlias(t *testing.T) {
	t.Parallel()

	log, mem := newTestLog(t)
	require.NoError(t, mem.Set(KeyV1, `[{"id":"u1","role":"user","content":"Old message"},{"id":"a1","role":"assistant","content":"Reply"}]`))

	res := log.Hydrate()
	assert.Equal(t, KeyV1, res.Source)
	assert.True(t, res.Migrated)
	require.Equal(t, 2, res.Turns)
	assert.Equal(t, "Old message", log.Turns()[0].Text)
	first := log.Turns()

	reloaded := New(kv.NewSafe(mem, nil))
	again := reloaded.Hydrate()
	assert.Equal(t, KeyCurrent, again.Source)
	assert.False(t, again.Migrated)
	require.Equal(t, 2, again.Turns)

	for i, turn := range reloaded.Turns() {
		assert.Equal(t, first[i].ID, turn.ID)
		assert.Equal(t, first[i].Role, turn.Role)
		assert.Equal(t, first[i].Text, turn.Text)
	}
	_, ok := mem.Raw(KeyV1)
	assert.False(t, ok)
}

func TestHydrate_BlankAssistantText(t *testing.T) {
	t.Parallel()

	log, mem := newTestLog(t)
	require.NoError(t, mem.Set(KeyCurrent, `[{"id":"u1","role":"user","text":"Hi"},{"id":"a1","role":"assistant","text":"   "}]`))

	res := log.Hydrate()
	require.Equal(t, 2, res.Turns)
	assert.Equal(t, reply.EmptyReplyPlaceholder, log.Turns()[1].Text)
}

func TestHydrate_PrefersCurrentAndRemovesCorruptBlobs(t *testing.T) {
	t.Parallel()

	log, mem := newTestLog(t)
	require.NoError(t, mem.Set(KeyCurrent, `{not json`))
	require.NoError(t, mem.Set(KeyV2, `[{"id":"x","role":"user","text":"From v2"}]`))
	require.NoError(t, mem.Set(KeyV1, `[{"id":"y","role":"user","text":"From v1"}]`))

	res := log.Hydrate()
	assert.Equal(t, KeyV2, res.Source)
	assert.Equal(t, "From v2", log.Turns()[0].Text)

	_, ok := mem.Raw(KeyV1)
	assert.True(t, ok, "lower-priority legacy keys are left alone")
}

func TestHydrate_WriteFailureKeepsLegacyKey(t *testing.T) {
	t.Parallel()

	log, mem := newTestLog(t)
	require.NoError(t, mem.Set(KeyV2, `[{"id":"x","role":"user","text":"keep me"}]`))
	mem.SetQuota(1)

	res := log.Hydrate()
	assert.False(t, res.Migrated)
	assert.Equal(t, 1, res.Turns)
	_, ok := mem.Raw(KeyV2)
	assert.True(t, ok)
}

func TestHydrate_UnavailableStorage(t *testing.T) {
	t.Parallel()

	log := New(kv.NewSafe(nil, nil))
	res := log.Hydrate()
	assert.Equal(t, HydrateResult{}, res)

	_, ok := log.AppendUser("still works")
	assert.True(t, ok)
	assert.Equal(t, 1, log.Len())
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	log, mem := newTestLog(t)
	for i := 0; i < 10; i++ {
		user, ok := log.AppendUser(fmt.Sprintf("message %d", i))
		require.True(t, ok)
		res := reply.Parse(fmt.Sprintf(`{"reply":"answer %d"}`, i))
		log.AppendAssistant(res.Reply, res.Feedback, user.Text, domain.OriginNone)
	}
	before := log.Turns()

	restored := New(kv.NewSafe(mem, nil))
	restored.Hydrate()
	after := restored.Turns()

	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, before[i].Role, after[i].Role)
		assert.Equal(t, before[i].Text, after[i].Text)
		if after[i].Role == domain.RoleAssistant {
			assert.True(t, feedback.Meaningful(after[i].Feedback))
		}
	}
}

func TestPersist_KeepsMostRecentTurns(t *testing.T) {
	t.Parallel()

	log, mem := newTestLog(t)
	for i := 0; i < MaxPersisted+5; i++ {
		_, ok := log.AppendUser(fmt.Sprintf("m%d", i))
		require.True(t, ok)
	}
	assert.Equal(t, MaxPersisted+5, log.Len())

	stored, ok := mem.Raw(KeyCurrent)
	require.True(t, ok)
	var persisted []domain.Turn
	require.NoError(t, json.Unmarshal([]byte(stored), &persisted))
	require.Len(t, persisted, MaxPersisted)
	assert.Equal(t, "m5", persisted[0].Text)
	assert.Equal(t, fmt.Sprintf("m%d", MaxPersisted+4), persisted[MaxPersisted-1].Text)
}

func TestAppendUser(t *testing.T) {
	t.Parallel()

	log, _ := newTestLog(t)
	_, ok := log.AppendUser("   ")
	assert.False(t, ok)
	assert.Equal(t, 0, log.Len())

	turn, ok := log.AppendUser("  Hello there  ")
	require.True(t, ok)
	assert.Equal(t, "Hello there", turn.Text)
	assert.Equal(t, domain.RoleUser, turn.Role)
	assert.Nil(t, turn.Feedback)
	assert.NotEmpty(t, turn.ID)
	assert.Equal(t, "Hello there", log.LastUserText())
}

func TestAppendAssistant(t *testing.T) {
	t.Parallel()

	log, _ := newTestLog(t)
	turn := log.AppendAssistant("   ", nil, "I like cats", domain.OriginNone)
	assert.Equal(t, reply.EmptyReplyPlaceholder, turn.Text)
	assert.Equal(t, feedback.Synthesize("I like cats"), *turn.Feedback)
	assert.True(t, turn.FeedbackVisible)
	assert.Nil(t, turn.Meta)

	given := &domain.Feedback{Corrected: "I like cats."}
	turn = log.AppendAssistant("Me too!", given, "I like cats", domain.OriginNotice)
	assert.Equal(t, "Me too!", turn.Text)
	assert.Equal(t, "I like cats.", turn.Feedback.Corrected)
	assert.Equal(t, domain.OriginNotice, turn.Origin())
}

func TestToggleFeedback(t *testing.T) {
	t.Parallel()

	log, mem := newTestLog(t)
	user, _ := log.AppendUser("hi")
	assistant := log.AppendAssistant("hello", nil, "hi", domain.OriginNone)

	visible, found := log.ToggleFeedback(assistant.ID)
	assert.True(t, found)
	assert.False(t, visible)
	stored, _ := mem.Raw(KeyCurrent)
	var persisted []domain.Turn
	require.NoError(t, json.Unmarshal([]byte(stored), &persisted))
	require.Len(t, persisted, 2)
	assert.False(t, persisted[1].FeedbackVisible)

	visible, found = log.ToggleFeedback(user.ID)
	assert.True(t, found)
	assert.False(t, visible)

	_, found = log.ToggleFeedback("missing")
	assert.False(t, found)
}

func TestReset_ClearsAllKeys(t *testing.T) {
	t.Parallel()

	log, mem := newTestLog(t)
	require.NoError(t, mem.Set(KeyV1, `[{"role":"user","text":"old"}]`))
	require.NoError(t, mem.Set(KeyV2, `[{"role":"user","text":"older"}]`))
	log.AppendUser("current")

	log.Reset()
	assert.Equal(t, 0, log.Len())
	assert.Equal(t, 0, mem.Len())

	res := log.Hydrate()
	assert.Equal(t, 0, res.Turns)
}

func TestTurns_ReturnsCopies(t *testing.T) {
	t.Parallel()

	log, _ := newTestLog(t)
	log.AppendAssistant("hello", &domain.Feedback{Tips: []string{"a"}}, "", domain.OriginNone)

	snapshot := log.Turns()
	snapshot[0].Text = "mutated"
	snapshot[0].Feedback.Tips[0] = "mutated"

	fresh := log.Turns()
	assert.Equal(t, "hello", fresh[0].Text)
	assert.Equal(t, "a", fresh[0].Feedback.Tips[0])
}

func TestSeedOnboarding(t *testing.T) {
	t.Parallel()

	log, _ := newTestLog(t)
	tracker := &fakeTracker{}

	require.True(t, log.SeedOnboarding(tracker))
	turns := log.Turns()
	require.Len(t, turns, 3)
	for _, turn := range turns {
		assert.Equal(t, domain.RoleAssistant, turn.Role)
		assert.Equal(t, domain.OriginOnboarding, turn.Origin())
		assert.False(t, turn.FeedbackVisible)
		assert.Equal(t, feedback.Synthesize(""), *turn.Feedback)
	}
	assert.Equal(t, "How would you like to start?", turns[2].Text)
	assert.Equal(t, 1, tracker.marks)

	log.Reset()
	assert.False(t, log.SeedOnboarding(tracker), "onboarding is shown only once")
	assert.Equal(t, 0, log.Len())
}

func TestSeedOnboarding_SkippedWithHistory(t *testing.T) {
	t.Parallel()

	log, _ := newTestLog(t)
	log.AppendUser("hello")
	tracker := &fakeTracker{}
	assert.False(t, log.SeedOnboarding(tracker))
	assert.Equal(t, 0, tracker.marks)
}

func TestExportText(t *testing.T) {
	t.Parallel()

	log, _ := newTestLog(t)
	log.AppendUser("Hello")
	log.AppendAssistant("Hi! How are you?", nil, "Hello", domain.OriginNone)

	got := log.ExportText()
	assert.Equal(t, "User: Hello\n\nGaduGator: Hi! How are you?", got)
	assert.Equal(t, 1, strings.Count(got, "\n\n"))
}
