package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/yangwenmai/pagesmith/internal/hosting"
	"github.com/yangwenmai/pagesmith/internal/model"
)

// scriptedModel returns canned outputs in order and records prompts.
type scriptedModel struct {
	mu      sync.Mutex
	outputs []string
	err     error
	prompts []string
}

func (m *scriptedModel) Complete(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	if len(m.outputs) == 0 {
		return "", nil
	}
	out := m.outputs[0]
	m.outputs = m.outputs[1:]
	return out, nil
}

// recordingNotifier captures every notification.
type recordingNotifier struct {
	mu       sync.Mutex
	err      error
	urls     []string
	payloads []model.NotificationPayload
}

func (n *recordingNotifier) Notify(_ context.Context, url string, payload any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.urls = append(n.urls, url)
	n.payloads = append(n.payloads, payload.(model.NotificationPayload))
	return n.err
}

// memArchive records archived revisions. When notifier is set it also records
// how many notifications had been sent at each Put.
type memArchive struct {
	err         error
	keys        []string
	notifier    *recordingNotifier
	notifiedAt  []int
	hadDeadline bool
}

func (a *memArchive) Put(ctx context.Context, repo, revision string, _ []byte) error {
	a.keys = append(a.keys, repo+"/"+revision)
	if a.notifier != nil {
		a.notifier.mu.Lock()
		a.notifiedAt = append(a.notifiedAt, len(a.notifier.urls))
		a.notifier.mu.Unlock()
	}
	_, a.hadDeadline = ctx.Deadline()
	return a.err
}

const (
	page1 = "<!DOCTYPE html><html><head><title>Hello v1</title></head><body><h1>Hello</h1><p>First version of the page.</p></body></html>"
	page2 = "<!DOCTYPE html><html><head><title>Hello v2</title></head><body><h1>Hello</h1><p>Second version with a button.</p></body></html>"
)

func task(round model.Round, brief string) *model.TaskRequest {
	return &model.TaskRequest{
		Email:         "student@example.com",
		Task:          "t1",
		Round:         round,
		Nonce:         "n-" + round.String(),
		Brief:         brief,
		EvaluationURL: "https://eval.example/notify",
	}
}

func TestPipeline_BuildThenRevise(t *testing.T) {
	store := hosting.NewMemoryStore("Octo")
	mc := &scriptedModel{outputs: []string{page1, page2}}
	notifier := &recordingNotifier{}
	arch := &memArchive{}
	p := NewPipeline(store, NewGenerator(mc, 0), notifier, WithArchive(arch))

	res, err := p.Run(context.Background(), task(model.RoundBuild, "hello page"))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if res.Container.Name != "tds-app-t1" {
		t.Errorf("container = %q, want tds-app-t1", res.Container.Name)
	}
	if !store.PagesEnabled("tds-app-t1") {
		t.Error("pages should be enabled after build")
	}
	if len(notifier.payloads) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notifier.payloads))
	}
	got := notifier.payloads[0]
	if got.Round != model.RoundBuild || got.Nonce != "n-build" || got.CommitSHA != res.CommitSHA {
		t.Errorf("payload = %+v", got)
	}
	if got.PagesURL != "https://octo.github.io/tds-app-t1/" {
		t.Errorf("pages url = %q", got.PagesURL)
	}
	if notifier.urls[0] != "https://eval.example/notify" {
		t.Errorf("notified %q", notifier.urls[0])
	}

	res2, err := p.Run(context.Background(), task(model.RoundRevise, "add a button"))
	if err != nil {
		t.Fatalf("revise: %v", err)
	}
	if res2.CommitSHA == res.CommitSHA {
		t.Error("revise should produce a new revision")
	}
	if store.CountCalls("enable_public_serving") != 1 {
		t.Error("revise must not enable pages again")
	}
	if files := store.Files("tds-app-t1"); len(files) != 1 || files[0] != "index.html" {
		t.Errorf("files = %v, want [index.html]", files)
	}

	// The revision prompt carries the whole previous document and the new brief.
	prompt := mc.prompts[1]
	for _, want := range []string{"--- EXISTING HTML CODE ---\n" + page1, "--- NEW BRIEF TO IMPLEMENT ---\n\"add a button\""} {
		if !strings.Contains(prompt, want) {
			t.Errorf("revision prompt missing %q", want)
		}
	}
	if len(arch.keys) != 2 {
		t.Errorf("archived %d revisions, want 2", len(arch.keys))
	}
}

func TestPipeline_BuildTwiceReusesContainer(t *testing.T) {
	store := hosting.NewMemoryStore("octo")
	p := NewPipeline(store, NewGenerator(&scriptedModel{outputs: []string{page1, page2}}, 0), &recordingNotifier{})

	first, err := p.Run(context.Background(), task(model.RoundBuild, "hello"))
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	second, err := p.Run(context.Background(), task(model.RoundBuild, "hello"))
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if first.Container.HTMLURL != second.Container.HTMLURL {
		t.Errorf("containers differ: %q vs %q", first.Container.HTMLURL, second.Container.HTMLURL)
	}
	if first.CommitSHA == second.CommitSHA {
		t.Error("second build should overwrite with a new revision")
	}
}

func TestPipeline_ReviseWithoutBuild(t *testing.T) {
	store := hosting.NewMemoryStore("octo")
	mc := &scriptedModel{outputs: []string{page1}}
	notifier := &recordingNotifier{}
	p := NewPipeline(store, NewGenerator(mc, 0), notifier)

	_, err := p.Run(context.Background(), task(model.RoundRevise, "update"))
	var se *StepError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StepError", err)
	}
	if se.StepName() != StepGetContainer || se.Kind != KindPrecondition {
		t.Errorf("step = %s kind = %s, want get_container precondition", se.Step, se.Kind)
	}
	if !errors.Is(err, hosting.ErrNotFound) {
		t.Error("error should wrap hosting.ErrNotFound")
	}
	if len(mc.prompts) != 0 || store.CountCalls("write_artifact") != 0 || len(notifier.payloads) != 0 {
		t.Error("no generation, write or notification expected")
	}
}

func TestPipeline_ReviseWithoutArtifact(t *testing.T) {
	store := hosting.NewMemoryStore("octo")
	if _, err := store.EnsureContainer(context.Background(), "tds-app-t1"); err != nil {
		t.Fatal(err)
	}
	mc := &scriptedModel{outputs: []string{page1}}
	p := NewPipeline(store, NewGenerator(mc, 0), &recordingNotifier{})

	_, err := p.Run(context.Background(), task(model.RoundRevise, "update"))
	var se *StepError
	if !errors.As(err, &se) || se.Step != StepReadArtifact || se.Kind != KindPrecondition {
		t.Fatalf("err = %v, want read_artifact precondition", err)
	}
	if len(mc.prompts) != 0 {
		t.Error("model should not be called")
	}
}

func TestPipeline_Failures(t *testing.T) {
	tests := []struct {
		name     string
		model    *scriptedModel
		notifier *recordingNotifier
		wantStep string
		wantKind Kind
		writes   int
	}{
		{
			name:     "model error",
			model:    &scriptedModel{err: errors.New("quota exceeded")},
			notifier: &recordingNotifier{},
			wantStep: StepGenerate,
			wantKind: KindGeneration,
		},
		{
			name:     "empty output",
			model:    &scriptedModel{outputs: []string{"  \n\t"}},
			notifier: &recordingNotifier{},
			wantStep: StepGenerate,
			wantKind: KindGeneration,
		},
		{
			name:     "notification exhausted",
			model:    &scriptedModel{outputs: []string{page1}},
			notifier: &recordingNotifier{err: errors.New("evaluator down")},
			wantStep: StepNotify,
			wantKind: KindNotification,
			writes:   1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := hosting.NewMemoryStore("octo")
			p := NewPipeline(store, NewGenerator(tt.model, 0), tt.notifier)

			_, err := p.Run(context.Background(), task(model.RoundBuild, "hello"))
			var se *StepError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want *StepError", err)
			}
			if se.Step != tt.wantStep || se.Kind != tt.wantKind {
				t.Errorf("got %s/%s, want %s/%s", se.Step, se.Kind, tt.wantStep, tt.wantKind)
			}
			if n := store.CountCalls("write_artifact"); n != tt.writes {
				t.Errorf("writes = %d, want %d", n, tt.writes)
			}
		})
	}
}

func TestPipeline_ArchiveFailureIsNotFatal(t *testing.T) {
	store := hosting.NewMemoryStore("octo")
	notifier := &recordingNotifier{}
	p := NewPipeline(store, NewGenerator(&scriptedModel{outputs: []string{page1}}, 0), notifier,
		WithArchive(&memArchive{err: errors.New("bucket gone")}))

	if _, err := p.Run(context.Background(), task(model.RoundBuild, "hello")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(notifier.payloads) != 1 {
		t.Error("evaluator should still be notified")
	}
}

func TestPipeline_ArchiveRunsAfterNotify(t *testing.T) {
	store := hosting.NewMemoryStore("octo")
	notifier := &recordingNotifier{}
	arch := &memArchive{notifier: notifier}
	p := NewPipeline(store, NewGenerator(&scriptedModel{outputs: []string{page1}}, 0), notifier, WithArchive(arch))

	if _, err := p.Run(context.Background(), task(model.RoundBuild, "hello")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(arch.notifiedAt) != 1 || arch.notifiedAt[0] != 1 {
		t.Errorf("notifications seen by archive = %v, want [1]", arch.notifiedAt)
	}
	if !arch.hadDeadline {
		t.Error("archive upload should run under a deadline")
	}
}

func TestPipeline_ArchiveAfterFailedNotify(t *testing.T) {
	store := hosting.NewMemoryStore("octo")
	notifier := &recordingNotifier{err: errors.New("evaluator down")}
	arch := &memArchive{notifier: notifier}
	p := NewPipeline(store, NewGenerator(&scriptedModel{outputs: []string{page1}}, 0), notifier, WithArchive(arch))

	_, err := p.Run(context.Background(), task(model.RoundBuild, "hello"))
	var se *StepError
	if !errors.As(err, &se) || se.StepName() != StepNotify {
		t.Fatalf("err = %v, want notify StepError", err)
	}
	if len(arch.keys) != 1 {
		t.Errorf("archived %d revisions, want 1", len(arch.keys))
	}
}

func TestPipeline_CustomPrefixAndPath(t *testing.T) {
	store := hosting.NewMemoryStore("octo")
	p := NewPipeline(store, NewGenerator(&scriptedModel{outputs: []string{page1}}, 0), &recordingNotifier{},
		WithRepoPrefix("site-"), WithArtifactPath("docs/index.html"))

	if _, err := p.Run(context.Background(), task(model.RoundBuild, "hello")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if files := store.Files("site-t1"); len(files) != 1 || files[0] != "docs/index.html" {
		t.Errorf("files = %v", files)
	}
}

func TestPipeline_InvalidRound(t *testing.T) {
	store := hosting.NewMemoryStore("octo")
	p := NewPipeline(store, NewGenerator(&scriptedModel{}, 0), &recordingNotifier{})

	_, err := p.Run(context.Background(), task(5, "hello"))
	if !errors.Is(err, model.ErrInvalidRound) {
		t.Fatalf("err = %v, want ErrInvalidRound", err)
	}
	if len(store.Calls()) != 0 {
		t.Error("no provider calls expected")
	}
}

func TestStepError(t *testing.T) {
	se := &StepError{Step: StepNotify, Kind: KindNotification, Err: errors.New("boom")}
	if se.Error() != "notify (notification): boom" {
		t.Errorf("Error() = %q", se.Error())
	}
	if se.FailureKind() != "notification" {
		t.Errorf("FailureKind() = %q", se.FailureKind())
	}
}
