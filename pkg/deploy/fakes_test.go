package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nedaZarei/PagesDeployService/pkg/models"
	"github.com/nedaZarei/PagesDeployService/pkg/report"
	"github.com/nedaZarei/PagesDeployService/pkg/repostore"
)

type publishCall struct {
	project string
	file    string
	content string
	message string
}

// memoryStore keeps projects and files in memory.
type memoryStore struct {
	mu       sync.Mutex
	projects map[string]map[string]string
	commits  map[string]int
	publish  []publishCall
	creates  int
	hosted   map[string]int

	failPublishOn string
	failAcquire   error
	failHosting   error
	failCommit    error
	failFind      error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		projects: make(map[string]map[string]string),
		commits:  make(map[string]int),
		hosted:   make(map[string]int),
	}
}

func (s *memoryStore) FindProject(_ context.Context, name string) (*repostore.ProjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFind != nil {
		return nil, s.failFind
	}
	if _, ok := s.projects[name]; !ok {
		return nil, nil
	}
	return s.info(name), nil
}

func (s *memoryStore) CreateOrGetProject(_ context.Context, name string) (*repostore.ProjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAcquire != nil {
		return nil, s.failAcquire
	}
	if _, ok := s.projects[name]; !ok {
		s.creates++
		s.projects[name] = make(map[string]string)
	}
	return s.info(name), nil
}

func (s *memoryStore) PublishFile(ctx context.Context, project, fileName string, content []byte, message string) (*repostore.CommitInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if fileName == s.failPublishOn {
		return nil, fmt.Errorf("push %s: upstream rejected", fileName)
	}
	s.projects[project][fileName] = string(content)
	s.commits[project]++
	s.publish = append(s.publish, publishCall{project: project, file: fileName, content: string(content), message: message})
	return &repostore.CommitInfo{FileName: fileName, CommitSHA: s.head(project)}, nil
}

func (s *memoryStore) EnableStaticHosting(_ context.Context, project string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failHosting != nil {
		return "", s.failHosting
	}
	s.hosted[project]++
	return "https://me.github.io/" + project + "/", nil
}

func (s *memoryStore) LatestCommitSHA(_ context.Context, project, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCommit != nil {
		return "", s.failCommit
	}
	if s.commits[project] == 0 {
		return "", nil
	}
	return s.head(project), nil
}

func (s *memoryStore) RepoURL(name string) string {
	return "https://github.com/me/" + name
}

func (s *memoryStore) info(name string) *repostore.ProjectInfo {
	return &repostore.ProjectInfo{Name: name, FullName: "me/" + name, HTMLURL: s.RepoURL(name), DefaultBranch: "main"}
}

func (s *memoryStore) head(project string) string {
	return fmt.Sprintf("%s-commit-%d", project, s.commits[project])
}

func (s *memoryStore) deleteProject(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, name)
	delete(s.commits, name)
}

func (s *memoryStore) publishedFiles() []publishCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]publishCall(nil), s.publish...)
}

type generateCall struct {
	brief       string
	attachments []json.RawMessage
}

// stubGenerator echoes the brief back inside a page.
type stubGenerator struct {
	mu    sync.Mutex
	calls []generateCall
	err   error
	delay time.Duration

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (g *stubGenerator) Generate(_ context.Context, brief string, attachments []json.RawMessage) (string, error) {
	n := g.inflight.Add(1)
	defer g.inflight.Add(-1)
	for {
		cur := g.maxInflight.Load()
		if n <= cur || g.maxInflight.CompareAndSwap(cur, n) {
			break
		}
	}
	if g.delay > 0 {
		time.Sleep(g.delay)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, generateCall{brief: brief, attachments: attachments})
	if g.err != nil {
		return "", g.err
	}
	return "<html><body>" + brief + "</body></html>", nil
}

func (g *stubGenerator) lastBrief() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.calls) == 0 {
		return ""
	}
	return g.calls[len(g.calls)-1].brief
}

type reportCall struct {
	url    string
	result models.DeploymentResult
}

type recordingReporter struct {
	mu    sync.Mutex
	calls []reportCall
}

func (r *recordingReporter) Report(_ context.Context, url string, result models.DeploymentResult) report.Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, reportCall{url: url, result: result})
	return report.Delivery{Attempts: 1, Delivered: true}
}

func (r *recordingReporter) reports() []reportCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reportCall(nil), r.calls...)
}

type failingRegistry struct {
	lookupErr error
	recordErr error
}

func (f failingRegistry) Lookup(context.Context, string) (string, bool, error) {
	return "", false, f.lookupErr
}

func (f failingRegistry) Record(context.Context, string, string) error {
	return f.recordErr
}

type sideChannels struct {
	mu       sync.Mutex
	archived map[string][]string
	events   []models.DeploymentEvent
	notified []models.DeploymentResult
	err      error
}

func newSideChannels() *sideChannels {
	return &sideChannels{archived: make(map[string][]string)}
}

func (s *sideChannels) Archive(_ context.Context, project string, round int, files []models.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%s/round-%d", project, round)
	for _, f := range files {
		s.archived[key] = append(s.archived[key], f.Name)
	}
	return s.err
}

func (s *sideChannels) Publish(_ context.Context, event models.DeploymentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *sideChannels) NotifyDeployed(_ context.Context, result models.DeploymentResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notified = append(s.notified, result)
	return s.err
}

var errUpstream = errors.New("upstream unavailable")
