package repostore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nedaZarei/PagesDeployService/pkg/retry"
)

const testOwner = "me"

type fakeFile struct {
	sha     string
	content []byte
}

type putRecord struct {
	repo    string
	path    string
	message string
	sha     string
	branch  string
	content []byte
}

// fakeGitHub implements the slice of the GitHub REST API the client uses.
type fakeGitHub struct {
	t  *testing.T
	mu sync.Mutex

	repos   map[string]bool
	files   map[string]map[string]fakeFile
	pages   map[string]bool
	commits map[string][]string
	puts    []putRecord
	seq     int

	login       string
	createCalls int
	userCalls   int
	orgCreates  []string
	pagesPosts  int
	authHeaders []string

	// hiddenGets makes the next N repository GETs answer 404 even if the repository exists.
	hiddenGets map[string]int
	// failures makes the next N calls of an operation answer with the given status.
	failures map[string][]int
	// pagesInfoMissing makes GET pages answer 404.
	pagesInfoMissing bool
}

func newFakeGitHub(t *testing.T) (*fakeGitHub, *httptest.Server) {
	t.Helper()
	f := &fakeGitHub{
		t:          t,
		repos:      make(map[string]bool),
		files:      make(map[string]map[string]fakeFile),
		pages:      make(map[string]bool),
		commits:    make(map[string][]string),
		hiddenGets: make(map[string]int),
		failures:   make(map[string][]int),
		login:      testOwner,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/{owner}/{repo}", f.getRepo)
	mux.HandleFunc("GET /user", f.getUser)
	mux.HandleFunc("POST /user/repos", f.createRepo)
	mux.HandleFunc("POST /orgs/{org}/repos", f.createRepo)
	mux.HandleFunc("GET /repos/{owner}/{repo}/contents/{path...}", f.getContents)
	mux.HandleFunc("PUT /repos/{owner}/{repo}/contents/{path...}", f.putContents)
	mux.HandleFunc("POST /repos/{owner}/{repo}/pages", f.enablePages)
	mux.HandleFunc("GET /repos/{owner}/{repo}/pages", f.getPages)
	mux.HandleFunc("GET /repos/{owner}/{repo}/commits/{ref}", f.getCommit)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return f, server
}

func newTestClient(t *testing.T) (*Client, *fakeGitHub) {
	t.Helper()
	fake, server := newFakeGitHub(t)
	client, err := NewClient(Config{
		Owner:   testOwner,
		Token:   "ghp_test",
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
		Retry: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			Sleep:       func(context.Context, time.Duration) error { return nil },
		},
	}, zerolog.Nop())
	require.NoError(t, err)
	return client, fake
}

func (f *fakeGitHub) fail(op string, statuses ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], statuses...)
}

// injected answers with a queued failure for op, if any. Callers hold f.mu.
func (f *fakeGitHub) injected(w http.ResponseWriter, op string) bool {
	queue := f.failures[op]
	if len(queue) == 0 {
		return false
	}
	f.failures[op] = queue[1:]
	writeJSON(w, queue[0], map[string]string{"message": "injected failure"})
	return true
}

func (f *fakeGitHub) nextSHA(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s%04d", prefix, f.seq)
}

func (f *fakeGitHub) repoJSON(name string) map[string]any {
	return map[string]any{
		"name":           name,
		"full_name":      testOwner + "/" + name,
		"html_url":       "https://github.com/" + testOwner + "/" + name,
		"default_branch": "main",
	}
}

func (f *fakeGitHub) getRepo(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
	if f.injected(w, "get_repo") {
		return
	}
	name := r.PathValue("repo")
	if f.hiddenGets[name] > 0 {
		f.hiddenGets[name]--
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	if !f.repos[name] {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	writeJSON(w, http.StatusOK, f.repoJSON(name))
}

func (f *fakeGitHub) getUser(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userCalls++
	if f.injected(w, "get_user") {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"login": f.login})
}

func (f *fakeGitHub) createRepo(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if org := r.PathValue("org"); org != "" {
		f.orgCreates = append(f.orgCreates, org)
	}
	if f.injected(w, "create_repo") {
		return
	}
	var body struct {
		Name     string `json:"name"`
		Private  bool   `json:"private"`
		AutoInit bool   `json:"auto_init"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	if f.repos[body.Name] {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": "Repository creation failed.",
			"errors":  []map[string]string{{"resource": "Repository", "code": "custom", "field": "name", "message": "name already exists on this account"}},
		})
		return
	}
	f.repos[body.Name] = true
	writeJSON(w, http.StatusCreated, f.repoJSON(body.Name))
}

func (f *fakeGitHub) getContents(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.injected(w, "get_contents") {
		return
	}
	repo, path := r.PathValue("repo"), r.PathValue("path")
	file, ok := f.files[repo][path]
	if !f.repos[repo] || !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"type":     "file",
		"name":     path,
		"path":     path,
		"sha":      file.sha,
		"encoding": "base64",
		"content":  base64.StdEncoding.EncodeToString(file.content),
	})
}

func (f *fakeGitHub) putContents(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.injected(w, "put_contents") {
		return
	}
	repo, path := r.PathValue("repo"), r.PathValue("path")
	if !f.repos[repo] {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}

	var body struct {
		Message string `json:"message"`
		Content string `json:"content"`
		SHA     string `json:"sha"`
		Branch  string `json:"branch"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	content, err := base64.StdEncoding.DecodeString(body.Content)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "content is not valid Base64"})
		return
	}

	existing, exists := f.files[repo][path]
	if exists && body.SHA != existing.sha {
		writeJSON(w, http.StatusConflict, map[string]string{"message": fmt.Sprintf("%s does not match %s", path, body.SHA)})
		return
	}
	if !exists && body.SHA != "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "sha wasn't supplied"})
		return
	}

	f.puts = append(f.puts, putRecord{repo: repo, path: path, message: body.Message, sha: body.SHA, branch: body.Branch, content: content})
	if f.files[repo] == nil {
		f.files[repo] = make(map[string]fakeFile)
	}
	blob := f.nextSHA("blob")
	commit := f.nextSHA("commit")
	f.files[repo][path] = fakeFile{sha: blob, content: content}
	f.commits[repo] = append(f.commits[repo], commit)

	status := http.StatusCreated
	if exists {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"content": map[string]any{"name": path, "path": path, "sha": blob},
		"commit":  map[string]any{"sha": commit, "message": body.Message},
	})
}

func (f *fakeGitHub) enablePages(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pagesPosts++
	if f.injected(w, "enable_pages") {
		return
	}
	repo := r.PathValue("repo")
	if f.pages[repo] {
		writeJSON(w, http.StatusConflict, map[string]string{"message": "GitHub Pages is already enabled."})
		return
	}
	var body struct {
		Source struct {
			Branch string `json:"branch"`
			Path   string `json:"path"`
		} `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Source.Branch != "main" || body.Source.Path != "/" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "invalid source"})
		return
	}
	f.pages[repo] = true
	writeJSON(w, http.StatusCreated, map[string]any{"html_url": "https://" + testOwner + ".github.io/" + repo + "/"})
}

func (f *fakeGitHub) getPages(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	repo := r.PathValue("repo")
	if f.pagesInfoMissing || !f.pages[repo] {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"html_url": "https://pages.example/" + repo + "/"})
}

func (f *fakeGitHub) getCommit(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.injected(w, "get_commit") {
		return
	}
	repo := r.PathValue("repo")
	if !f.repos[repo] {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	commits := f.commits[repo]
	if len(commits) == 0 {
		writeJSON(w, http.StatusConflict, map[string]string{"message": "Git Repository is empty."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sha": commits[len(commits)-1]})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
