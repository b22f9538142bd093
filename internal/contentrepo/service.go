// Package contentrepo versions lesson bodies in one git repository per
// course, with one JSON file per topic.
package contentrepo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"metalearn/api/internal/util"
)

const mainBranch = "main"

var (
	ErrNotFound  = errors.New("lesson content not found")
	ErrInvalidID = errors.New("invalid course or topic id")
)

// Content is the body of one lesson topic.
type Content struct {
	Title     string          `json:"title"`
	Summary   string          `json:"summary"`
	Markdown  string          `json:"markdown"`
	Resources []string        `json:"resources,omitempty"`
	Meta      json.RawMessage `json:"meta,omitempty"`
}

type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	now     func() time.Time
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// SaveTopic commits content for a topic on the course's main branch. Saving
// identical content creates no commit and returns the current head.
func (s *Service) SaveTopic(courseID, topicID string, content Content, author, message string) (Commit, error) {
	if !util.IsID(courseID) || !util.IsID(topicID) {
		return Commit{}, ErrInvalidID
	}
	lock := s.courseLock(courseID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(courseID, author)
	if err != nil {
		return Commit{}, err
	}

	if head, err := headCommit(repo); err == nil {
		if current, err := readTopic(head, topicID); err == nil && !HasChanges(current, content) {
			return toCommit(head), nil
		}
	}

	if message == "" {
		message = "Update topic " + topicID
	}
	hash, err := s.commit(repo, topicID, content, author, message)
	if err != nil {
		return Commit{}, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommit(commitObj), nil
}

// TopicHead returns the latest committed content of a topic.
func (s *Service) TopicHead(courseID, topicID string) (Content, Commit, error) {
	repo, unlock, err := s.open(courseID, topicID)
	if err != nil {
		return Content{}, Commit{}, err
	}
	defer unlock()

	head, err := headCommit(repo)
	if err != nil {
		return Content{}, Commit{}, err
	}
	content, err := readTopic(head, topicID)
	if err != nil {
		return Content{}, Commit{}, err
	}
	last, err := lastTopicCommit(repo, head, topicID)
	if err != nil {
		return Content{}, Commit{}, err
	}
	return content, last, nil
}

// TopicAt returns a topic as of a commit hash or short hash.
func (s *Service) TopicAt(courseID, topicID, hash string) (Content, error) {
	repo, unlock, err := s.open(courseID, topicID)
	if err != nil {
		return Content{}, err
	}
	defer unlock()

	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return Content{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return Content{}, fmt.Errorf("read commit %s: %w", hash, ErrNotFound)
	}
	return readTopic(commitObj, topicID)
}

// TopicHistory returns commits touching a topic, newest first.
func (s *Service) TopicHistory(courseID, topicID string, limit int) ([]Commit, error) {
	repo, unlock, err := s.open(courseID, topicID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	head, err := headCommit(repo)
	if err != nil {
		return nil, err
	}
	fileName := topicPath(topicID)
	iter, err := repo.Log(&git.LogOptions{From: head.Hash, FileName: &fileName})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommit(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items, nil
}

func (s *Service) open(courseID, topicID string) (*git.Repository, func(), error) {
	if !util.IsID(courseID) || !util.IsID(topicID) {
		return nil, nil, ErrInvalidID
	}
	lock := s.courseLock(courseID)
	lock.Lock()

	repo, err := git.PlainOpen(s.repoPath(courseID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		lock.Unlock()
		return nil, nil, ErrNotFound
	}
	if err != nil {
		lock.Unlock()
		return nil, nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, lock.Unlock, nil
}

func (s *Service) ensureRepo(courseID, author string) (*git.Repository, error) {
	repoPath := s.repoPath(courseID)
	repo, err := git.PlainOpen(repoPath)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(repoPath, "topics"), 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(repoPath, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	readme := fmt.Sprintf("# Lesson content for course %s\n", courseID)
	if err := os.WriteFile(filepath.Join(repoPath, "README.md"), []byte(readme), 0o644); err != nil {
		return nil, fmt.Errorf("write readme: %w", err)
	}
	if _, err := worktree.Add("README.md"); err != nil {
		return nil, fmt.Errorf("git add readme: %w", err)
	}
	hash, err := worktree.Commit("Initialize lesson content", &git.CommitOptions{Author: s.signature(author)})
	if err != nil {
		return nil, fmt.Errorf("commit initial content: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(mainBranch), hash)); err != nil {
		return nil, fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) commit(repo *git.Repository, topicID string, content Content, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(mainBranch), Force: true}); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("checkout main: %w", err)
	}

	payload, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal content: %w", err)
	}
	rel := topicPath(topicID)
	abs := filepath.Join(worktree.Filesystem.Root(), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("create topics dir: %w", err)
	}
	if err := os.WriteFile(abs, append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", rel, err)
	}
	if _, err := worktree.Add(rel); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add %s: %w", rel, err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{Author: s.signature(author)})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit content: %w", err)
	}
	return hash, nil
}

func (s *Service) signature(author string) *object.Signature {
	if author == "" {
		author = "MetaLearn"
	}
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@users.metalearn.dev", sanitizeEmail(author)),
		When:  s.now(),
	}
}

func (s *Service) repoPath(courseID string) string {
	return filepath.Join(s.baseDir, courseID)
}

func (s *Service) courseLock(courseID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[courseID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[courseID] = lock
	return lock
}

func topicPath(topicID string) string {
	return path.Join("topics", topicID+".json")
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", ErrNotFound)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load head commit: %w", err)
	}
	return commitObj, nil
}

// lastTopicCommit finds the newest commit that touched the topic file.
func lastTopicCommit(repo *git.Repository, head *object.Commit, topicID string) (Commit, error) {
	fileName := topicPath(topicID)
	iter, err := repo.Log(&git.LogOptions{From: head.Hash, FileName: &fileName})
	if err != nil {
		return Commit{}, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()
	commitObj, err := iter.Next()
	if err != nil {
		return toCommit(head), nil
	}
	return toCommit(commitObj), nil
}

func readTopic(commitObj *object.Commit, topicID string) (Content, error) {
	file, err := commitObj.File(topicPath(topicID))
	if errors.Is(err, object.ErrFileNotFound) {
		return Content{}, ErrNotFound
	}
	if err != nil {
		return Content{}, fmt.Errorf("load topic from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Content{}, fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return Content{}, fmt.Errorf("read content bytes: %w", err)
	}
	var content Content
	if err := json.Unmarshal(data, &content); err != nil {
		return Content{}, fmt.Errorf("decode topic content: %w", err)
	}
	return content, nil
}

// Change is one differing field between two versions of a topic.
type Change struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

func DiffFields(from, to Content) []Change {
	pairs := []Change{
		{Field: "title", Before: from.Title, After: to.Title},
		{Field: "summary", Before: from.Summary, After: to.Summary},
		{Field: "markdown", Before: from.Markdown, After: to.Markdown},
	}
	result := make([]Change, 0)
	for _, item := range pairs {
		if item.Before != item.After {
			result = append(result, item)
		}
	}
	if !equalStrings(from.Resources, to.Resources) {
		result = append(result, Change{Field: "resources", Before: fmt.Sprint(from.Resources), After: fmt.Sprint(to.Resources)})
	}
	if !bytes.Equal(normalizeJSON(from.Meta), normalizeJSON(to.Meta)) {
		result = append(result, Change{Field: "meta", Before: "[metadata]", After: "[metadata]"})
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Field < result[j].Field
	})
	return result
}

func HasChanges(from, to Content) bool {
	return len(DiffFields(from, to)) > 0
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func toCommit(commitObj *object.Commit) Commit {
	return Commit{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func normalizeJSON(doc json.RawMessage) []byte {
	if len(doc) == 0 {
		return nil
	}
	var parsed any
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return nil
	}
	normalized, err := json.Marshal(parsed)
	if err != nil {
		return nil
	}
	return normalized
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, ErrNotFound)
	}
	return *resolved, nil
}
