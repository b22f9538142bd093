// Package cli implements the metalearn terminal client for the tutor API.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"metalearn/api/internal/sessionclient"
)

const (
	ExitSuccess           = 0
	ExitFailure           = 1
	ExitInvalidInvocation = 2
	ExitNotLoggedIn       = 3
)

const DefaultAPIURL = "http://localhost:4001"

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

var errNotLoggedIn = &InvocationError{ExitCode: ExitNotLoggedIn, Message: "not logged in, run: metalearn login -email you@example.com"}

// Env is everything Run touches outside its arguments.
type Env struct {
	Stdout io.Writer
	Stderr io.Writer
	// Storage overrides the session file chosen by -session.
	Storage sessionclient.Storage
	// ReadPassword prompts for the login password.
	ReadPassword func(prompt string) (string, error)
}

type runner struct {
	env    Env
	client *sessionclient.Client
	keeper *sessionclient.Keeper
}

const usage = `usage: metalearn [-api URL] [-session PATH] <command> [flags]

commands:
  login     -email EMAIL         sign in as a tutor
  courses                        list the courses you teach
  progress  -course ID           show learner completion
  ask       -course ID -question TEXT
                                 ask the analytics assistant
  watch                          keep the session alive and print changes
  logout                         end the session`

// Run executes one invocation and returns the process exit code.
func Run(ctx context.Context, args []string, env Env) int {
	err := run(ctx, args, env)
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) {
		fmt.Fprintln(env.Stderr, invErr.Message)
		return invErr.ExitCode
	}
	fmt.Fprintln(env.Stderr, "error:", err)
	return ExitFailure
}

func run(ctx context.Context, args []string, env Env) error {
	fs := flag.NewFlagSet("metalearn", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	apiURL := fs.String("api", DefaultAPIURL, "tutor API base URL")
	sessionPath := fs.String("session", "", "session file (default ~/.metalearn/session.json)")
	if err := fs.Parse(args); err != nil {
		return invalidInvocationf("%v\n%s", err, usage)
	}
	if fs.NArg() == 0 {
		return invalidInvocationf("%s", usage)
	}
	if _, err := url.ParseRequestURI(*apiURL); err != nil {
		return invalidInvocationf("-api must be a URL (got %q)", *apiURL)
	}

	storage := env.Storage
	if storage == nil {
		path := *sessionPath
		if path == "" {
			var err error
			if path, err = sessionclient.DefaultPath(); err != nil {
				return err
			}
		}
		storage = sessionclient.NewFileStorage(path)
	}

	client := sessionclient.NewClient(*apiURL, storage)
	r := &runner{env: env, client: client, keeper: sessionclient.NewKeeper(client)}

	command, rest := fs.Arg(0), fs.Args()[1:]
	switch command {
	case "login":
		return r.login(ctx, rest)
	case "courses":
		return r.courses(ctx, rest)
	case "progress":
		return r.progress(ctx, rest)
	case "ask":
		return r.ask(ctx, rest)
	case "watch":
		return r.watch(ctx, rest)
	case "logout":
		return r.logout(ctx, rest)
	case "help":
		fmt.Fprintln(env.Stdout, usage)
		return nil
	default:
		return invalidInvocationf("unknown command %q\n%s", command, usage)
	}
}

func subcommand(name string, args []string, define func(fs *flag.FlagSet)) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if define != nil {
		define(fs)
	}
	if err := fs.Parse(args); err != nil {
		return invalidInvocationf("%s: %v", name, err)
	}
	if fs.NArg() != 0 {
		return invalidInvocationf("%s: unexpected arguments: %q", name, strings.Join(fs.Args(), " "))
	}
	return nil
}

// session loads the stored session and refreshes it when it is about to
// expire.
func (r *runner) session(ctx context.Context) (*sessionclient.StoredSession, error) {
	stored, err := r.client.Storage().Read()
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, errNotLoggedIn
	}
	fresh, err := r.keeper.EnsureFresh(ctx, stored)
	if err != nil {
		if errors.Is(err, sessionclient.ErrRefreshExpired) || errors.Is(err, sessionclient.ErrRefreshFailed) {
			return nil, &InvocationError{ExitCode: ExitNotLoggedIn, Message: "session expired, please log in again"}
		}
		return nil, err
	}
	return fresh, nil
}

func (r *runner) login(ctx context.Context, args []string) error {
	var email, password string
	if err := subcommand("login", args, func(fs *flag.FlagSet) {
		fs.StringVar(&email, "email", "", "tutor email")
		fs.StringVar(&password, "password", "", "password (prompted when empty)")
	}); err != nil {
		return err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return invalidInvocationf("login: -email is required")
	}
	if password == "" {
		if r.env.ReadPassword == nil {
			return invalidInvocationf("login: -password is required")
		}
		var err error
		if password, err = r.env.ReadPassword("Password: "); err != nil {
			return fmt.Errorf("read password: %w", err)
		}
	}

	s, err := r.client.Login(ctx, email, password)
	if err != nil {
		return err
	}
	name := s.FullName
	if name == "" {
		name = s.Email
	}
	fmt.Fprintf(r.env.Stdout, "Logged in as %s (%s)\n", name, s.Role)
	return nil
}

type courseList struct {
	Courses []struct {
		CourseID string `json:"courseId"`
		Slug     string `json:"slug"`
		Title    string `json:"title"`
		Role     string `json:"role"`
	} `json:"courses"`
}

func (r *runner) courses(ctx context.Context, args []string) error {
	if err := subcommand("courses", args, nil); err != nil {
		return err
	}
	s, err := r.session(ctx)
	if err != nil {
		return err
	}
	var resp courseList
	if err := r.client.Get(ctx, *s, "/tutors/me/courses", &resp); err != nil {
		return err
	}
	if len(resp.Courses) == 0 {
		fmt.Fprintln(r.env.Stdout, "No courses assigned.")
		return nil
	}
	for _, c := range resp.Courses {
		fmt.Fprintf(r.env.Stdout, "%s  %s (%s) [%s]\n", c.CourseID, c.Title, c.Slug, c.Role)
	}
	return nil
}

type progressReport struct {
	TotalModules int `json:"totalModules"`
	Learners     []struct {
		FullName         string `json:"fullName"`
		Email            string `json:"email"`
		CompletedModules int    `json:"completedModules"`
		Percent          int    `json:"percent"`
	} `json:"learners"`
}

func (r *runner) progress(ctx context.Context, args []string) error {
	var courseID string
	if err := subcommand("progress", args, func(fs *flag.FlagSet) {
		fs.StringVar(&courseID, "course", "", "course id")
	}); err != nil {
		return err
	}
	if courseID = strings.TrimSpace(courseID); courseID == "" {
		return invalidInvocationf("progress: -course is required")
	}
	s, err := r.session(ctx)
	if err != nil {
		return err
	}
	var resp progressReport
	if err := r.client.Get(ctx, *s, "/tutors/"+url.PathEscape(courseID)+"/progress", &resp); err != nil {
		return err
	}
	fmt.Fprintf(r.env.Stdout, "%d learners, %d modules\n", len(resp.Learners), resp.TotalModules)
	for _, l := range resp.Learners {
		fmt.Fprintf(r.env.Stdout, "%3d%%  %d/%d  %s <%s>\n", l.Percent, l.CompletedModules, resp.TotalModules, l.FullName, l.Email)
	}
	return nil
}

func (r *runner) ask(ctx context.Context, args []string) error {
	var courseID, question string
	if err := subcommand("ask", args, func(fs *flag.FlagSet) {
		fs.StringVar(&courseID, "course", "", "course id")
		fs.StringVar(&question, "question", "", "question for the assistant")
	}); err != nil {
		return err
	}
	if strings.TrimSpace(courseID) == "" {
		return invalidInvocationf("ask: -course is required")
	}
	if strings.TrimSpace(question) == "" {
		return invalidInvocationf("ask: -question is required")
	}
	s, err := r.session(ctx)
	if err != nil {
		return err
	}
	var resp struct {
		Answer string `json:"answer"`
	}
	body := map[string]string{"courseId": courseID, "question": question}
	if err := r.client.Post(ctx, *s, "/tutors/assistant/query", body, &resp); err != nil {
		return err
	}
	fmt.Fprintln(r.env.Stdout, resp.Answer)
	return nil
}

// watch keeps the session alive until it ends or ctx is cancelled.
func (r *runner) watch(ctx context.Context, args []string) error {
	if err := subcommand("watch", args, nil); err != nil {
		return err
	}
	stored, err := r.client.Storage().Read()
	if err != nil {
		return err
	}
	if stored == nil {
		return errNotLoggedIn
	}

	ended := make(chan struct{})
	var (
		once sync.Once
		mu   sync.Mutex
	)
	unsubscribe := r.keeper.Subscribe(func(s *sessionclient.StoredSession) {
		mu.Lock()
		defer mu.Unlock()
		if s == nil {
			fmt.Fprintln(r.env.Stdout, time.Now().Format(time.TimeOnly), "logged out")
			once.Do(func() { close(ended) })
			return
		}
		fmt.Fprintln(r.env.Stdout, time.Now().Format(time.TimeOnly), "session active until", s.AccessTokenExpiresAt)
	})
	defer unsubscribe()

	select {
	case <-ended:
		return &InvocationError{ExitCode: ExitNotLoggedIn, Message: "session ended"}
	case <-ctx.Done():
		return nil
	}
}

func (r *runner) logout(ctx context.Context, args []string) error {
	if err := subcommand("logout", args, nil); err != nil {
		return err
	}
	stored, err := r.client.Storage().Read()
	if err != nil {
		return err
	}
	if stored != nil {
		if err := r.client.Logout(ctx, *stored); err != nil {
			fmt.Fprintln(r.env.Stderr, "warning: server logout failed:", err)
		}
	}
	if err := r.client.Storage().Clear(); err != nil {
		return err
	}
	fmt.Fprintln(r.env.Stdout, "Logged out.")
	return nil
}
