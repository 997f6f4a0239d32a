package commands

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/smnsjas/go-hgcmd/frames"
	"github.com/smnsjas/go-hgcmd/objects"
	"github.com/smnsjas/go-hgcmd/session"
)

var (
	// ErrNoRevisions is returned when a command requires at least one
	// revision and none were given.
	ErrNoRevisions = errors.New("no revisions specified")
	// ErrNoFiles is returned when a command requires at least one file
	// and none were given.
	ErrNoFiles = errors.New("no files specified")
	// ErrNothingToCommit is returned by Commit when the working copy
	// has no changes.
	ErrNothingToCommit = errors.New("nothing changed")
)

// Runner is the command-submission surface a Client needs. It is
// satisfied by *session.Session.
type Runner interface {
	RunCommand(args []string, outputs map[frames.Channel]io.Writer, inputs map[frames.Channel]session.InputFunc) (int32, error)
	GetCommandOutput(args []string, inputs map[frames.Channel]session.InputFunc) (*session.CommandResult, error)
}

// Client exposes Mercurial subcommands over one session.
type Client struct {
	runner Runner
}

// New creates a Client submitting commands through r.
func New(r Runner) *Client {
	return &Client{runner: r}
}

// run executes args. Exit code 0 returns ok=true; codes listed in
// benign return ok=false with the captured result; anything else is a
// *session.CommandError.
func (c *Client) run(args []string, benign ...int32) (res *session.CommandResult, ok bool, err error) {
	res, err = c.runner.GetCommandOutput(args, nil)
	if err != nil {
		return nil, false, err
	}
	if res.Code == 0 {
		return res, true, nil
	}
	for _, b := range benign {
		if res.Code == b {
			return res, false, nil
		}
	}
	return nil, false, &session.CommandError{
		Args:   args,
		Code:   res.Code,
		Stdout: res.Stdout,
		Stderr: res.Stderr,
	}
}

// Init creates a new repository at dest.
func (c *Client) Init(dest string) error {
	if dest == "" {
		return errors.New("no destination path")
	}
	_, _, err := c.run(command("init").add(dest).build())
	return err
}

// CloneOpts configures Clone.
type CloneOpts struct {
	NoUpdate  bool
	UpdateRev string
	Revs      []string
	Branches  []string
	Pull      bool
}

// Clone copies the repository at source to dest.
func (c *Client) Clone(source, dest string, opts CloneOpts) error {
	if source == "" {
		return errors.New("no source repository")
	}
	a := command("clone").
		flag("--noupdate", opts.NoUpdate).
		opt("--updaterev", opts.UpdateRev).
		repeat("--rev", opts.Revs).
		repeat("--branch", opts.Branches).
		flag("--pull", opts.Pull).
		add(source)
	if dest != "" {
		a.add(dest)
	}
	_, _, err := c.run(a.build())
	return err
}

// Add schedules files for addition; with no files, all untracked files
// are added. Reports whether every file was added successfully.
func (c *Client) Add(files ...string) (bool, error) {
	_, ok, err := c.run(command("add").add(files...).build(), 1)
	return ok, err
}

// AddRemove adds new files and marks missing files removed. Reports
// whether every file was processed successfully.
func (c *Client) AddRemove(files ...string) (bool, error) {
	_, ok, err := c.run(command("addremove").add(files...).build(), 1)
	return ok, err
}

// BookmarkOpts configures Bookmark.
type BookmarkOpts struct {
	Rev      string
	Force    bool
	Delete   bool
	Inactive bool
	Rename   string
}

// Bookmark creates, moves, renames or deletes the named bookmark.
func (c *Client) Bookmark(name string, opts BookmarkOpts) error {
	a := command("bookmark").
		opt("--rev", opts.Rev).
		flag("--force", opts.Force).
		flag("--delete", opts.Delete).
		flag("--inactive", opts.Inactive).
		opt("--rename", opts.Rename).
		add(name)
	_, _, err := c.run(a.build())
	return err
}

// Bookmarks lists the repository's bookmarks.
func (c *Client) Bookmarks() ([]objects.Bookmark, error) {
	res, _, err := c.run(command("bookmarks").build())
	if err != nil {
		return nil, err
	}
	return objects.ParseBookmarks(res.Stdout)
}

// BranchOpts configures Branch.
type BranchOpts struct {
	Force bool
	Clean bool
}

// Branch sets the working copy branch name, or with an empty name
// returns the current one.
func (c *Client) Branch(name string, opts BranchOpts) (string, error) {
	a := command("branch").
		flag("--force", opts.Force).
		flag("--clean", opts.Clean)
	if name != "" {
		a.add(name)
	}
	res, _, err := c.run(a.build())
	if err != nil {
		return "", err
	}
	if name != "" {
		return name, nil
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Branches lists the repository's named branches.
func (c *Client) Branches(closed bool) ([]objects.Branch, error) {
	res, _, err := c.run(command("branches").flag("--closed", closed).build())
	if err != nil {
		return nil, err
	}
	return objects.ParseBranches(res.Stdout)
}

// Cat returns the content of the given files at a revision, or from
// the working copy parent when rev is empty.
func (c *Client) Cat(rev string, files ...string) ([]byte, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	res, _, err := c.run(command("cat").opt("--rev", rev).add(files...).build())
	if err != nil {
		return nil, err
	}
	return []byte(res.Stdout), nil
}

// CommitOpts configures Commit.
type CommitOpts struct {
	AddRemove   bool
	CloseBranch bool
	Amend       bool
	User        string
	Date        string
	Files       []string
}

// committedRE extracts the new changeset from commit --debug output.
var committedRE = regexp.MustCompile(`committed changeset (\d+):([0-9a-f]+)`)

// Commit records changes in the repository and returns the new
// changeset's revision number and node. A working copy with nothing
// changed yields ErrNothingToCommit.
func (c *Client) Commit(message string, opts CommitOpts) (int, string, error) {
	if message == "" {
		return 0, "", errors.New("empty commit message")
	}
	// --debug makes the server report the committed changeset.
	a := command("commit").
		add("--debug").
		opt("--message", message).
		flag("--addremove", opts.AddRemove).
		flag("--close-branch", opts.CloseBranch).
		flag("--amend", opts.Amend).
		opt("--user", opts.User).
		opt("--date", opts.Date).
		add(opts.Files...)

	res, ok, err := c.run(a.build(), 1)
	if err != nil {
		return 0, "", err
	}
	if !ok {
		return 0, "", ErrNothingToCommit
	}

	matches := committedRE.FindAllStringSubmatch(res.Stdout, -1)
	if len(matches) == 0 {
		return 0, "", fmt.Errorf("commit output missing changeset line: %q", res.Stdout)
	}
	last := matches[len(matches)-1]
	rev, err := strconv.Atoi(last[1])
	if err != nil {
		return 0, "", fmt.Errorf("parse committed revision %q: %w", last[1], err)
	}
	return rev, last[2], nil
}

// Copy marks dest as a copy of source. Reports whether the copy
// succeeded for every file.
func (c *Client) Copy(source, dest string, after, force bool) (bool, error) {
	if source == "" || dest == "" {
		return false, ErrNoFiles
	}
	a := command("copy").
		flag("--after", after).
		flag("--force", force).
		add(source, dest)
	_, ok, err := c.run(a.build(), 1)
	return ok, err
}

// DiffOpts configures Diff.
type DiffOpts struct {
	Files             []string
	Revs              []string
	Change            string
	Text              bool
	Git               bool
	ShowFunction      bool
	Reverse           bool
	IgnoreAllSpace    bool
	IgnoreSpaceChange bool
	UnifiedContext    int
}

// Diff returns the diff between revisions, or against the working copy
// when no revisions are given.
func (c *Client) Diff(opts DiffOpts) ([]byte, error) {
	a := command("diff").
		repeat("--rev", opts.Revs).
		opt("--change", opts.Change).
		flag("--text", opts.Text).
		flag("--git", opts.Git).
		flag("--show-function", opts.ShowFunction).
		flag("--reverse", opts.Reverse).
		flag("--ignore-all-space", opts.IgnoreAllSpace).
		flag("--ignore-space-change", opts.IgnoreSpaceChange).
		optInt("--unified", opts.UnifiedContext).
		add(opts.Files...)
	res, _, err := c.run(a.build())
	if err != nil {
		return nil, err
	}
	return []byte(res.Stdout), nil
}

// Export returns the header-annotated patches for the given revisions.
func (c *Client) Export(revs ...string) ([]byte, error) {
	if len(revs) == 0 {
		return nil, ErrNoRevisions
	}
	res, _, err := c.run(command("export").add(revs...).build())
	if err != nil {
		return nil, err
	}
	return []byte(res.Stdout), nil
}

// Forget stops tracking files without removing them from the working
// copy. Reports whether every file was forgotten.
func (c *Client) Forget(files ...string) (bool, error) {
	if len(files) == 0 {
		return false, ErrNoFiles
	}
	_, ok, err := c.run(command("forget").add(files...).build(), 1)
	return ok, err
}

// HeadsOpts configures Heads.
type HeadsOpts struct {
	Revs        []string
	Topological bool
	Closed      bool
}

// Heads returns the repository's head changesets. A repository with no
// matching heads yields an empty slice, not an error.
func (c *Client) Heads(opts HeadsOpts) ([]objects.Revision, error) {
	a := command("heads").
		opt("--template", objects.LogTemplate).
		flag("--topo", opts.Topological).
		flag("--closed", opts.Closed).
		add(opts.Revs...)
	res, ok, err := c.run(a.build(), 1)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return objects.ParseRevisions(res.Stdout)
}

// IdentifyOpts configures Identify.
type IdentifyOpts struct {
	Rev       string
	Num       bool
	ID        bool
	Branch    bool
	Tags      bool
	Bookmarks bool
}

// Identify describes the working copy or the given revision.
func (c *Client) Identify(opts IdentifyOpts) (string, error) {
	a := command("identify").
		opt("--rev", opts.Rev).
		flag("--num", opts.Num).
		flag("--id", opts.ID).
		flag("--branch", opts.Branch).
		flag("--tags", opts.Tags).
		flag("--bookmarks", opts.Bookmarks)
	res, _, err := c.run(a.build())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// ImportOpts configures Import.
type ImportOpts struct {
	NoCommit bool
	Force    bool
	Exact    bool
	User     string
	Date     string
	Message  string
}

// Import applies the given patch files.
func (c *Client) Import(patches []string, opts ImportOpts) error {
	if len(patches) == 0 {
		return ErrNoFiles
	}
	a := command("import").
		flag("--no-commit", opts.NoCommit).
		flag("--force", opts.Force).
		flag("--exact", opts.Exact).
		opt("--user", opts.User).
		opt("--date", opts.Date).
		opt("--message", opts.Message).
		add(patches...)
	_, _, err := c.run(a.build())
	return err
}

// SyncOpts configures Incoming and Outgoing.
type SyncOpts struct {
	// Path is the peer repository; empty means the default path.
	Path     string
	Revs     []string
	Branches []string
	Force    bool
	NoMerges bool
}

// Incoming returns the changesets a pull from the peer would bring in.
// An up-to-date peer yields an empty slice.
func (c *Client) Incoming(opts SyncOpts) ([]objects.Revision, error) {
	return c.sync("incoming", opts)
}

// Outgoing returns the changesets a push to the peer would publish.
// An up-to-date peer yields an empty slice.
func (c *Client) Outgoing(opts SyncOpts) ([]objects.Revision, error) {
	return c.sync("outgoing", opts)
}

func (c *Client) sync(direction string, opts SyncOpts) ([]objects.Revision, error) {
	a := command(direction).
		opt("--template", objects.LogTemplate).
		repeat("--rev", opts.Revs).
		repeat("--branch", opts.Branches).
		flag("--force", opts.Force).
		flag("--no-merges", opts.NoMerges)
	if opts.Path != "" {
		a.add(opts.Path)
	}
	res, ok, err := c.run(a.build(), 1)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Exit code 1: no changesets to exchange.
		return nil, nil
	}
	// The first two lines are the "comparing with" and "searching for
	// changes" banners; the template output follows.
	return objects.ParseRevisions(eatLines(res.Stdout, 2))
}

// eatLines drops the first n lines of s.
func eatLines(s string, n int) string {
	for ; n > 0; n-- {
		idx := strings.IndexByte(s, '\n')
		if idx < 0 {
			return ""
		}
		s = s[idx+1:]
	}
	return s
}

// LogOpts configures Log.
type LogOpts struct {
	Revs     []string
	Files    []string
	Follow   bool
	NoMerges bool
	Date     string
	User     string
	Keyword  string
	Branch   string
	Limit    int
}

// Log returns the revision history matching the options, newest first.
func (c *Client) Log(opts LogOpts) ([]objects.Revision, error) {
	a := command("log").
		opt("--template", objects.LogTemplate).
		repeat("--rev", opts.Revs).
		flag("--follow", opts.Follow).
		flag("--no-merges", opts.NoMerges).
		opt("--date", opts.Date).
		opt("--user", opts.User).
		opt("--keyword", opts.Keyword).
		opt("--branch", opts.Branch).
		optInt("--limit", opts.Limit).
		add(opts.Files...)
	res, _, err := c.run(a.build())
	if err != nil {
		return nil, err
	}
	return objects.ParseRevisions(res.Stdout)
}

// Tip returns the most recently changed head.
func (c *Client) Tip() (*objects.Revision, error) {
	res, _, err := c.run(command("tip").opt("--template", objects.LogTemplate).build())
	if err != nil {
		return nil, err
	}
	revs, err := objects.ParseRevisions(res.Stdout)
	if err != nil {
		return nil, err
	}
	if len(revs) != 1 {
		return nil, fmt.Errorf("tip returned %d revisions, want 1", len(revs))
	}
	return &revs[0], nil
}

// Parents returns the working copy's parent changesets, or the parents
// of rev when given.
func (c *Client) Parents(rev, file string) ([]objects.Revision, error) {
	a := command("parents").
		opt("--template", objects.LogTemplate).
		opt("--rev", rev)
	if file != "" {
		a.add(file)
	}
	res, _, err := c.run(a.build())
	if err != nil {
		return nil, err
	}
	return objects.ParseRevisions(res.Stdout)
}

// Manifest lists the files tracked at a revision, or at the working
// copy parent when rev is empty.
func (c *Client) Manifest(rev string) ([]objects.ManifestEntry, error) {
	res, _, err := c.run(command("manifest").add("--debug").opt("--rev", rev).build())
	if err != nil {
		return nil, err
	}
	return objects.ParseManifest(res.Stdout)
}

// ManifestAll lists every file tracked in any revision.
func (c *Client) ManifestAll() ([]string, error) {
	res, _, err := c.run(command("manifest").add("--all").build())
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(strings.TrimRight(res.Stdout, "\n"), "\n") {
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// Merge merges the given revision, or the other head, into the working
// copy. Conflicting files are left unresolved; Merge reports whether
// the merge completed without conflicts.
func (c *Client) Merge(rev string) (bool, error) {
	// -y answers any interactive prompt conservatively.
	a := command("merge").add("-y").opt("--rev", rev)
	_, ok, err := c.run(a.build(), 1)
	return ok, err
}

// Move renames source to dest, tracking the rename. Reports whether
// the move succeeded for every file.
func (c *Client) Move(source, dest string, after, force bool) (bool, error) {
	if source == "" || dest == "" {
		return false, ErrNoFiles
	}
	a := command("move").
		flag("--after", after).
		flag("--force", force).
		add(source, dest)
	_, ok, err := c.run(a.build(), 1)
	return ok, err
}

// Paths returns the repository's configured path aliases.
func (c *Client) Paths() (map[string]string, error) {
	res, _, err := c.run(command("paths").build())
	if err != nil {
		return nil, err
	}
	return objects.ParseKeyValues(res.Stdout, "="), nil
}

// PullOpts configures Pull.
type PullOpts struct {
	Update    bool
	Force     bool
	Revs      []string
	Branches  []string
	Bookmarks []string
}

// Pull fetches changes from the peer at source, or the default path
// when source is empty. Reports whether a requested working copy
// update completed without unresolved files.
func (c *Client) Pull(source string, opts PullOpts) (bool, error) {
	a := command("pull").
		flag("--update", opts.Update).
		flag("--force", opts.Force).
		repeat("--rev", opts.Revs).
		repeat("--branch", opts.Branches).
		repeat("--bookmark", opts.Bookmarks)
	if source != "" {
		a.add(source)
	}
	_, ok, err := c.run(a.build(), 1)
	return ok, err
}

// PushOpts configures Push.
type PushOpts struct {
	Force     bool
	NewBranch bool
	Revs      []string
	Branches  []string
	Bookmarks []string
}

// Push publishes changes to the peer at dest, or the default path when
// dest is empty. Reports whether anything was pushed; a peer that is
// already up to date yields false, not an error.
func (c *Client) Push(dest string, opts PushOpts) (bool, error) {
	a := command("push").
		flag("--force", opts.Force).
		flag("--new-branch", opts.NewBranch).
		repeat("--rev", opts.Revs).
		repeat("--branch", opts.Branches).
		repeat("--bookmark", opts.Bookmarks)
	if dest != "" {
		a.add(dest)
	}
	_, ok, err := c.run(a.build(), 1)
	return ok, err
}

// Remove schedules files for removal. Reports whether every file was
// removed successfully.
func (c *Client) Remove(files ...string) (bool, error) {
	if len(files) == 0 {
		return false, ErrNoFiles
	}
	_, ok, err := c.run(command("remove").add(files...).build(), 1)
	return ok, err
}

// ResolveOpts configures Resolve.
type ResolveOpts struct {
	Files  []string
	All    bool
	Mark   bool
	Unmark bool
}

// Resolve retries or marks merge conflicts on the given files.
func (c *Client) Resolve(opts ResolveOpts) error {
	a := command("resolve").
		flag("--all", opts.All).
		flag("--mark", opts.Mark).
		flag("--unmark", opts.Unmark).
		add(opts.Files...)
	_, _, err := c.run(a.build())
	return err
}

// ResolveList returns the resolution state of files in a pending
// merge.
func (c *Client) ResolveList() ([]objects.ResolveEntry, error) {
	res, _, err := c.run(command("resolve").add("--list").build())
	if err != nil {
		return nil, err
	}
	return objects.ParseResolveList(res.Stdout)
}

// RevertOpts configures Revert.
type RevertOpts struct {
	Files    []string
	Rev      string
	All      bool
	NoBackup bool
}

// Revert restores files to their checked-out state. Reports whether
// every file was reverted.
func (c *Client) Revert(opts RevertOpts) (bool, error) {
	if len(opts.Files) == 0 && !opts.All {
		return false, ErrNoFiles
	}
	a := command("revert").
		opt("--rev", opts.Rev).
		flag("--all", opts.All).
		flag("--no-backup", opts.NoBackup).
		add(opts.Files...)
	_, ok, err := c.run(a.build(), 1)
	return ok, err
}

// StatusOpts configures Status.
type StatusOpts struct {
	All      bool
	Modified bool
	Added    bool
	Removed  bool
	Deleted  bool
	Clean    bool
	Unknown  bool
	Ignored  bool
	Copies   bool
	Revs     []string
	Change   string
}

// Status returns the state of working copy files. Entries are
// requested NUL-terminated so paths with unusual characters survive.
func (c *Client) Status(opts StatusOpts) ([]objects.StatusEntry, error) {
	a := command("status").
		add("-0").
		flag("--all", opts.All).
		flag("--modified", opts.Modified).
		flag("--added", opts.Added).
		flag("--removed", opts.Removed).
		flag("--deleted", opts.Deleted).
		flag("--clean", opts.Clean).
		flag("--unknown", opts.Unknown).
		flag("--ignored", opts.Ignored).
		flag("--copies", opts.Copies).
		repeat("--rev", opts.Revs).
		opt("--change", opts.Change)
	res, _, err := c.run(a.build())
	if err != nil {
		return nil, err
	}
	return objects.ParseStatus(res.Stdout)
}

// TagOpts configures Tag.
type TagOpts struct {
	Rev     string
	Message string
	User    string
	Date    string
	Local   bool
	Force   bool
	Remove  bool
}

// Tag names a revision.
func (c *Client) Tag(name string, opts TagOpts) error {
	if name == "" {
		return errors.New("no tag name")
	}
	a := command("tag").
		opt("--rev", opts.Rev).
		opt("--message", opts.Message).
		opt("--user", opts.User).
		opt("--date", opts.Date).
		flag("--local", opts.Local).
		flag("--force", opts.Force).
		flag("--remove", opts.Remove).
		add(name)
	_, _, err := c.run(a.build())
	return err
}

// Tags lists the repository's tags. Verbose output is requested so
// local tags are distinguishable.
func (c *Client) Tags() ([]objects.Tag, error) {
	res, _, err := c.run(command("tags").add("--verbose").build())
	if err != nil {
		return nil, err
	}
	return objects.ParseTags(res.Stdout)
}

// UpdateResult is the file summary reported by update.
type UpdateResult struct {
	Updated    int
	Merged     int
	Removed    int
	Unresolved int
}

// updateRE matches update's closing summary line.
var updateRE = regexp.MustCompile(`(\d+) files updated, (\d+) files merged, (\d+) files removed, (\d+) files unresolved`)

// UpdateOpts configures Update.
type UpdateOpts struct {
	Rev   string
	Clean bool
	Check bool
}

// Update checks out the given revision, or the tip of the current
// branch when rev is empty. Unresolved files are reported in the
// result, not as an error.
func (c *Client) Update(opts UpdateOpts) (*UpdateResult, error) {
	if opts.Clean && opts.Check {
		return nil, errors.New("clean and check are mutually exclusive")
	}
	a := command("update").
		opt("--rev", opts.Rev).
		flag("--clean", opts.Clean).
		flag("--check", opts.Check)
	res, _, err := c.run(a.build(), 1)
	if err != nil {
		return nil, err
	}

	m := updateRE.FindStringSubmatch(res.Stdout)
	if m == nil {
		return nil, fmt.Errorf("update output missing summary line: %q", res.Stdout)
	}
	out := &UpdateResult{}
	for i, dst := range []*int{&out.Updated, &out.Merged, &out.Removed, &out.Unresolved} {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return nil, fmt.Errorf("parse update summary %q: %w", m[0], err)
		}
		*dst = n
	}
	return out, nil
}
