// Package workflow moves signed envelopes through the outbox, inbox and
// verified directories.
//
// The signing side writes envelopes to the outbox. Transport (a removable
// drive, a QR code, or Transport for local testing) carries them to the inbox
// on the verifying side. Verify admits an inbox item at most once per sender
// nonce and relocates it to verified. A rejected item stays where it is.
package workflow

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"cosmossdk.io/log"

	"github.com/blockberries/airgap-wallet/ledger"
	"github.com/blockberries/airgap-wallet/signing"
	"github.com/blockberries/airgap-wallet/store"
	"github.com/blockberries/airgap-wallet/types"
)

// State is a position in the workflow.
type State string

const (
	StateSigned   State = "outbox"
	StatePending  State = "inbox"
	StateVerified State = "verified"
)

const (
	envelopeExtension = ".json"
	maxNameAttempts   = 1000
)

// Dirs holds the three workflow directories.
type Dirs struct {
	Outbox   string
	Inbox    string
	Verified string
}

// DirsUnder returns the default layout under dataDir.
func DirsUnder(dataDir string) Dirs {
	return Dirs{
		Outbox:   filepath.Join(dataDir, string(StateSigned)),
		Inbox:    filepath.Join(dataDir, string(StatePending)),
		Verified: filepath.Join(dataDir, string(StateVerified)),
	}
}

func (d Dirs) forState(s State) (string, error) {
	switch s {
	case StateSigned:
		return d.Outbox, nil
	case StatePending:
		return d.Inbox, nil
	case StateVerified:
		return d.Verified, nil
	}
	return "", fmt.Errorf("%w: unknown workflow state %q", types.ErrMalformedInput, s)
}

// FileInfo describes one envelope file.
type FileInfo struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Outcome is the result of verifying one inbox item.
type Outcome struct {
	Verdict  signing.Verdict
	Envelope *types.Envelope
	// Name of the file in verified; empty unless accepted.
	VerifiedName string
}

// Workflow drives envelopes between directories. Safe for concurrent use.
type Workflow struct {
	dirs    Dirs
	ledger  *ledger.Ledger
	metrics *Metrics
	logger  log.Logger
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(w *Workflow) { w.logger = logger }
}

// WithMetrics enables outcome counters.
func WithMetrics(m *Metrics) Option {
	return func(w *Workflow) { w.metrics = m }
}

// New creates a workflow over dirs, gated by l.
func New(dirs Dirs, l *ledger.Ledger, opts ...Option) (*Workflow, error) {
	if l == nil {
		return nil, fmt.Errorf("nonce ledger cannot be nil")
	}
	w := &Workflow{
		dirs:   dirs,
		ledger: l,
		logger: log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, dir := range []string{dirs.Outbox, dirs.Inbox, dirs.Verified} {
		if dir == "" {
			return nil, fmt.Errorf("workflow directory path is empty")
		}
	}
	return w, nil
}

// Dirs returns the directory layout.
func (w *Workflow) Dirs() Dirs {
	return w.dirs
}

// OutboxName returns the base file name for an envelope:
// "tx-" + timestamp with ':' and '.' replaced by '-' + ".json".
func OutboxName(env *types.Envelope) string {
	ts := strings.NewReplacer(":", "-", ".", "-").Replace(env.Tx.Timestamp)
	return "tx-" + ts + envelopeExtension
}

// WriteSigned stores env in the outbox and returns its file name. A name
// already in use gets a "-N" suffix; existing files are never overwritten.
func (w *Workflow) WriteSigned(env *types.Envelope) (string, error) {
	if env == nil {
		return "", fmt.Errorf("%w: empty envelope", types.ErrMalformedInput)
	}
	data, err := env.Marshal()
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrInternal, err)
	}
	name, err := writeNoClobber(w.dirs.Outbox, OutboxName(env), data)
	if err != nil {
		return "", fmt.Errorf("%w: failed to write outbox: %v", types.ErrInternal, err)
	}
	w.metrics.incSigned()
	w.logger.Info("envelope written", "file", name, "from", env.Tx.From, "nonce", env.Tx.Nonce)
	return name, nil
}

// Transport copies an outbox item into the inbox, standing in for the
// physical transfer between machines. The outbox copy is kept as the signer's
// record. Returns the inbox file name.
func (w *Workflow) Transport(filename string) (string, error) {
	if err := ValidateFilename(filename); err != nil {
		return "", err
	}
	data, err := readEnvelopeFile(filepath.Join(w.dirs.Outbox, filename))
	if err != nil {
		return "", err
	}
	name, err := writeNoClobber(w.dirs.Inbox, filename, data)
	if err != nil {
		return "", fmt.Errorf("%w: failed to write inbox: %v", types.ErrInternal, err)
	}
	w.logger.Info("envelope transported", "file", filename, "inbox", name)
	return name, nil
}

// Import copies an external envelope file into the inbox under its base
// name. Returns the inbox file name.
func (w *Workflow) Import(path string) (string, error) {
	name := filepath.Base(path)
	if err := ValidateFilename(name); err != nil {
		return "", err
	}
	data, err := readEnvelopeFile(path)
	if err != nil {
		return "", err
	}
	if _, err := types.ParseEnvelope(data); err != nil {
		return "", err
	}
	return writeNoClobber(w.dirs.Inbox, name, data)
}

// List returns the ".json" files in a state's directory, sorted by name.
// A missing directory lists as empty.
func (w *Workflow) List(state State) ([]FileInfo, error) {
	dir, err := w.dirs.forState(state)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []FileInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", types.ErrInternal, state, err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, envelopeExtension) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		files = append(files, FileInfo{
			Name:    name,
			Path:    filepath.Join(dir, name),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Verify checks an inbox item. On acceptance the sender's nonce is committed
// and persisted, then the file moves to verified. On rejection nothing
// changes and the verdict says why.
//
// The returned error is non-nil only when the item could not be processed
// (missing file, I/O failure); a rejection is a normal Outcome.
func (w *Workflow) Verify(filename string) (*Outcome, error) {
	if err := ValidateFilename(filename); err != nil {
		return nil, err
	}
	src := filepath.Join(w.dirs.Inbox, filename)
	data, err := readEnvelopeFile(src)
	if err != nil {
		return nil, err
	}

	out := &Outcome{}
	env, err := types.ParseEnvelope(data)
	if err != nil {
		out.Verdict = signing.Verdict{Reason: err, Kind: types.KindOf(err)}
		w.observe(filename, out)
		return out, nil
	}
	out.Envelope = env

	// The guard is keyed by the claimed sender. Acceptance implies the claim
	// matches the key, so the guard covers the nonce that gets committed.
	err = w.ledger.Guard(env.Tx.From, func(tx *ledger.Txn) error {
		out.Verdict = signing.Verify(env, tx)
		if !out.Verdict.Accepted {
			return nil
		}
		if err := tx.Commit(out.Verdict.Nonce); err != nil {
			if errors.Is(err, types.ErrReplayedNonce) {
				// Another process sharing the ledger got there first.
				out.Verdict.Accepted = false
				out.Verdict.Reason = err
				out.Verdict.Kind = types.KindReplayedNonce
				return nil
			}
			return err
		}
		name, err := moveNoClobber(src, w.dirs.Verified, filename)
		if err != nil {
			// The nonce is spent; a retry reports ReplayedNonce.
			return fmt.Errorf("%w: nonce committed but failed to move %s: %v", types.ErrInternal, filename, err)
		}
		out.VerifiedName = name
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.observe(filename, out)
	return out, nil
}

func (w *Workflow) observe(filename string, out *Outcome) {
	w.metrics.observeVerification(out.Verdict.Accepted, out.Verdict.Kind)
	if out.Verdict.Accepted {
		w.logger.Info("envelope verified", "file", filename,
			"from", out.Verdict.From, "nonce", out.Verdict.Nonce)
		return
	}
	w.logger.Info("envelope rejected", "file", filename,
		"kind", out.Verdict.Kind, "reason", out.Verdict.Detail())
}

// ValidateFilename accepts a bare ".json" name with no path components.
func ValidateFilename(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") ||
		strings.ContainsRune(name, 0) || filepath.Base(name) != name {
		return fmt.Errorf("%w: invalid file name %q", types.ErrMalformedInput, name)
	}
	if !strings.HasSuffix(name, envelopeExtension) {
		return fmt.Errorf("%w: %q is not a %s file", types.ErrMalformedInput, name, envelopeExtension)
	}
	return nil
}

func readEnvelopeFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInternal, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInternal, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", types.ErrMalformedInput, filepath.Base(path))
	}
	if info.Size() > types.MaxEnvelopeSize {
		return nil, fmt.Errorf("%w: %s is larger than %d bytes", types.ErrMalformedInput, filepath.Base(path), types.MaxEnvelopeSize)
	}

	data := make([]byte, info.Size())
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInternal, err)
	}
	return data, nil
}

// candidateName returns base for attempt 0 and base with "-N" before the
// extension after that.
func candidateName(base string, attempt int) string {
	if attempt == 0 {
		return base
	}
	stem := strings.TrimSuffix(base, envelopeExtension)
	return stem + "-" + strconv.Itoa(attempt) + envelopeExtension
}

// writeNoClobber writes data under a fresh name in dir. The content is
// staged in a temp file and hard-linked into place, so a reader never sees a
// partial file and an existing name is never replaced.
func writeNoClobber(dir, base string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, store.DirPermissions); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, ".staging-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Chmod(tmpName, store.FilePermissions); err != nil {
		return "", err
	}
	return linkNoClobber(tmpName, dir, base)
}

// moveNoClobber relocates src into dir without replacing an existing file.
func moveNoClobber(src, dir, base string) (string, error) {
	if err := os.MkdirAll(dir, store.DirPermissions); err != nil {
		return "", err
	}
	name, err := linkNoClobber(src, dir, base)
	if err != nil {
		return "", err
	}
	if err := os.Remove(src); err != nil {
		return "", err
	}
	return name, nil
}

func linkNoClobber(src, dir, base string) (string, error) {
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := candidateName(base, attempt)
		err := os.Link(src, filepath.Join(dir, name))
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("no free name for %s after %d attempts", base, maxNameAttempts)
}
