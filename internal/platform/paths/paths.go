package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const DefaultDataRoot = "/data"

// Storage subdirectories under the data root.
const (
	InboxDir     = "inbox"
	FilteredDir  = "filtered"
	RejectedDir  = "rejected"
	ChatQueueDir = "telegram-queue"
	DeadDir      = "dead"
	MailSpoolDir = "mail-spool"
)

// Prefixes of in-progress writes. Files carrying them are not events yet.
const (
	IngestTempPrefix = ".ingest-"
	TempPrefix       = ".tmp-"
)

// IsTempName reports whether name is an in-progress write.
func IsTempName(name string) bool {
	return strings.HasPrefix(name, IngestTempPrefix) || strings.HasPrefix(name, TempPrefix)
}

// Layout is the resolved on-disk storage layout.
type Layout struct {
	Root      string
	Inbox     string
	Filtered  string
	Rejected  string
	ChatQueue string
	DeadQueue string
	MailSpool string
}

// ResolveDataRoot returns root, or the default data root when root is empty.
func ResolveDataRoot(root string) string {
	if root == "" {
		return DefaultDataRoot
	}
	return root
}

// NewLayout derives every storage directory from the data root.
// spoolDir overrides the mail spool location when set.
func NewLayout(root, spoolDir string) Layout {
	root = ResolveDataRoot(root)
	if spoolDir == "" {
		spoolDir = filepath.Join(root, MailSpoolDir)
	}
	queue := filepath.Join(root, ChatQueueDir)
	return Layout{
		Root:      root,
		Inbox:     filepath.Join(root, InboxDir),
		Filtered:  filepath.Join(root, FilteredDir),
		Rejected:  filepath.Join(root, RejectedDir),
		ChatQueue: queue,
		DeadQueue: filepath.Join(queue, DeadDir),
		MailSpool: spoolDir,
	}
}

// EnsureDirs creates the storage directories if they don't exist.
func (l Layout) EnsureDirs() error {
	for _, dir := range []string{l.Inbox, l.Filtered, l.Rejected, l.ChatQueue, l.DeadQueue, l.MailSpool} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// SafeJoin joins path elements and ensures the result is within the base directory (no traversal).
func SafeJoin(base string, elements ...string) (string, error) {
	for _, el := range elements {
		if filepath.IsAbs(el) || strings.HasPrefix(el, `\\`) {
			return "", fmt.Errorf("path traversal attempt detected: absolute path not allowed in elements: %s", el)
		}
	}
	joined := filepath.Join(append([]string{base}, elements...)...)

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}

	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}

	if absJoined != absBase && !strings.HasPrefix(absJoined, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt detected: %s is outside %s", absJoined, absBase)
	}

	return absJoined, nil
}

// UniquePath returns dir/name, or dir/<stem>-<n><ext> for the first n that
// does not exist yet.
func UniquePath(dir, name string) (string, error) {
	return UniquePathFunc(dir, name, nil)
}

// UniquePathFunc is UniquePath that also skips candidates for which taken
// reports true. Callers use it to exclude names already promised to
// concurrent writers.
func UniquePathFunc(dir, name string, taken func(path string) bool) (string, error) {
	candidate, err := SafeJoin(dir, name)
	if err != nil {
		return "", err
	}
	free := func(p string) bool {
		if taken != nil && taken(p) {
			return false
		}
		_, err := os.Stat(p)
		return os.IsNotExist(err)
	}
	if free(candidate) {
		return candidate, nil
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; n < 10000; n++ {
		candidate = filepath.Join(filepath.Dir(candidate), fmt.Sprintf("%s-%d%s", stem, n, ext))
		if free(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free name for %s in %s", name, dir)
}
