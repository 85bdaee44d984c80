// Package sshcfg merges manifest host aliases into an SSH client config
// file without disturbing what is already there. The merge is deliberately
// conservative: existing blocks are preserved byte-for-byte, stale entries
// are never removed or edited, and only missing aliases are appended.
// Mutations follow a backup-then-atomic-replace discipline.
package sshcfg

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/atomikpanda/provisr/internal/manifest"
)

// Document is the on-disk SSH config plus the aliases parsed out of it.
type Document struct {
	raw      []byte
	appended []manifest.Host
	existed  bool // file was present on disk when loaded
}

// Load reads the config at path, or returns an empty document when the file
// does not exist.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ssh config %s: %w", path, err)
	}
	return &Document{raw: data, existed: true}, nil
}

// HasAlias reports whether a `Host <alias>` line for alias exists, matching
// whitespace-tolerantly and honouring multi-alias Host lines.
func (d *Document) HasAlias(alias string) bool {
	for _, line := range strings.Split(string(d.raw), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.EqualFold(fields[0], "Host") {
			continue
		}
		for _, a := range fields[1:] {
			if a == alias {
				return true
			}
		}
	}
	return false
}

// Append queues a host block for the merged document. The caller is
// expected to have checked HasAlias first; Append does not deduplicate.
func (d *Document) Append(h manifest.Host) {
	d.appended = append(d.appended, h)
}

// Changed reports whether Write would modify the on-disk file.
func (d *Document) Changed() bool {
	return len(d.appended) > 0
}

// NonEmpty reports whether the loaded file had content worth backing up.
func (d *Document) NonEmpty() bool {
	return d.existed && len(d.raw) > 0
}

// Bytes renders the merged document: the original content verbatim,
// followed by the appended blocks in append order.
func (d *Document) Bytes() []byte {
	var b strings.Builder
	b.Write(d.raw)
	for _, h := range d.appended {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteString("\n")
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(renderHost(h))
	}
	return []byte(b.String())
}

func renderHost(h manifest.Host) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Host %s\n", h.Alias)
	fmt.Fprintf(&b, "    HostName %s\n", h.Hostname)
	if h.User != "" {
		fmt.Fprintf(&b, "    User %s\n", h.User)
	}
	if h.IdentityFile != "" {
		fmt.Fprintf(&b, "    IdentityFile %s\n", h.IdentityFile)
	}
	b.WriteString("    IdentitiesOnly yes\n")
	return b.String()
}

// Backup copies the current on-disk file at path to a timestamped sibling
// and returns the backup path. The name is made collision-proof with a
// numeric suffix when a backup from the same second already exists.
func Backup(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read for backup: %w", err)
	}
	base := fmt.Sprintf("%s.backup.%s", path, time.Now().UTC().Format("20060102-150405"))
	backup := base
	for n := 1; ; n++ {
		if _, err := os.Stat(backup); os.IsNotExist(err) {
			break
		}
		backup = fmt.Sprintf("%s.%d", base, n)
	}
	if err := os.WriteFile(backup, data, 0o600); err != nil {
		return "", fmt.Errorf("write backup %s: %w", backup, err)
	}
	return backup, nil
}

// Write replaces the file at path with the merged document atomically:
// the content goes to a temp file in the same directory, gets owner-only
// permissions, and is renamed over the destination.
func (d *Document) Write(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create ssh directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if _, err := tmp.Write(d.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace ssh config: %w", err)
	}
	return nil
}
