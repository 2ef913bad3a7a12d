package clientconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"mcpgate/pkg/logging"

	"k8s.io/utils/clock"
)

const maxBackupAttempts = 1000

// Entry is the server entry written under the well-known key.
type Entry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
}

// Outcome describes what Install or Uninstall did.
type Outcome struct {
	ConfigPath string `json:"configPath"`
	ScriptPath string `json:"scriptPath,omitempty"`
	// BackupPath is empty when there was no file to back up.
	BackupPath string `json:"backupPath,omitempty"`
	// Changed is false when the file already had the desired shape.
	Changed bool `json:"changed"`
}

// Writer mutates client configuration files.
type Writer struct {
	// Key is the mcpServers entry owned by the writer.
	Key string
	// Runtime is the command that runs the connector script.
	Runtime string
	// Clock stamps backup names.
	Clock clock.PassiveClock
}

// NewWriter returns a Writer for key and runtime, using the defaults for
// empty values.
func NewWriter(key, runtime string) *Writer {
	if key == "" {
		key = DefaultKey
	}
	if runtime == "" {
		runtime = DefaultRuntime
	}
	return &Writer{Key: key, Runtime: runtime, Clock: clock.RealClock{}}
}

func (w *Writer) clock() clock.PassiveClock {
	if w.Clock == nil {
		return clock.RealClock{}
	}
	return w.Clock
}

// EntryFor returns the entry Install writes for conn.
func (w *Writer) EntryFor(profile Profile, conn Connection) Entry {
	return Entry{
		Command: w.Runtime,
		Args:    []string{profile.ScriptPath},
		Env: map[string]string{
			EnvBridgeURL:   conn.URL,
			EnvBridgeToken: conn.Token,
		},
	}
}

// Install adds the bridge entry to the profile's configuration. An entry
// already present under the key is left untouched and nothing is written.
func (w *Writer) Install(profile Profile, conn Connection) (Outcome, error) {
	out := Outcome{ConfigPath: profile.ConfigPath, ScriptPath: profile.ScriptPath}

	backup, data, err := w.backupAndRead(profile.ConfigPath)
	out.BackupPath = backup
	if err != nil {
		return out, err
	}

	doc, err := parseDocument(data)
	if err != nil {
		logging.Warn("ClientConfig", "Ignoring unparseable client config %s: %v", profile.ConfigPath, err)
		doc = newObject()
	}

	servers, err := serversOf(doc)
	if err != nil {
		return out, &MergeError{Path: profile.ConfigPath, Op: "parse", Err: err}
	}
	if servers.has(w.Key) {
		logging.Info("ClientConfig", "Entry %q already present in %s, leaving it untouched", w.Key, profile.ConfigPath)
		return out, nil
	}

	script, err := RenderConnector(w.Key)
	if err != nil {
		return out, &MergeError{Path: profile.ScriptPath, Op: "script", Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(profile.ScriptPath), 0o755); err != nil {
		return out, &MergeError{Path: profile.ScriptPath, Op: "script", Err: err}
	}
	if err := atomicWrite(profile.ScriptPath, script, 0o755); err != nil {
		return out, &MergeError{Path: profile.ScriptPath, Op: "script", Err: err}
	}

	entry, err := json.Marshal(w.EntryFor(profile, conn))
	if err != nil {
		return out, &MergeError{Path: profile.ConfigPath, Op: "encode", Err: err}
	}
	servers.set(w.Key, entry)

	if err := w.writeDocument(profile.ConfigPath, doc, servers); err != nil {
		return out, err
	}
	out.Changed = true

	logging.Audit(logging.AuditEvent{
		Action:  "client_config_install",
		Outcome: "success",
		Target:  profile.ConfigPath,
	})
	return out, nil
}

// Uninstall removes the bridge entry and the connector script. Other
// entries are preserved. A missing file or entry is not an error.
func (w *Writer) Uninstall(profile Profile) (Outcome, error) {
	out := Outcome{ConfigPath: profile.ConfigPath}

	if _, err := os.Stat(profile.ConfigPath); errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}

	backup, data, err := w.backupAndRead(profile.ConfigPath)
	out.BackupPath = backup
	if err != nil {
		return out, err
	}

	doc, err := parseDocument(data)
	if err != nil {
		return out, &MergeError{Path: profile.ConfigPath, Op: "parse", Err: err}
	}
	servers, err := serversOf(doc)
	if err != nil {
		return out, &MergeError{Path: profile.ConfigPath, Op: "parse", Err: err}
	}
	if !servers.remove(w.Key) {
		return out, nil
	}

	if err := w.writeDocument(profile.ConfigPath, doc, servers); err != nil {
		return out, err
	}
	out.Changed = true

	if err := os.Remove(profile.ScriptPath); err == nil {
		out.ScriptPath = profile.ScriptPath
	} else if !errors.Is(err, fs.ErrNotExist) {
		logging.Warn("ClientConfig", "Failed to remove connector script %s: %v", profile.ScriptPath, err)
	}

	logging.Audit(logging.AuditEvent{
		Action:  "client_config_uninstall",
		Outcome: "success",
		Target:  profile.ConfigPath,
	})
	return out, nil
}

// HasEntry reports whether the configuration at path has the bridge entry.
func (w *Writer) HasEntry(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	doc, err := parseDocument(data)
	if err != nil {
		return false, err
	}
	servers, err := serversOf(doc)
	if err != nil {
		return false, err
	}
	return servers.has(w.Key), nil
}

// Backup copies path to path.backup.<epoch-millis> and returns the copy's
// path, or "" when path does not exist.
func (w *Writer) Backup(path string) (string, error) {
	src, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", err
	}

	// Two backups within the same millisecond take the next free stamp.
	stamp := w.clock().Now().UnixMilli()
	var (
		backupPath string
		dst        *os.File
	)
	for attempt := int64(0); attempt < maxBackupAttempts; attempt++ {
		backupPath = fmt.Sprintf("%s.backup.%d", path, stamp+attempt)
		dst, err = os.OpenFile(backupPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
		if !errors.Is(err, fs.ErrExist) {
			break
		}
	}
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(backupPath)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(backupPath)
		return "", err
	}
	return backupPath, nil
}

func (w *Writer) backupAndRead(path string) (string, []byte, error) {
	backup, err := w.Backup(path)
	if err != nil {
		return "", nil, &MergeError{Path: path, Op: "backup", Err: err}
	}
	if backup != "" {
		logging.Info("ClientConfig", "Backed up %s to %s", path, backup)
	}

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return backup, nil, &MergeError{Path: path, Op: "read", Err: err}
	}
	return backup, data, nil
}

func (w *Writer) writeDocument(path string, doc, servers *object) error {
	serversRaw, err := json.Marshal(servers)
	if err != nil {
		return &MergeError{Path: path, Op: "encode", Err: err}
	}
	doc.set(ServersKey, serversRaw)

	data, err := encodeDocument(doc)
	if err != nil {
		return &MergeError{Path: path, Op: "encode", Err: err}
	}

	mode := fs.FileMode(0o600)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &MergeError{Path: path, Op: "write", Err: err}
	}
	if err := atomicWrite(path, data, mode); err != nil {
		return &MergeError{Path: path, Op: "write", Err: err}
	}
	return nil
}

// atomicWrite replaces path with data via a synced temporary file in the
// same directory.
func atomicWrite(path string, data []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temporary file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("setting permissions on temporary file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temporary file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming into place: %w", err)
	}

	if parent, err := os.Open(dir); err == nil {
		_ = parent.Sync()
		parent.Close()
	}
	return nil
}
