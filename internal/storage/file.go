package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"notifyd/internal/notify"
	logx "notifyd/pkg/logx"
)

// fileStore is a dependency-free persistence backend layered on the memory
// core.
//
// Files:
//   - <prefix>.channels.json / .templates.json / .rules.json / .preferences.json
//     (full snapshot per collection, rewritten on mutation)
//   - <prefix>.logs.journal.jsonl (append-only journal of log upserts)
//   - <prefix>.logs.snapshot.json (periodic compaction of the journal)
//
// Collections are small and change rarely; the notification log is the hot
// path and only ever appends a line per attempt/transition.
type fileStore struct {
	*memStore

	log logx.Logger

	prefix string

	journalFile *os.File
	logWrites   int
}

const logCompactEvery = 1000

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	mem := newMemStore()
	fs := &fileStore{memStore: mem, log: log, prefix: prefix}

	// Load collection snapshots (absent files are fine on first run).
	_ = loadSnapshot(prefix+".channels.json", &mem.channels)
	_ = loadSnapshot(prefix+".templates.json", &mem.templates)
	_ = loadSnapshot(prefix+".rules.json", &mem.rules)
	_ = loadSnapshot(prefix+".preferences.json", &mem.prefs)

	// Logs: snapshot + journal replay.
	_ = loadSnapshot(prefix+".logs.snapshot.json", &mem.logs)
	if err := replayLogJournal(prefix+".logs.journal.jsonl", mem.logs); err != nil {
		log.Warn("log journal replay failed; continuing with snapshot only", logx.Err(err))
	}
	for id := range mem.logs {
		mem.logOrder = append(mem.logOrder, id)
	}

	jf, err := os.OpenFile(prefix+".logs.journal.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	fs.journalFile = jf

	// Persist write-through; invoked with the memory lock held so snapshots
	// are consistent with the mutation that triggered them.
	mem.onMutate = fs.persist
	return fs, nil
}

func (fs *fileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.journalFile != nil {
		err := fs.journalFile.Close()
		fs.journalFile = nil
		return err
	}
	return nil
}

func (fs *fileStore) persist(collection string, doc any) {
	switch collection {
	case "channels":
		fs.writeSnapshot(fs.prefix+".channels.json", fs.channels)
	case "templates":
		fs.writeSnapshot(fs.prefix+".templates.json", fs.templates)
	case "rules":
		fs.writeSnapshot(fs.prefix+".rules.json", fs.rules)
	case "preferences":
		fs.writeSnapshot(fs.prefix+".preferences.json", fs.prefs)
	case "logs":
		l, _ := doc.(*notify.NotificationLog)
		fs.appendLogJournal(l)
	}
}

func (fs *fileStore) writeSnapshot(path string, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fs.log.Warn("snapshot marshal failed", logx.String("path", path), logx.Err(err))
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		fs.log.Warn("snapshot write failed", logx.String("path", path), logx.Err(err))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		fs.log.Warn("snapshot rename failed", logx.String("path", path), logx.Err(err))
	}
}

func (fs *fileStore) appendLogJournal(l *notify.NotificationLog) {
	if l == nil || fs.journalFile == nil {
		return
	}
	enc := json.NewEncoder(fs.journalFile)
	if err := enc.Encode(l); err != nil {
		fs.log.Warn("log journal append failed", logx.Err(err))
		return
	}
	fs.logWrites++
	if fs.logWrites%logCompactEvery == 0 {
		fs.compactLogsLocked()
	}
}

// compactLogsLocked folds the journal into the snapshot and truncates it.
// Caller holds the memory write lock.
func (fs *fileStore) compactLogsLocked() {
	fs.writeSnapshot(fs.prefix+".logs.snapshot.json", fs.logs)
	if err := fs.journalFile.Truncate(0); err != nil {
		fs.log.Warn("log journal truncate failed", logx.Err(err))
		return
	}
	if _, err := fs.journalFile.Seek(0, 0); err != nil {
		fs.log.Warn("log journal seek failed", logx.Err(err))
	}
}

func loadSnapshot[T any](path string, into *map[string]T) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(b, into)
}

func replayLogJournal(path string, into map[string]*notify.NotificationLog) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var l notify.NotificationLog
		if err := json.Unmarshal([]byte(line), &l); err != nil {
			// A torn final line after a crash is expected; skip it.
			continue
		}
		cp := l
		into[l.ID] = &cp
	}
	return sc.Err()
}
