package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// persistedDoc is the on-disk shape: persisted fields only, runtime fields
// excluded via json:"-" tags on the live types themselves.
type persistedDoc struct {
	Settings  Settings    `json:"settings"`
	Restreams []*Restream `json:"restreams"`
	Clients   []*Client   `json:"clients"`
}

// Persister rewrites the store's persisted snapshot to a single JSON
// document at Path, atomically, on every change to restreams, settings or
// clients. The write discipline (temp file in the same directory, Sync,
// Chmod, rename over the destination) mirrors the teacher's YAML config
// Save, adapted to JSON.
type Persister struct {
	Path string
	log  *slog.Logger
}

// NewPersister creates a Persister writing to path.
func NewPersister(path string, log *slog.Logger) *Persister {
	if log == nil {
		log = slog.Default()
	}
	return &Persister{Path: path, log: log}
}

// Load reads and validates the persisted snapshot at p.Path into st. If the
// file is absent or empty, st is left at its zero/default value. A present
// but invalid file is a fatal startup error, per the error-handling design.
func (p *Persister) Load(st *Store) error {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read state file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var doc persistedDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse state file: %w", err)
	}
	if err := validateLoadedRestreams(doc.Restreams); err != nil {
		return fmt.Errorf("invalid state file: %w", err)
	}

	st.Settings.Update(func(s *Settings) { *s = doc.Settings })
	st.Restreams.Update(func(list *[]*Restream) { *list = doc.Restreams })
	st.Clients.Update(func(list *[]*Client) { *list = doc.Clients })
	return nil
}

func validateLoadedRestreams(restreams []*Restream) error {
	seenKeys := make(map[string]struct{}, len(restreams))
	for _, r := range restreams {
		if !ValidKey(r.Key) {
			return fmt.Errorf("%w: restream key %q", ErrInvalidShape, r.Key)
		}
		if _, dup := seenKeys[r.Key]; dup {
			return fmt.Errorf("%w: restream key %q", ErrDuplicateKey, r.Key)
		}
		seenKeys[r.Key] = struct{}{}

		seenDst := make(map[string]struct{}, len(r.Outputs))
		for _, o := range r.Outputs {
			if _, dup := seenDst[o.Dst]; dup {
				return fmt.Errorf("%w: output dst %q", ErrDuplicateOutputURL, o.Dst)
			}
			seenDst[o.Dst] = struct{}{}
			if o.Volume.Level > VolumeMax {
				return fmt.Errorf("%w: output volume out of range", ErrInvalidShape)
			}
			if err := ValidateOutputMixins(o.Mixins); err != nil {
				return err
			}
		}
	}
	return nil
}

// Save serializes st's persisted fields and rewrites p.Path atomically.
func (p *Persister) Save(st *Store) error {
	doc := persistedDoc{
		Settings:  st.Settings.Snapshot(),
		Restreams: st.Restreams.Snapshot(),
		Clients:   st.Clients.Snapshot(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return atomicWrite(p.Path, data)
}

// atomicWrite writes data to path via a temp file in the same directory,
// syncing and chmod-ing before the rename, so a reader never observes a
// partially written document.
func atomicWrite(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, werr := tmp.Write(data); werr != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", werr)
	}
	if serr := tmp.Sync(); serr != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", serr)
	}
	if cerr := tmp.Chmod(0o640); cerr != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", cerr)
	}
	if cerr := tmp.Close(); cerr != nil {
		return fmt.Errorf("close temp file: %w", cerr)
	}
	if rerr := os.Rename(tmpPath, path); rerr != nil {
		return fmt.Errorf("rename temp file: %w", rerr)
	}
	success = true
	return nil
}

// WatchAndPersist subscribes to settings, restreams and clients and writes a
// fresh snapshot on every change. It blocks until stop is closed; run it in
// its own goroutine (it is itself wired as a suture.Service by the caller).
func (p *Persister) WatchAndPersist(st *Store, stop <-chan struct{}) {
	settingsCh, cancelSettings := st.Settings.Subscribe()
	defer cancelSettings()
	restreamsCh, cancelRestreams := st.Restreams.Subscribe()
	defer cancelRestreams()
	clientsCh, cancelClients := st.Clients.Subscribe()
	defer cancelClients()

	// Drain the initial seed values; the first real save happens on the
	// first subsequent change, matching "on each change" rather than
	// unconditionally at startup (the file was just loaded from, if present).
	<-settingsCh
	<-restreamsCh
	<-clientsCh

	for {
		select {
		case <-stop:
			return
		case <-settingsCh:
			p.saveLogged(st)
		case <-restreamsCh:
			p.saveLogged(st)
		case <-clientsCh:
			p.saveLogged(st)
		}
	}
}

func (p *Persister) saveLogged(st *Store) {
	if err := p.Save(st); err != nil {
		p.log.Error("persist state failed", "error", err, "path", p.Path)
	}
}
