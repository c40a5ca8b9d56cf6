package backup

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"fleetguard/internal/models"
)

type Group struct {
	Kind   string                `json:"kind"`
	Count  int                   `json:"count"`
	Bytes  int64                 `json:"bytes"`
	Recent []models.BackupRecord `json:"recent"`
}

type Catalog struct {
	Dir        string  `json:"dir"`
	TotalFiles int     `json:"total_files"`
	TotalBytes int64   `json:"total_bytes"`
	Groups     []Group `json:"groups"`
}

var groupOrder = []string{"mysql", "mongo", "volume", "other"}

// ListBackups scans the backup directory and reports the newest top files of
// each kind. top <= 0 uses DefaultListTop.
func (o *Orchestrator) ListBackups(top int) (Catalog, error) {
	if top <= 0 {
		top = DefaultListTop
	}
	records, err := Scan(o.opts.Dir)
	if err != nil {
		return Catalog{}, err
	}
	cat := Catalog{Dir: o.opts.Dir, TotalFiles: len(records)}
	byKind := map[string]*Group{}
	for _, r := range records {
		cat.TotalBytes += r.Size
		g, ok := byKind[r.Kind]
		if !ok {
			g = &Group{Kind: r.Kind}
			byKind[r.Kind] = g
		}
		g.Count++
		g.Bytes += r.Size
		if len(g.Recent) < top {
			g.Recent = append(g.Recent, r)
		}
	}
	for _, k := range groupOrder {
		if g, ok := byKind[k]; ok {
			cat.Groups = append(cat.Groups, *g)
		}
	}
	return cat, nil
}

// Scan lists backup files in dir, newest first. In-progress temp files and
// subdirectories are skipped; a missing directory is created.
func Scan(dir string) ([]models.BackupRecord, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, os.MkdirAll(dir, 0o755)
	}
	if err != nil {
		return nil, err
	}
	out := make([]models.BackupRecord, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, models.BackupRecord{
			File:     e.Name(),
			Path:     filepath.Join(dir, e.Name()),
			Kind:     KindOf(e.Name()),
			Size:     info.Size(),
			Modified: info.ModTime().UTC(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Modified.After(out[j].Modified) })
	return out, nil
}
