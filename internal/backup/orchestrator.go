// Package backup produces database dumps and volume archives, validates them
// and keeps a catalog of what is on disk.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-units"

	"fleetguard/internal/alerts"
	"fleetguard/internal/docker"
	"fleetguard/internal/models"
	"fleetguard/internal/telemetry"
)

var ErrInvalidArgument = errors.New("invalid argument")

const (
	DefaultMinDumpBytes = 100
	DefaultHelperImage  = "alpine:latest"
	DefaultListTop      = 5

	helperMount = "/volume"
	helperLabel = "fleetguard.role"
)

type Options struct {
	Dir            string
	Project        string
	HelperImage    string
	MinDumpBytes   int
	ArchiveTimeout time.Duration // 0 leaves the archive stream unbounded
	Plan           Plan
}

type Orchestrator struct {
	rt      docker.Runtime
	alerts  *alerts.Sink
	offsite Uploader
	log     *slog.Logger
	opts    Options
	now     func() time.Time
}

// NewOrchestrator builds an orchestrator. offsite may be nil.
func NewOrchestrator(rt docker.Runtime, sink *alerts.Sink, offsite Uploader, logger *slog.Logger, opts Options) *Orchestrator {
	if opts.HelperImage == "" {
		opts.HelperImage = DefaultHelperImage
	}
	if opts.MinDumpBytes <= 0 {
		opts.MinDumpBytes = DefaultMinDumpBytes
	}
	if opts.Dir == "" {
		opts.Dir = "./backups"
	}
	if len(opts.Plan.Databases) == 0 && len(opts.Plan.Volumes) == 0 {
		opts.Plan = DefaultPlan()
	}
	return &Orchestrator{rt: rt, alerts: sink, offsite: offsite, log: logger, opts: opts, now: time.Now}
}

func (o *Orchestrator) Dir() string { return o.opts.Dir }
func (o *Orchestrator) Plan() Plan  { return o.opts.Plan }

type Artifact struct {
	Kind       string        `json:"kind"`
	Target     string        `json:"target"`
	Container  string        `json:"container,omitempty"`
	File       string        `json:"file,omitempty"`
	Path       string        `json:"path,omitempty"`
	Size       int64         `json:"size"`
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	OffsiteKey string        `json:"offsite_key,omitempty"`
}

// BackupDatabase runs the engine's dump tool inside container and writes the
// output to the backup directory. Output below the minimum size or a non-zero
// exit code fails the backup even though the exec call itself succeeded.
func (o *Orchestrator) BackupDatabase(ctx context.Context, kind DatabaseKind, container, database string) (Artifact, error) {
	if kind != KindSQL && kind != KindDocument {
		return Artifact{}, fmt.Errorf("%w: unknown database kind %q", ErrInvalidArgument, kind)
	}
	if strings.TrimSpace(container) == "" {
		return Artifact{}, fmt.Errorf("%w: container is required", ErrInvalidArgument)
	}
	if !validName(database) {
		return Artifact{}, fmt.Errorf("%w: invalid database name %q", ErrInvalidArgument, database)
	}

	start := o.now()
	a := Artifact{Kind: kindLabel(kind), Target: database, Container: container}
	engine := engineName(kind)
	data, err := o.dump(ctx, kind, container, database)
	if err == nil {
		a.File = dumpFileName(kind, database, start)
		a.Path = filepath.Join(o.opts.Dir, a.File)
		a.Size, err = writeAtomic(a.Path, bytes.NewReader(data))
	}
	a.Duration = o.now().Sub(start)
	if err != nil {
		a.Error = err.Error()
		telemetry.BackupRuns.WithLabelValues(a.Kind, "failed").Inc()
		o.alerts.Critical(ctx, models.CategoryBackup, fmt.Sprintf("%s backup failed: %v", engine, err),
			alerts.WithContainer("", container), alerts.WithDetail("database", database))
		return a, nil
	}

	a.Success = true
	telemetry.BackupRuns.WithLabelValues(a.Kind, "ok").Inc()
	telemetry.BackupBytes.WithLabelValues(a.Kind).Add(float64(a.Size))
	o.alerts.Info(ctx, models.CategoryBackup,
		fmt.Sprintf("%s backup completed: %s (%s)", engine, a.File, units.HumanSize(float64(a.Size))),
		alerts.WithContainer("", container))
	o.upload(ctx, &a)
	return a, nil
}

func (o *Orchestrator) dump(ctx context.Context, kind DatabaseKind, container, database string) ([]byte, error) {
	res, err := o.rt.Exec(ctx, container, dumpCommand(kind, database))
	if err != nil {
		return nil, fmt.Errorf("exec dump: %w", err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("dump exited with code %d: %s", res.ExitCode, clip(string(res.Stderr), 200))
	}
	if len(res.Stdout) < o.opts.MinDumpBytes {
		return nil, fmt.Errorf("dump output too small (%d bytes) - likely failed", len(res.Stdout))
	}
	return res.Stdout, nil
}

func dumpCommand(kind DatabaseKind, database string) []string {
	if kind == KindDocument {
		return []string{"mongodump", "--db", database, "--archive"}
	}
	return []string{"sh", "-c", `mysqldump -u root -p"${MYSQL_ROOT_PASSWORD}" ` + database}
}

type VolumesReport struct {
	Requested  int           `json:"requested"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	TotalBytes int64         `json:"total_bytes"`
	Duration   time.Duration `json:"duration"`
	Items      []Artifact    `json:"items"`
	Message    string        `json:"message"`
}

// BackupVolumes archives the named volumes, or every volume of the compose
// project when names is empty. Each volume is read through a short-lived
// helper container with the volume mounted read-only.
func (o *Orchestrator) BackupVolumes(ctx context.Context, names []string) (VolumesReport, error) {
	start := o.now()
	var rep VolumesReport
	targets, missing, err := o.selectVolumes(ctx, names)
	if err != nil {
		o.alerts.Critical(ctx, models.CategoryBackup, fmt.Sprintf("Volumes backup failed: %v", err))
		return rep, err
	}
	rep.Requested = len(targets) + len(missing)
	if rep.Requested == 0 {
		rep.Message = "no volumes to back up"
		return rep, nil
	}
	for _, name := range missing {
		rep.Items = append(rep.Items, Artifact{Kind: "volume", Target: name, Error: "volume not found"})
		rep.Failed++
	}
	for _, name := range targets {
		a := o.backupVolume(ctx, name, start)
		rep.Items = append(rep.Items, a)
		if !a.Success {
			rep.Failed++
			telemetry.BackupRuns.WithLabelValues("volume", "failed").Inc()
			o.log.Warn("volume backup", "volume", name, "err", a.Error)
			continue
		}
		rep.Succeeded++
		rep.TotalBytes += a.Size
		telemetry.BackupRuns.WithLabelValues("volume", "ok").Inc()
		telemetry.BackupBytes.WithLabelValues("volume").Add(float64(a.Size))
		o.upload(ctx, &rep.Items[len(rep.Items)-1])
	}
	rep.Duration = o.now().Sub(start)

	size := units.HumanSize(float64(rep.TotalBytes))
	if rep.Failed == 0 {
		rep.Message = fmt.Sprintf("Volumes backup completed: %d volumes, %s in %.2fs", rep.Succeeded, size, rep.Duration.Seconds())
		o.alerts.Info(ctx, models.CategoryBackup, rep.Message)
		return rep, nil
	}
	var failed []string
	for _, a := range rep.Items {
		if !a.Success {
			failed = append(failed, a.Target)
		}
	}
	rep.Message = fmt.Sprintf("Volumes backup completed with failures: %d/%d volumes, %s in %.2fs",
		rep.Succeeded, rep.Requested, size, rep.Duration.Seconds())
	o.alerts.Critical(ctx, models.CategoryBackup, rep.Message, alerts.WithDetail("failed", strings.Join(failed, ", ")))
	return rep, nil
}

func (o *Orchestrator) selectVolumes(ctx context.Context, names []string) (targets, missing []string, err error) {
	vols, err := o.rt.ListVolumes(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(names) == 0 {
		for _, v := range vols {
			if v.Labels[models.LabelComposeProject] == o.opts.Project {
				targets = append(targets, v.Name)
			}
		}
		return targets, nil, nil
	}
	known := make(map[string]bool, len(vols))
	for _, v := range vols {
		known[v.Name] = true
	}
	for _, n := range names {
		if known[n] {
			targets = append(targets, n)
		} else {
			missing = append(missing, n)
		}
	}
	return targets, missing, nil
}

func (o *Orchestrator) backupVolume(ctx context.Context, name string, ts time.Time) (a Artifact) {
	a = Artifact{Kind: "volume", Target: name}
	begin := o.now()
	defer func() { a.Duration = o.now().Sub(begin) }()
	fail := func(step string, err error) Artifact {
		a.Error = fmt.Sprintf("%s: %v", step, err)
		return a
	}

	helper, err := o.rt.CreateHelper(ctx, docker.HelperSpec{
		Name:   fmt.Sprintf("fleetguard-backup-%s-%d", name, ts.UnixMilli()),
		Image:  o.opts.HelperImage,
		Cmd:    []string{"tail", "-f", "/dev/null"},
		Binds:  []string{name + ":" + helperMount + ":ro"},
		Labels: map[string]string{helperLabel: "backup-helper"},
	})
	if err != nil {
		return fail("create helper", err)
	}
	defer o.removeHelper(context.WithoutCancel(ctx), helper)
	if err := o.rt.StartContainer(ctx, helper); err != nil {
		return fail("start helper", err)
	}

	actx := ctx
	if o.opts.ArchiveTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, o.opts.ArchiveTimeout)
		defer cancel()
	}
	rc, err := o.rt.CopyFromContainer(actx, helper, helperMount)
	if err != nil {
		return fail("archive", err)
	}
	defer rc.Close()

	a.File = volumeFileName(name, ts)
	a.Path = filepath.Join(o.opts.Dir, a.File)
	n, err := writeAtomic(a.Path, rc)
	if err != nil {
		a.File, a.Path = "", ""
		return fail("write archive", err)
	}
	a.Size = n
	a.Success = true
	return a
}

func (o *Orchestrator) removeHelper(ctx context.Context, id string) {
	if err := o.rt.StopContainer(ctx, id, 1); err != nil {
		o.log.Debug("stop backup helper", "id", id, "err", err)
	}
	if err := o.rt.RemoveContainer(ctx, id, docker.RemoveOptions{Force: true}); err != nil {
		o.log.Warn("remove backup helper", "id", id, "err", err)
	}
}

type FullReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Databases []Artifact    `json:"databases"`
	Volumes   VolumesReport `json:"volumes"`
	Failures  int           `json:"failures"`
	Success   bool          `json:"success"`
}

// BackupAll runs every database target of the plan and then the volume
// backup, one after another.
func (o *Orchestrator) BackupAll(ctx context.Context) FullReport {
	start := o.now()
	rep := FullReport{StartedAt: start.UTC()}
	for _, t := range o.opts.Plan.Databases {
		a, err := o.BackupDatabase(ctx, t.Kind, t.Container, t.Database)
		if err != nil {
			a = Artifact{Kind: kindLabel(t.Kind), Target: t.Database, Container: t.Container, Error: err.Error()}
		}
		if !a.Success {
			rep.Failures++
		}
		rep.Databases = append(rep.Databases, a)
	}
	vols, err := o.BackupVolumes(ctx, o.opts.Plan.Volumes)
	if err != nil {
		rep.Failures++
	}
	rep.Failures += vols.Failed
	rep.Volumes = vols
	rep.Duration = o.now().Sub(start)
	rep.Success = rep.Failures == 0

	if rep.Success {
		o.alerts.Info(ctx, models.CategoryBackup,
			fmt.Sprintf("Full system backup completed in %.2fs", rep.Duration.Seconds()))
	} else {
		o.alerts.Critical(ctx, models.CategoryBackup,
			fmt.Sprintf("Full system backup finished with %d failures in %.2fs", rep.Failures, rep.Duration.Seconds()))
	}
	return rep
}

func (o *Orchestrator) upload(ctx context.Context, a *Artifact) {
	if o.offsite == nil || a.Path == "" {
		return
	}
	key, err := o.offsite.Upload(ctx, a.Path)
	if err != nil {
		o.alerts.Warning(ctx, models.CategoryBackup, fmt.Sprintf("Offsite upload failed for %s: %v", a.File, err))
		return
	}
	a.OffsiteKey = key
}

// writeAtomic streams r into a temp file next to path and renames it into
// place once complete.
func writeAtomic(path string, r io.Reader) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(tmp, r)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), path)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}
	return n, nil
}

func kindLabel(k DatabaseKind) string {
	if k == KindDocument {
		return "mongo"
	}
	return "mysql"
}

func engineName(k DatabaseKind) string {
	if k == KindDocument {
		return "MongoDB"
	}
	return "MySQL"
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
