package replication

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ssw-logmanager/internal/metrics"
	"ssw-logmanager/pkg/compression"
	"ssw-logmanager/pkg/copier"
	apperrors "ssw-logmanager/pkg/errors"
	"ssw-logmanager/pkg/retry"
	"ssw-logmanager/pkg/tracing"
	"ssw-logmanager/pkg/types"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"
)

// operation estado de uma operação registrada. Os campos de status são
// protegidos por Manager.mu; cycleSem serializa os ciclos (worker e trigger).
type operation struct {
	spec types.OperationSpec

	state     string
	reason    string
	startedAt time.Time
	cycles    int64
	lastCycle types.CycleStats
	succeeded int64
	failed    int64
	lastError string

	// arquivos do último ciclo, usados para detectar sobreposição
	files         map[string]struct{}
	overlapWarned map[string]bool

	cycleSem     chan struct{}
	fingerprints map[string]fingerprint
}

func newOperation(spec types.OperationSpec) *operation {
	return &operation{
		spec:          spec,
		files:         make(map[string]struct{}),
		overlapWarned: make(map[string]bool),
		cycleSem:      make(chan struct{}, 1),
		fingerprints:  make(map[string]fingerprint),
	}
}

// acquireCycle espera o ciclo em andamento terminar ou ctx ser cancelado
func (op *operation) acquireCycle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case op.cycleSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (op *operation) releaseCycle() {
	<-op.cycleSem
}

func (op *operation) active() bool {
	return op.state == types.OperationRunning || op.state == types.OperationStopping
}

func (op *operation) status() types.OperationStatus {
	return types.OperationStatus{
		Name:           op.spec.Name,
		State:          op.state,
		Reason:         op.reason,
		Destination:    op.spec.Destination,
		Interval:       op.spec.Interval,
		StartedAt:      op.startedAt,
		Cycles:         op.cycles,
		LastCycle:      op.lastCycle,
		TotalSucceeded: op.succeeded,
		TotalFailed:    op.failed,
		LastError:      op.lastError,
	}
}

// fingerprint identifica o conteúdo copiado com sucesso
type fingerprint struct {
	size    int64
	modTime int64
	hash    uint64
}

func fingerprintFile(path string) (fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return fingerprint{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fingerprint{}, err
	}

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return fingerprint{}, err
	}

	return fingerprint{
		size:    info.Size(),
		modTime: info.ModTime().UnixNano(),
		hash:    h.Sum64(),
	}, nil
}

// runWorker corpo da goroutine de uma operação
func (m *Manager) runWorker(ctx context.Context, op *operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("replication worker panic: %v", r)
			m.logger.WithFields(logrus.Fields{
				"operation": op.spec.Name,
				"panic":     r,
			}).Error("Replication worker panicked")
		}
		m.finish(op, err)
	}()

	for {
		if _, err := m.runCycle(ctx, op); err != nil {
			return nil
		}

		timer := time.NewTimer(op.spec.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.logger.WithField("operation", op.spec.Name).Debug("Replication worker cancelled")
			return nil
		case <-timer.C:
		}
	}
}

// runCycle resolves the operation's patterns and copies every file once.
// Panics inside a cycle are recovered and counted as a failed cycle. The
// only error returned is ctx's, when it ends before another cycle of the
// same operation releases it.
func (m *Manager) runCycle(ctx context.Context, op *operation) (stats types.CycleStats, _ error) {
	if err := op.acquireCycle(ctx); err != nil {
		return stats, err
	}
	defer op.releaseCycle()

	spec := op.spec
	stats.StartedAt = time.Now()

	m.mu.Lock()
	op.cycles++
	cycle := op.cycles
	m.mu.Unlock()

	ctx, span := m.tracer.StartCycle(ctx, spec.Name, cycle)

	var cycleErr error
	defer func() {
		if r := recover(); r != nil {
			cycleErr = fmt.Errorf("replication cycle panic: %v", r)
			m.logger.WithFields(logrus.Fields{
				"operation": spec.Name,
				"panic":     r,
			}).Error("Replication cycle panicked")
			metrics.RecordError(component, "cycle_panic")
		}

		stats.Duration = time.Since(stats.StartedAt)
		m.recordCycle(op, stats, cycleErr)
		metrics.RecordCycleDuration(spec.Name, stats.Duration)
		tracing.EndSpan(span, cycleErr)
	}()

	files, err := m.resolver.Resolve(spec.Patterns)
	if err != nil {
		cycleErr = err
		m.logger.WithFields(logrus.Fields{
			"operation": spec.Name,
			"error":     err,
		}).Warn("Some replication patterns could not be resolved")
	}
	m.checkOverlap(op, files)

	if len(files) == 0 {
		m.logger.WithField("operation", spec.Name).Debug("No files matched")
		return stats, nil
	}

	dst, err := m.copiers.For(spec.Destination)
	if err != nil {
		cycleErr = err
		return stats, nil
	}
	alg, _ := compression.Parse(spec.Compression)
	root := ""
	if spec.PreserveStructure {
		root = rootFor(spec)
	}

	for _, src := range files {
		if ctx.Err() != nil {
			break
		}
		stats.Attempted++

		skipped, err := m.copyFile(ctx, op, dst, alg, root, src)
		switch {
		case err != nil:
			stats.Failed++
			cycleErr = err
		case skipped:
			stats.Skipped++
		default:
			stats.Succeeded++
		}
	}

	if stats.Attempted > 0 {
		m.logger.WithFields(logrus.Fields{
			"operation": spec.Name,
			"cycle":     cycle,
			"attempted": stats.Attempted,
			"succeeded": stats.Succeeded,
			"failed":    stats.Failed,
			"skipped":   stats.Skipped,
		}).Debug("Replication cycle finished")
	}

	return stats, nil
}

// copyFile copies one source file. It reports skipped=true when the file is
// unchanged since its last successful copy. Failures are COPY_FAILED
// AppErrors wrapping the cause (a *retry.ExhaustedError for the copy itself).
func (m *Manager) copyFile(ctx context.Context, op *operation, dst types.Copier, alg compression.Algorithm, root, src string) (bool, error) {
	spec := op.spec
	target := DestinationFor(spec, root, src)
	fields := logrus.Fields{
		"operation":   spec.Name,
		"source":      src,
		"destination": target,
	}
	failed := func(stage string, err error) error {
		return apperrors.CopyError(stage, fmt.Sprintf("%s -> %s", src, target)).
			WithMetadata("operation", spec.Name).Wrap(err)
	}

	var fp fingerprint
	if spec.SkipUnchanged {
		var err error
		fp, err = fingerprintFile(src)
		if err != nil {
			m.logger.WithFields(fields).WithError(err).Warn("Failed to fingerprint file")
			metrics.RecordCopyAttempt(spec.Name, "failure")
			return false, failed("fingerprint", err)
		}
		if prev, ok := op.fingerprints[src]; ok && prev == fp {
			metrics.RecordCopyAttempt(spec.Name, "skipped")
			return true, nil
		}
	}

	if spec.CreateDestDirs {
		if err := dst.MkdirAll(ctx, copier.Dir(target)); err != nil {
			m.logger.WithFields(fields).WithError(err).Error("Failed to create destination directory")
			metrics.RecordCopyAttempt(spec.Name, "failure")
			return false, failed("mkdir", err)
		}
	}

	upload := src
	if alg != compression.AlgorithmNone {
		tmp, err := compression.CompressFile(alg, src, m.config.TempDir)
		if err != nil {
			m.logger.WithFields(fields).WithError(err).Error("Failed to compress file")
			metrics.RecordCopyAttempt(spec.Name, "failure")
			return false, failed("compress", err)
		}
		defer os.Remove(tmp)
		upload = tmp
	}

	ctx, span := m.tracer.StartCopy(ctx, src, target)

	exec := retry.New(spec.Retry)
	exec.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.RecordCopyAttempt(spec.Name, "retry")
		m.logger.WithFields(fields).WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
			"error":   err,
		}).Warn("Copy failed, retrying")
	}

	err := exec.Execute(ctx, func(ctx context.Context, attempt int) error {
		return dst.Copy(ctx, upload, target)
	})
	tracing.EndSpan(span, err)

	if err != nil {
		metrics.RecordCopyAttempt(spec.Name, "failure")
		m.logger.WithFields(fields).WithError(err).Error("Copy failed")
		return false, failed("copy", err)
	}

	if spec.SkipUnchanged {
		op.fingerprints[src] = fp
	}
	metrics.RecordCopyAttempt(spec.Name, "success")
	m.logger.WithFields(fields).Debug("File copied")
	return false, nil
}

// recordCycle atualiza as estatísticas da operação
func (m *Manager) recordCycle(op *operation, stats types.CycleStats, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op.lastCycle = stats
	op.succeeded += int64(stats.Succeeded)
	op.failed += int64(stats.Failed)
	if err != nil {
		op.lastError = err.Error()
	}
}

// checkOverlap registra os arquivos do ciclo e avisa (uma vez por par de
// operações) quando outra operação ativa replica os mesmos arquivos.
func (m *Manager) checkOverlap(op *operation, files []string) {
	current := make(map[string]struct{}, len(files))
	for _, f := range files {
		current[f] = struct{}{}
	}

	m.mu.Lock()
	op.files = current

	type overlap struct {
		other  string
		shared []string
	}
	var found []overlap
	for name, other := range m.operations {
		if other == op || !other.active() || op.overlapWarned[name] {
			continue
		}
		var shared []string
		for f := range current {
			if _, ok := other.files[f]; ok {
				shared = append(shared, f)
			}
		}
		if len(shared) > 0 {
			op.overlapWarned[name] = true
			sort.Strings(shared)
			found = append(found, overlap{other: name, shared: shared})
		}
	}
	m.mu.Unlock()

	for _, o := range found {
		sample := o.shared
		if len(sample) > 5 {
			sample = sample[:5]
		}
		m.logger.WithFields(logrus.Fields{
			"operation":       op.spec.Name,
			"other_operation": o.other,
			"shared_files":    len(o.shared),
			"sample":          strings.Join(sample, ","),
		}).Warn("Files replicated by more than one operation")
	}
}

// DestinationFor maps a source file to its destination. With
// PreserveStructure the path relative to root is kept below the destination;
// otherwise only the basename is used. Files outside root fall back to their
// basename. A compressed copy carries the algorithm's extension.
func DestinationFor(spec types.OperationSpec, root, src string) string {
	rel := filepath.Base(src)
	if spec.PreserveStructure && root != "" {
		if r, err := filepath.Rel(root, src); err == nil && r != "." && !strings.HasPrefix(r, "..") {
			rel = r
		}
	}

	target := copier.Join(spec.Destination, filepath.ToSlash(rel))
	if alg, err := compression.Parse(spec.Compression); err == nil {
		target += alg.Extension()
	}
	return target
}
