package copier

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalCopier copia para o disco local. A escrita vai para um arquivo
// temporário no diretório de destino e é renomeada ao final, então leitores
// nunca veem um arquivo parcial.
type LocalCopier struct {
	bufferSize int
}

// NewLocalCopier cria o copier local
func NewLocalCopier() *LocalCopier {
	return &LocalCopier{bufferSize: 256 * 1024}
}

// Copy copia source para destination, sobrescrevendo
func (c *LocalCopier) Copy(ctx context.Context, source, destination string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := localPath(destination)

	in, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	buf := make([]byte, c.bufferSize)
	if _, err := io.CopyBuffer(tmp, &ctxReader{ctx: ctx, r: in}, buf); err != nil {
		return fmt.Errorf("failed to copy data: %w", err)
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close destination: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("failed to rename destination: %w", err)
	}
	committed = true

	// mtime igual ao da origem
	_ = os.Chtimes(dst, info.ModTime(), info.ModTime())
	return nil
}

// MkdirAll cria o diretório e os pais
func (c *LocalCopier) MkdirAll(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.MkdirAll(localPath(dir), 0755)
}

// ctxReader interrompe cópias longas quando o contexto é cancelado
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
