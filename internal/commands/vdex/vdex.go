// Package vdex contains the vdex batch extraction commands.
package vdex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/blacktop/vdex/internal/config"
	"github.com/blacktop/vdex/internal/magic"
	"github.com/blacktop/vdex/internal/utils"
	pvdex "github.com/blacktop/vdex/pkg/vdex"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"
)

var supportedVersion = strings.TrimRight(pvdex.Version006, "\x00")

// Result is the outcome of processing one vdex file
type Result struct {
	Path     string
	DexFiles int
	DepsFile string
	Err      error
}

// Collect expands paths into the list of vdex files to process.
// Directories are walked recursively and only version 006 vdex files are kept;
// files named explicitly must be vdex files and fail later if their version is unsupported.
func Collect(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		fi, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		if !fi.IsDir() {
			if ok, err := magic.IsVdex(path); !ok {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			files = append(files, filepath.Clean(path))
			continue
		}
		if err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || filepath.Ext(p) != ".vdex" {
				return nil
			}
			if ok, err := magic.IsVdex(p); !ok {
				log.WithError(err).Debugf("Skipping %s", p)
				return nil
			}
			if version, err := magic.VdexVersion(p); err != nil || version != supportedVersion {
				log.WithFields(log.Fields{
					"path":    p,
					"version": version,
				}).Warnf("Skipping unsupported vdex version (only %s is supported)", supportedVersion)
				return nil
			}
			files = append(files, p)
			return nil
		}); err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", path, err)
		}
	}
	return utils.Unique(files), nil
}

// Run extracts the dex files of every vdex in paths into conf's output directory.
// Files are processed in parallel; a failing file does not stop the others and all
// failures are returned joined. A progress bar is drawn to progress when it is non-nil.
func Run(ctx context.Context, paths []string, conf *config.Config, progress io.Writer) ([]Result, error) {
	files, err := Collect(paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no vdex files found in %v", paths)
	}

	if err := os.MkdirAll(conf.Vdex.Extract.Output, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", conf.Vdex.Extract.Output, err)
	}

	var p *mpb.Progress
	var bar *mpb.Bar
	if progress != nil {
		p = mpb.NewWithContext(ctx,
			mpb.WithOutput(progress),
			mpb.WithWidth(60),
			mpb.WithRefreshRate(180*time.Millisecond),
		)
		bar = p.New(int64(len(files)),
			mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding("-").Rbound("|"),
			mpb.PrependDecorators(
				decor.Name("\tvdex "),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(
				decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "✅ "),
				decor.Name(" ]"),
			),
		)
	}

	results := make([]Result, len(files))
	var (
		mu   sync.Mutex
		errs []error
	)

	g := new(errgroup.Group)
	g.SetLimit(conf.Vdex.Extract.Workers)

	for i, file := range files {
		g.Go(func() error {
			if bar != nil {
				defer bar.Increment()
			}
			results[i] = Result{Path: file}
			if err := ctx.Err(); err != nil {
				results[i].Err = err
			} else {
				results[i] = process(file, conf)
			}
			if results[i].Err != nil {
				log.WithError(results[i].Err).Errorf("Failed to extract %s", file)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", file, results[i].Err))
				mu.Unlock()
			}
			return nil
		})
	}

	g.Wait()
	if p != nil {
		p.Wait()
	}

	slices.SortFunc(errs, func(a, b error) int {
		return strings.Compare(a.Error(), b.Error())
	})
	return results, errors.Join(errs...)
}

func process(path string, conf *config.Config) Result {
	res := Result{Path: path}
	name := utils.StemName(path)

	f, err := pvdex.Open(path)
	if err != nil {
		res.Err = err
		return res
	}
	defer f.Close()

	log.WithFields(log.Fields{
		"path":     path,
		"version":  f.VersionString(),
		"dex_size": f.DexSize,
	}).Debug("Opened vdex")

	if conf.Vdex.Extract.Deps {
		res.DepsFile, err = writeDepsReport(f, name, conf)
		if err != nil {
			res.Err = err
			return res
		}
	}

	res.DexFiles, res.Err = pvdex.Extract(f, pvdex.ExtractOptions{
		Name:      name,
		Unquicken: conf.Unquicken(),
		IgnoreCRC: conf.Vdex.Extract.IgnoreCRC,
		Writer: pvdex.DirWriter{
			Dir:       conf.Vdex.Extract.Output,
			Overwrite: conf.Vdex.Extract.Force,
		},
	})
	if res.Err == nil {
		utils.Indent(log.Info, 2)(fmt.Sprintf("Extracted %d dex file(s) from %s", res.DexFiles, filepath.Base(path)))
	}
	return res
}

func writeDepsReport(f *pvdex.File, name string, conf *config.Config) (fname string, err error) {
	fname = filepath.Join(conf.Vdex.Extract.Output, name+"_deps.txt")

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !conf.Vdex.Extract.Force {
		flags |= os.O_EXCL
	}
	out, err := os.OpenFile(fname, flags, 0o644)
	if err != nil {
		return "", fmt.Errorf("%w: %w", pvdex.ErrOutputFailure, err)
	}

	var written int64
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: %w", pvdex.ErrOutputFailure, cerr)
		}
		if err != nil || written == 0 {
			os.Remove(fname)
			fname = ""
		}
	}()

	cw := &countingWriter{w: out}
	if err := pvdex.RenderDependencyReport(cw, f); err != nil {
		return "", err
	}
	written = cw.n
	return fname, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
