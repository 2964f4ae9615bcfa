package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/fsal/pkg/fsal"
	"github.com/spf13/cobra"
)

// readChunk is the transfer size of cat and put.
const readChunk = 64 * 1024

// splitPath splits an absolute export path into its directory and final
// component.
func splitPath(p string) (string, string) {
	p = path.Clean("/" + p)
	if p == "/" {
		return "/", ""
	}
	return path.Dir(p), path.Base(p)
}

// withExport opens the export for a one-shot command, runs fn and closes
// the export again.
func withExport(cmd *cobra.Command, root *rootOptions, fn func(e *env) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	e, err := root.openExport(ctx, true)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(e)
}

func typeChar(t fsal.FileType) byte {
	switch t {
	case fsal.FileTypeDirectory:
		return 'd'
	case fsal.FileTypeJunction:
		return 'J'
	case fsal.FileTypeSymlink:
		return 'l'
	case fsal.FileTypeSocket:
		return 's'
	case fsal.FileTypeRegular:
		return '-'
	default:
		return '?'
	}
}

func modeString(a fsal.Attributes) string {
	return string(typeChar(a.Type)) + os.FileMode(a.Mode&0o777).String()[1:]
}

// ============================================================================
// ls
// ============================================================================

type lsOptions struct {
	human bool
	page  int
}

func newLsCommand(root *rootOptions) *cobra.Command {
	opts := &lsOptions{}

	cmd := &cobra.Command{
		Use:   "ls [PATH]",
		Short: "List a directory of the export",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := "/"
			if len(args) == 1 {
				p = args[0]
			}
			return withExport(cmd, root, func(e *env) error {
				return runLs(cmd.OutOrStdout(), e, p, opts)
			})
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&opts.human, "human-readable", "H", false, "Print sizes in human readable form")
	flags.IntVar(&opts.page, "page", 256, "Entries fetched per readdir call")
	return cmd
}

func runLs(out io.Writer, e *env, p string, opts *lsOptions) error {
	dir, _, err := e.resolve(p)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODE\tLINKS\tOWNER\tGROUP\tSIZE\tMODIFIED\tNAME")

	var cookie uint64
	for {
		entries, eol, err := e.exp.Readdir(e.actx, dir, cookie, opts.page)
		if err != nil {
			return err
		}
		for _, ent := range entries {
			a := ent.Attrs
			size := fmt.Sprintf("%d", a.Size)
			if opts.human {
				size = humanize.IBytes(a.Size)
			}
			name := ent.Name
			if a.Type == fsal.FileTypeSymlink {
				if target, err := e.exp.Readlink(e.actx, ent.Handle); err == nil {
					name += " -> " + target
				}
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
				modeString(a), a.NumLinks, a.Owner, a.Group, size,
				a.Mtime.Format(time.DateTime), name)
			cookie = ent.Cookie
		}
		if eol || len(entries) == 0 {
			break
		}
	}
	return w.Flush()
}

// ============================================================================
// stat
// ============================================================================

func newStatCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stat PATH",
		Short: "Print the attributes and handle of an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withExport(cmd, root, func(e *env) error {
				return runStat(cmd.OutOrStdout(), e, args[0])
			})
		},
	}
}

func runStat(out io.Writer, e *env, p string) error {
	h, a, err := e.resolve(p)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Path:\t%s\n", p)
	fmt.Fprintf(w, "Type:\t%s\n", a.Type)
	fmt.Fprintf(w, "Mode:\t%s (%04o)\n", modeString(a), a.Mode)
	fmt.Fprintf(w, "Links:\t%d\n", a.NumLinks)
	fmt.Fprintf(w, "Owner:\t%d:%d\n", a.Owner, a.Group)
	fmt.Fprintf(w, "Size:\t%d (%s)\n", a.Size, humanize.IBytes(a.Size))
	fmt.Fprintf(w, "Used:\t%d\n", a.SpaceUsed)
	fmt.Fprintf(w, "FileID:\t%d\n", a.FileID)
	fmt.Fprintf(w, "FSID:\t%s\n", a.FSID)
	fmt.Fprintf(w, "Access:\t%s\n", a.Atime.Format(time.RFC3339Nano))
	fmt.Fprintf(w, "Modify:\t%s\n", a.Mtime.Format(time.RFC3339Nano))
	fmt.Fprintf(w, "Change:\t%s (%d)\n", a.Ctime.Format(time.RFC3339Nano), a.Change)
	if !a.Creation.IsZero() {
		fmt.Fprintf(w, "Birth:\t%s\n", a.Creation.Format(time.RFC3339Nano))
	}
	fmt.Fprintf(w, "Mount:\t%d\n", h.Snapshot)
	fmt.Fprintf(w, "Handle:\t%s\n", h)
	return w.Flush()
}

// ============================================================================
// cat / put
// ============================================================================

func newCatCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cat PATH",
		Short: "Write the contents of a file to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withExport(cmd, root, func(e *env) error {
				return runCat(cmd.OutOrStdout(), e, args[0])
			})
		},
	}
}

func runCat(out io.Writer, e *env, p string) error {
	h, _, err := e.resolve(p)
	if err != nil {
		return err
	}
	s, err := e.exp.Open(e.actx, h, fsal.OpenRead)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	buf := make([]byte, readChunk)
	var off int64
	for {
		n, eof, err := s.Read(e.actx, off, buf)
		if err != nil {
			return err
		}
		if _, err := out.Write(buf[:n]); err != nil {
			return err
		}
		off += int64(n)
		if eof || n == 0 {
			return nil
		}
	}
}

type putOptions struct {
	mode   uint32
	append bool
}

func newPutCommand(root *rootOptions) *cobra.Command {
	opts := &putOptions{}

	cmd := &cobra.Command{
		Use:   "put LOCAL PATH",
		Short: "Copy a local file (or - for stdin) into the export",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				in = f
			}
			return withExport(cmd, root, func(e *env) error {
				return runPut(cmd.OutOrStdout(), e, in, args[1], opts)
			})
		},
	}

	flags := cmd.Flags()
	flags.Uint32Var(&opts.mode, "mode", 0o644, "Permission bits of a new file")
	flags.BoolVar(&opts.append, "append", false, "Append instead of replacing the contents")
	return cmd
}

func runPut(out io.Writer, e *env, in io.Reader, p string, opts *putOptions) error {
	h, _, err := e.resolve(p)
	if fsal.IsCode(err, fsal.ErrNotFound) {
		dir, name, perr := e.parentOf(p)
		if perr != nil {
			return perr
		}
		h, _, err = e.exp.Create(e.actx, dir, name, opts.mode)
	}
	if err != nil {
		return err
	}

	flags := fsal.OpenWrite | fsal.OpenTruncate
	if opts.append {
		flags = fsal.OpenWrite | fsal.OpenAppend
	}
	s, err := e.exp.Open(e.actx, h, flags)
	if err != nil {
		return err
	}

	buf := make([]byte, readChunk)
	var off int64
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			w, err := s.Write(e.actx, off, buf[:n])
			if err != nil {
				_ = s.Close()
				return err
			}
			off += int64(w)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			_ = s.Close()
			return rerr
		}
	}

	if err := s.Commit(e.actx); err != nil {
		_ = s.Close()
		return err
	}
	if err := s.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %s written\n", p, humanize.IBytes(uint64(off)))
	return nil
}

// ============================================================================
// mkdir / rm
// ============================================================================

func newMkdirCommand(root *rootOptions) *cobra.Command {
	var mode uint32

	cmd := &cobra.Command{
		Use:   "mkdir PATH",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withExport(cmd, root, func(e *env) error {
				dir, name, err := e.parentOf(args[0])
				if err != nil {
					return err
				}
				_, _, err = e.exp.Mkdir(e.actx, dir, name, mode)
				return err
			})
		},
	}
	cmd.Flags().Uint32Var(&mode, "mode", 0o755, "Permission bits")
	return cmd
}

func newRmCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm PATH [PATH]...",
		Aliases: []string{"remove"},
		Short:   "Remove files or empty directories",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withExport(cmd, root, func(e *env) error {
				var failed []string
				for _, p := range args {
					dir, name, err := e.parentOf(p)
					if err == nil {
						err = e.exp.Unlink(e.actx, dir, name)
					}
					if err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", p, err)
						failed = append(failed, p)
					}
				}
				if len(failed) > 0 {
					return fmt.Errorf("failed to remove %s", strings.Join(failed, ", "))
				}
				return nil
			})
		},
	}
}
