// Command pgfuse mounts a Postgres database as a POSIX-like filesystem: file
// and directory metadata lives in the dir table, file contents are sharded
// into fixed-size blocks in the data table, and every VFS request from the
// kernel becomes one SQL transaction. See internal/pgfs for the translation
// layer and internal/fuseadapter for the jacobsa/fuse wiring.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/jacobsa/fuse"

	"github.com/armos-pg/pgfuse/internal/fuseadapter"
	"github.com/armos-pg/pgfuse/internal/pgfs"
)

// version is PGFUSE_VERSION from the original config.h, bumped for this
// rewrite.
const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("pgfuse", flag.ContinueOnError)
	fs.Usage = func() { printUsage(fs) }

	var (
		readOnly       bool
		singleThreaded bool
		verbose        bool
		printVersion   bool
		poolSize       int
		blockSize      int
	)
	fs.BoolVar(&readOnly, "ro", false, "mount read-only; write handlers return EROFS")
	fs.BoolVar(&singleThreaded, "s", false, "single-threaded mode; pool collapses to one connection")
	fs.BoolVar(&verbose, "v", false, "log each handler entry at INFO level")
	fs.BoolVar(&verbose, "verbose", false, "log each handler entry at INFO level")
	fs.BoolVar(&printVersion, "V", false, "print version and exit")
	fs.BoolVar(&printVersion, "version", false, "print version and exit")
	fs.IntVar(&poolSize, "pool-size", 0, "number of pooled database connections (default 10, forced to 1 with -s)")
	fs.IntVar(&blockSize, "block-size", 0, "block size in bytes for a freshly initialized database (default 512)")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	if printVersion {
		fmt.Println("pgfuse", version)
		return 0
	}

	rest := fs.Args()
	if len(rest) != 2 {
		fmt.Fprintln(os.Stderr, "pgfuse: exactly two arguments required: <conninfo> <mountpoint>")
		fs.Usage()
		return 2
	}
	conninfo, mountpoint := rest[0], rest[1]

	logger := newSyslogLogger()

	cfg := pgfs.Config{
		ConnInfo:       conninfo,
		ReadOnly:       readOnly,
		SingleThreaded: singleThreaded,
		Verbose:        verbose,
		PoolSize:       poolSize,
		BlockSize:      blockSize,
		Uid:            uint32(os.Getuid()),
		Gid:            uint32(os.Getgid()),
	}

	filesystem, err := pgfs.NewFilesystem(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pgfuse: %v\n", err)
		return 1
	}
	defer filesystem.Close()

	server := fuseadapter.New(filesystem)

	mfs, err := fuse.Mount(mountpoint, server, &fuse.MountConfig{
		ReadOnly: readOnly,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "pgfuse: mount: %v\n", err)
		return 1
	}

	logger.Infof("mounted %q on %q (read-only=%v)", conninfo, mountpoint, readOnly)
	registerSignalUnmount(mountpoint, logger)

	if err := mfs.Join(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "pgfuse: %v\n", err)
		return 1
	}
	logger.Infof("unmounted %q", mountpoint)
	return 0
}

// registerSignalUnmount asks the kernel to unmount on SIGINT, the
// same as ctrl-C against a foreground mount of any jacobsa/fuse-based
// filesystem; Join above is what actually returns once that completes.
func registerSignalUnmount(mountpoint string, logger pgfs.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		for range sig {
			logger.Infof("received interrupt, unmounting %q", mountpoint)
			if err := fuse.Unmount(mountpoint); err != nil {
				logger.Errorf("unmount %q: %v", mountpoint, err)
				continue
			}
			return
		}
	}()
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Usage: pgfuse <conninfo> <mountpoint>

Postgresql connection string (key=value pairs separated by whitespace):

    host                   optional (omit for Unix domain sockets), e.g. 'localhost'
    port                   default is 5432
    dbname                 database to connect to
    user                   database user to connect with
    password               for password credentials (or rather use ~/.pgpass)
    ...                    see libpq's PQconnectdb for the full set

Example: "dbname=test user=test password=xx"

Options:
`)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
pgfuse mounts through github.com/jacobsa/fuse, which recognizes the usual
FUSE mount options (allow_other, default_permissions, ...) via its own
MountConfig; this binary does not re-expose those individually.
`)
}
