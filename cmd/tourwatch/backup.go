package tourwatch

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/igorsilveira/tourwatch/pkg/config"
	"github.com/spf13/cobra"
)

const backupRoot = "tourwatch-data"

var backupCmd = &cobra.Command{
	Use:   "backup [output-path]",
	Short: "Snapshot the event store, audit log, credentials and config to a tarball",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBackup,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <backup-path>",
	Short: "Restore tourwatch state from a backup tarball",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestore,
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg := config.Current()

	outPath := fmt.Sprintf("tourwatch-backup-%s.tar.gz", time.Now().Format("20060102-150405"))
	if len(args) > 0 {
		outPath = args[0]
	}

	snapshot, err := snapshotDatabase(cfg)
	if err != nil {
		return err
	}
	defer os.Remove(snapshot)

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating backup file: %w", err)
	}
	defer f.Close()

	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)

	files := map[string]string{filepath.Base(cfg.Store.DSN): snapshot}
	configPath := cfgFile
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	if _, err := os.Stat(configPath); err == nil {
		files[filepath.Base(configPath)] = configPath
	}

	for name, src := range files {
		if err := addToArchive(tw, name, src); err != nil {
			return fmt.Errorf("archiving %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("finishing archive: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("finishing archive: %w", err)
	}

	fmt.Printf("Backup created: %s (%d files)\n", outPath, len(files))
	return nil
}

// snapshotDatabase copies the live database with VACUUM INTO, which is
// consistent even while `tourwatch start` keeps writing.
func snapshotDatabase(cfg *config.Config) (string, error) {
	db, err := openStore(cfg)
	if err != nil {
		return "", err
	}
	defer func() { _ = db.Close() }()

	tmp := filepath.Join(os.TempDir(), fmt.Sprintf("tourwatch-snapshot-%d.db", time.Now().UnixNano()))
	if err := db.DB().Exec("VACUUM INTO ?", tmp).Error; err != nil {
		return "", fmt.Errorf("snapshotting database: %w", err)
	}
	return tmp, nil
}

func addToArchive(tw *tar.Writer, name, src string) error {
	file, err := os.Open(src)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = backupRoot + "/" + name
	header.Mode = 0600

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}

func runRestore(cmd *cobra.Command, args []string) error {
	cfg := config.Current()
	if resp, err := apiRequest(cfg, http.MethodGet, "/healthz", nil); err == nil {
		resp.Body.Close()
		return errors.New("tourwatch is running; stop it before restoring")
	}

	dataDir := config.DataDir()
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening backup: %w", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("reading gzip: %w", err)
	}
	defer gr.Close()

	if err := config.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	tr := tar.NewReader(gr)
	count := 0
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		rel := strings.TrimPrefix(header.Name, backupRoot+"/")
		target := filepath.Join(dataDir, rel)
		if rel == "" || !strings.HasPrefix(filepath.Clean(target), filepath.Clean(dataDir)+string(os.PathSeparator)) {
			return fmt.Errorf("invalid path in backup: %s", header.Name)
		}

		if err := writeRestored(target, tr); err != nil {
			return fmt.Errorf("writing %s: %w", target, err)
		}
		// Stale WAL files would be replayed over the restored database.
		if filepath.Ext(target) == ".db" {
			os.Remove(target + "-wal")
			os.Remove(target + "-shm")
		}
		count++
	}

	fmt.Printf("Restored %d files to %s\n", count, dataDir)
	return nil
}

func writeRestored(target string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0700); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
