// Command git-deb-export is the reverse direction named in spec.md §1:
// given a package name and a commit already produced by git-remote-deb,
// it walks the commit's tree and re-emits a best-effort dsc plus source
// tarball. Bit-identical reproduction of the original upload is an
// explicit non-goal; this only needs to produce something dpkg-source
// can build from.
package main

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha1"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/gitdeb/gitdeb/changelog"
)

func main() {
	log.SetOutput(os.Stderr)
	if len(os.Args) != 4 {
		fmt.Fprintln(os.Stderr, "usage: git-deb-export <package> <commit> <outdir>")
		os.Exit(1)
	}
	pkg, commit, outDir := os.Args[1], os.Args[2], os.Args[3]

	if err := export(pkg, commit, outDir); err != nil {
		log.WithError(err).Fatal("git-deb-export")
	}
}

func export(pkg, commit, outDir string) error {
	workDir, err := ioutil.TempDir("", "git-deb-export-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workDir)

	if err := archiveTree(commit, workDir); err != nil {
		return err
	}

	raw, err := ioutil.ReadFile(filepath.Join(workDir, "debian", "changelog"))
	if err != nil {
		return fmt.Errorf("reading debian/changelog from %s: %w", commit, err)
	}
	cl, err := changelog.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing debian/changelog from %s: %w", commit, err)
	}
	version := cl.Entries[0].Version

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}
	tarName := fmt.Sprintf("%s_%s.tar.gz", pkg, version)
	tarPath := filepath.Join(outDir, tarName)
	if err := writeTarGz(workDir, tarPath); err != nil {
		return err
	}

	size, hash, err := sha1File(tarPath)
	if err != nil {
		return err
	}
	dscPath := filepath.Join(outDir, fmt.Sprintf("%s_%s.dsc", pkg, version))
	dsc := fmt.Sprintf("Source: %s\nVersion: %s\nFiles:\n %s %d %s\n", pkg, version, hash, size, tarName)
	if err := ioutil.WriteFile(dscPath, []byte(dsc), 0644); err != nil {
		return err
	}
	log.WithFields(log.Fields{"package": pkg, "version": version, "dsc": dscPath}).
		Info("git-deb-export: wrote approximation")
	return nil
}

// archiveTree materializes commit's tree under destDir by piping a git
// archive straight into tar, the way the teacher shells out to the VCS
// of record rather than walking tree objects by hand
// (surgeon/extractor.go, surgeon/hgclient.go).
func archiveTree(commit, destDir string) error {
	archiveCmd := exec.Command("git", "archive", "--format=tar", commit)
	extractCmd := exec.Command("tar", "-x", "-C", destDir)

	pipe, err := archiveCmd.StdoutPipe()
	if err != nil {
		return err
	}
	extractCmd.Stdin = pipe

	var stderr bytes.Buffer
	archiveCmd.Stderr = &stderr
	extractCmd.Stderr = &stderr

	if err := extractCmd.Start(); err != nil {
		return fmt.Errorf("tar -x -C %s: %w", destDir, err)
	}
	if err := archiveCmd.Run(); err != nil {
		return fmt.Errorf("git archive %s: %w: %s", commit, err, stderr.String())
	}
	if err := extractCmd.Wait(); err != nil {
		return fmt.Errorf("tar -x -C %s: %w: %s", destDir, err, stderr.String())
	}
	return nil
}

func writeTarGz(srcDir, dstPath string) error {
	f, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	return filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		data, err := os.Open(path)
		if err != nil {
			return err
		}
		defer data.Close()
		_, err = io.Copy(tw, data)
		return err
	})
}

func sha1File(path string) (size int64, hexHash string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()
	h := sha1.New()
	size, err = io.Copy(h, f)
	if err != nil {
		return 0, "", err
	}
	return size, fmt.Sprintf("%x", h.Sum(nil)), nil
}
