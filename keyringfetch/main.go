// Command git-deb-get-keyrings is the keyring acquisition collaborator
// named in spec.md §6: it downloads and unpacks the distribution's
// keyring packages into ~/.local/share/public-keyrings/ as individual
// .gpg files, which git-remote-deb then loads via sigcheck.LoadDir.
package main

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	shellquote "github.com/kballard/go-shellquote"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var defaultPackages = []string{"debian-keyring", "debian-maintainers", "debian-emeritus"}

func main() {
	log.SetOutput(os.Stderr)

	home, err := os.UserHomeDir()
	if err != nil {
		log.WithError(err).Fatal("git-deb-get-keyrings: resolving home directory")
	}
	var dest string

	cmd := &cobra.Command{
		Use:   "git-deb-get-keyrings [package...]",
		Short: "download and unpack Debian keyring packages for git-remote-deb",
		Args:  cobra.ArbitraryArgs,
		RunE: func(_ *cobra.Command, args []string) error {
			packages := args
			if len(packages) == 0 {
				packages = defaultPackages
			}
			if err := os.MkdirAll(dest, 0755); err != nil {
				return err
			}
			for _, pkg := range packages {
				if err := fetchOne(pkg, dest); err != nil {
					return fmt.Errorf("git-deb-get-keyrings: %s: %w", pkg, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dest, "dest", filepath.Join(home, ".local", "share", "public-keyrings"),
		"destination directory for extracted keyring files")

	if err := cmd.Execute(); err != nil {
		log.WithError(err).Fatal("git-deb-get-keyrings")
	}
}

// fetchOne downloads pkg with the distribution's own package tooling
// and unpacks every usr/share/keyrings/*.gpg file it carries into dest,
// named after pkg (or pkg-<basename> when a package carries more than
// one keyring file).
func fetchOne(pkg, dest string) error {
	tmp, err := ioutil.TempDir("", "git-deb-get-keyrings-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	if err := run(tmp, "apt-get", "download", pkg); err != nil {
		return err
	}
	debs, err := filepath.Glob(filepath.Join(tmp, pkg+"_*.deb"))
	if err != nil {
		return err
	}
	if len(debs) == 0 {
		return fmt.Errorf("apt-get download produced no .deb for %s", pkg)
	}

	extractDir := filepath.Join(tmp, "extract")
	if err := run(tmp, "dpkg-deb", "-x", debs[0], extractDir); err != nil {
		return err
	}

	matches, err := filepath.Glob(filepath.Join(extractDir, "usr", "share", "keyrings", "*.gpg"))
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("%s carries no usr/share/keyrings/*.gpg file", pkg)
	}
	for _, m := range matches {
		name := pkg
		if len(matches) > 1 {
			name = pkg + "-" + strings.TrimSuffix(filepath.Base(m), ".gpg")
		}
		if err := copyFile(m, filepath.Join(dest, name+".gpg")); err != nil {
			return err
		}
	}
	log.WithField("package", pkg).Info("git-deb-get-keyrings: installed")
	return nil
}

func copyFile(src, dst string) error {
	data, err := ioutil.ReadFile(src)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(dst, data, 0644)
}

// run shells out the way unpack.run and fastimport's captureGit do,
// logging the exact command line via go-shellquote.
func run(dir, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	logged := shellquote.Join(append([]string{name}, args...)...)
	log.WithField("command", logged).Debug("git-deb-get-keyrings: running")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", logged, err, strings.TrimSpace(string(out)))
	}
	return nil
}
