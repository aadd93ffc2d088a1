// Package snapshot is the Snapshot Client (spec.md §4.A): it queries
// the snapshot archive's version list and per-version file manifests,
// fetches files by content hash into a local content-addressed store,
// and assembles verified, classified SourcePackages.
package snapshot

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gitdeb/gitdeb/debversion"
	"github.com/gitdeb/gitdeb/dscpkg"
	"github.com/gitdeb/gitdeb/manifest"
	"github.com/gitdeb/gitdeb/sigcheck"
)

const defaultBaseURL = "https://snapshot.debian.org"

// versionListTTL is the 600s freshness window from spec.md §4.A.
const versionListTTL = 600 * time.Second

// srcFilesTTL models the "indefinite" freshness of a resolved
// per-version manifest: it never goes stale once a version has a dsc.
const srcFilesTTL = -1 * time.Second

// MissingSource is raised when the archive has nothing for a version
// (spec.md §4.A: "On 404, raise MissingSource(version)").
type MissingSource struct {
	Version string
}

func (e *MissingSource) Error() string {
	return fmt.Sprintf("snapshot: no source for version %s", e.Version)
}

// Client is a snapshot.debian.org client backed by a local Store.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Store      *Store
	Keyrings   []sigcheck.Keyring
}

// NewClient builds a Client writing into store.
func NewClient(store *Store, keyrings []sigcheck.Keyring) *Client {
	return &Client{
		BaseURL:    defaultBaseURL,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Store:      store,
		Keyrings:   keyrings,
	}
}

type versionListResponse struct {
	Result []struct {
		Version string `json:"version"`
	} `json:"result"`
}

// ListVersions returns pkg's versions latest-first, as spec.md §4.A
// describes: "as returned by the snapshot archive... may not match
// strict Debian version order because of backports."
func (c *Client) ListVersions(pkg string) ([]string, error) {
	var resp versionListResponse
	cacheKey := pkg + "_versions"
	if !c.Store.cache.Load(cacheKey, versionListTTL, &resp) {
		url := fmt.Sprintf("%s/mr/package/%s/", c.BaseURL, pkg)
		if err := c.getJSON(url, &resp); err != nil {
			return nil, err
		}
		if err := c.Store.cache.Store(cacheKey, &resp); err != nil {
			log.WithError(err).Warn("snapshot: could not write version list cache")
		}
	}
	versions := make([]string, len(resp.Result))
	for i, r := range resp.Result {
		versions[i] = r.Version
	}
	return versions, nil
}

type fileInfoResp struct {
	Name       string `json:"name"`
	ArchiveName string `json:"archive_name"`
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	FirstSeen  string `json:"first_seen"`
}

type srcFilesResponse struct {
	Result []struct {
		Hash string `json:"hash"`
		Name string `json:"name"`
	} `json:"result"`
	Fileinfo map[string][]fileInfoResp `json:"fileinfo"`
}

// FetchSrcFiles downloads every file for pkg's version, verifies each
// dsc's signature, and returns the classified SourcePackage (spec.md
// §4.A "fetch_srcfiles").
func (c *Client) FetchSrcFiles(pkg, version string) (*dscpkg.SourcePackage, error) {
	var resp srcFilesResponse
	cacheKey := fmt.Sprintf("%s_%s.srcfiles", pkg, version)
	if !c.Store.cache.Load(cacheKey, srcFilesTTL, &resp) {
		url := fmt.Sprintf("%s/mr/package/%s/%s/srcfiles?fileinfo=1", c.BaseURL, pkg, version)
		err := c.getJSON(url, &resp)
		if herr, ok := err.(*httpStatusError); ok && herr.Status == http.StatusNotFound {
			return nil, &MissingSource{Version: version}
		}
		if err != nil {
			return nil, err
		}
		if err := c.Store.cache.Store(cacheKey, &resp); err != nil {
			log.WithError(err).Warn("snapshot: could not write srcfiles cache")
		}
	}

	allFiles := make(map[string][]manifest.FileInfo, len(resp.Fileinfo))
	for hash, infos := range resp.Fileinfo {
		var size int64 = -1
		ext := ""
		fis := make([]manifest.FileInfo, 0, len(infos))
		for _, fi := range infos {
			if size == -1 {
				size = fi.Size
				ext = extensionOf(fi.Name)
			} else if fi.Size != size || extensionOf(fi.Name) != ext {
				return nil, fmt.Errorf("snapshot: hash %s has heterogeneous FileInfos (archive corruption)", hash)
			}
			fis = append(fis, manifest.FileInfo{
				Archive:   fi.ArchiveName,
				Path:      fi.Path,
				Name:      fi.Name,
				Size:      fi.Size,
				FirstSeen: parseFirstSeen(fi.FirstSeen),
				Hash:      hash,
			})
		}
		manifest.SortByPrecedence(fis)
		allFiles[hash] = fis
		if err := c.ensureHash(hash, size); err != nil {
			return nil, err
		}
		for _, fi := range fis {
			if err := c.Store.Mirror(pkg, fi); err != nil {
				return nil, err
			}
		}
	}

	v, err := debversion.Parse(version)
	if err != nil {
		return nil, err
	}

	var dscInfos []manifest.FileInfo
	var cleartext []byte
	sigs := make(map[string]sigcheck.SigInfo)
	for hash, fis := range allFiles {
		if len(fis) == 0 || !strings.HasSuffix(fis[0].Name, ".dsc") {
			continue
		}
		rep := fis[0]
		raw, err := readAll(c.Store, hash)
		if err != nil {
			return nil, err
		}
		sig, err := sigcheck.Verify(raw, c.Keyrings)
		if err != nil {
			return nil, fmt.Errorf("snapshot: signature on %s: %w", rep.Name, err)
		}
		if cleartext == nil {
			cleartext = sig.Cleartext
		} else if string(cleartext) != string(sig.Cleartext) {
			return nil, fmt.Errorf("snapshot: two dscs for %s %s decode to different cleartexts (archive inconsistency)", pkg, version)
		}
		dscInfos = append(dscInfos, fis...)
		sigs[hash] = sig
	}
	if cleartext == nil {
		return nil, &MissingSource{Version: version}
	}
	manifest.SortByPrecedence(dscInfos)

	sp, err := dscpkg.Parse(pkg, v, cleartext)
	if err != nil {
		return nil, err
	}
	sp.DscFiles = dscInfos
	sp.Sigs = sigs
	return sp, nil
}

func (c *Client) ensureHash(hash string, size int64) error {
	if c.Store.Has(hash, size) {
		return nil
	}
	url := fmt.Sprintf("%s/file/%s", c.BaseURL, hash)
	resp, err := c.HTTPClient.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return &MissingSource{Version: hash}
	}
	if resp.StatusCode >= 400 {
		return &httpStatusError{URL: url, Status: resp.StatusCode}
	}
	return c.Store.Put(hash, resp.Body)
}

func (c *Client) getJSON(url string, v interface{}) error {
	resp, err := c.HTTPClient.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &httpStatusError{URL: url, Status: resp.StatusCode}
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

type httpStatusError struct {
	URL    string
	Status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("snapshot: %s: HTTP %d", e.URL, e.Status)
}

func readAll(store *Store, hash string) ([]byte, error) {
	f, err := store.Open(hash)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ioutil.ReadAll(f)
}

// extensionOf returns the portion of name after its last dot, used to
// compare FileInfos sharing a hash for the "heterogeneous" corruption
// check of spec.md §4.A.
func extensionOf(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[i+1:]
		}
	}
	return ""
}

func parseFirstSeen(s string) int64 {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		return 0
	}
	return t.Unix()
}
