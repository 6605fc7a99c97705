// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package download materializes any Known provenance into a fresh,
// caller-owned local directory: artifacts are fetched over HTTP and
// unpacked, repositories are exported from the working-tree cache.
package download

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/scancore/scanctl/log"
	"github.com/scancore/scanctl/provenance"
	"github.com/scancore/scanctl/workingtree"
)

// ErrDownloadFailed wraps any failure to materialize a provenance.
var ErrDownloadFailed = errors.New("download: failed")

// Downloader materializes Known provenances into local directories.
type Downloader struct {
	cache      *workingtree.Cache
	httpClient *http.Client
	tmpRoot    string
}

// New creates a Downloader that uses cache for Repository provenances and
// allocates output directories under tmpRoot.
func New(cache *workingtree.Cache, tmpRoot string) *Downloader {
	return &Downloader{cache: cache, httpClient: http.DefaultClient, tmpRoot: tmpRoot}
}

// Download materializes prov into a fresh directory independent of the
// working-tree cache: the caller may delete it without racing future
// operations, and is responsible for deleting it once done.
func (d *Downloader) Download(ctx context.Context, prov provenance.Provenance) (string, error) {
	switch prov.Kind {
	case provenance.KindArtifact:
		dir, err := d.downloadArtifact(ctx, prov.Artifact)
		if err != nil {
			return "", fmt.Errorf("%w: artifact %s: %v", ErrDownloadFailed, prov.Artifact.URL, err)
		}
		return dir, nil
	case provenance.KindRepository:
		dir, err := d.downloadRepository(ctx, prov.Repository)
		if err != nil {
			return "", fmt.Errorf("%w: repository %s@%s: %v", ErrDownloadFailed, prov.Repository.URL, prov.Repository.ResolvedRevision, err)
		}
		return dir, nil
	default:
		return "", fmt.Errorf("%w: unknown provenance kind", ErrDownloadFailed)
	}
}

func (d *Downloader) newOutputDir() (string, error) {
	dir := filepath.Join(d.tmpRoot, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func (d *Downloader) downloadArtifact(ctx context.Context, a provenance.Artifact) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: status %s", a.URL, resp.Status)
	}

	dir, err := d.newOutputDir()
	if err != nil {
		return "", err
	}
	if err := unpack(a.URL, resp.Body, dir); err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	return dir, nil
}

func unpack(url string, r io.Reader, dest string) error {
	switch {
	case strings.HasSuffix(url, ".zip"):
		return unpackZip(r, dest)
	case strings.HasSuffix(url, ".tar.gz"), strings.HasSuffix(url, ".tgz"):
		return unpackTarGz(r, dest)
	case strings.HasSuffix(url, ".tar"):
		return unpackTar(r, dest)
	default:
		return fmt.Errorf("unpack %s: unrecognized archive extension", url)
	}
}

func unpackTarGz(r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()
	return unpackTar(gz, dest)
}

func unpackTar(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode&0o777))
			if err != nil {
				return err
			}
			_, err = io.Copy(f, tr)
			f.Close()
			if err != nil {
				return err
			}
		}
	}
}

func unpackZip(r io.Reader, dest string) error {
	// archive/zip requires an io.ReaderAt; buffer the response body.
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	zr, err := zip.NewReader(strings.NewReader(string(data)), int64(len(data)))
	if err != nil {
		return err
	}
	for _, f := range zr.File {
		target, err := safeJoin(dest, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode())
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		out.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// safeJoin joins dest and name, rejecting archive entries that would
// escape dest via "..".
func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, name)
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) && target != filepath.Clean(dest) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	return target, nil
}

func (d *Downloader) downloadRepository(ctx context.Context, r provenance.Repository) (string, error) {
	key := workingtree.Key{VCSType: r.VCSType, URL: r.URL}

	outDir, err := d.newOutputDir()
	if err != nil {
		return "", err
	}

	err = d.cache.Use(ctx, key, func(ctx context.Context, wtDir string) error {
		if err := workingtree.Fetch(ctx, wtDir); err != nil {
			return err
		}
		if _, err := workingtree.Checkout(ctx, wtDir, r.ResolvedRevision, false); err != nil {
			return err
		}
		if err := workingtree.CleanDanglingSubmoduleDirs(wtDir); err != nil {
			log.Warnf("download: clean dangling submodule dirs in %s: %v", wtDir, err)
		}
		src := wtDir
		if r.Path != "" {
			src = filepath.Join(wtDir, filepath.FromSlash(r.Path))
		}
		return copyTree(src, outDir)
	})
	if err != nil {
		os.RemoveAll(outDir)
		return "", err
	}
	return outDir, nil
}

// copyTree copies src into dest, skipping .git.
func copyTree(src, dest string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if parts := strings.Split(rel, string(os.PathSeparator)); len(parts) > 0 && parts[0] == ".git" {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dest string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
