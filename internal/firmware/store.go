// Package firmware serves the static firmware-blob directory tree
// described in spec §1 ("file-system firmware-blob serving ... scoped to
// one directory") and §6/§8 (reject any path containing ".." or "/" in
// project or file).
//
// The path-safety discipline here is grounded on the teacher's
// internal/fs.Workspace.resolvePath — reject traversal up front, then
// resolve symlinks and confirm containment — adapted from "arbitrary
// relative path under a workspace root" to "exactly one project segment
// and one file segment, both free of path separators".
package firmware

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/benchlab/fleetbench/internal/benchapi"
)

// Info describes one stored firmware blob.
type Info struct {
	Project string    `json:"project"`
	File    string    `json:"file"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Store roots all firmware blobs under one directory, one subdirectory
// per project.
type Store struct {
	root string
}

// NewStore creates a Store rooted at root. The directory is created if
// missing.
func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: abs}, nil
}

// validSegment rejects anything that could escape the project/file
// sandbox: empty, "..", or containing a path separator.
func validSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, "/\\")
}

func (s *Store) path(project, file string) (string, error) {
	if !validSegment(project) {
		return "", benchapi.Errorf(benchapi.BadRequest, "invalid project name %q", project)
	}
	if file != "" && !validSegment(file) {
		return "", benchapi.Errorf(benchapi.BadRequest, "invalid file name %q", file)
	}
	if file == "" {
		return filepath.Join(s.root, project), nil
	}
	return filepath.Join(s.root, project, file), nil
}

// Upload stores data as project/file, creating the project directory if
// needed.
func (s *Store) Upload(project, file string, data []byte) error {
	full, err := s.path(project, file)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return benchapi.Wrap(benchapi.Internal, err, "create project directory")
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return benchapi.Wrap(benchapi.Internal, err, "write firmware file")
	}
	return nil
}

// List returns all stored blobs, optionally filtered to one project
// (empty project lists every project).
func (s *Store) List(project string) ([]Info, error) {
	var projects []string
	if project != "" {
		if !validSegment(project) {
			return nil, benchapi.Errorf(benchapi.BadRequest, "invalid project name %q", project)
		}
		projects = []string{project}
	} else {
		entries, err := os.ReadDir(s.root)
		if err != nil {
			return nil, benchapi.Wrap(benchapi.Internal, err, "list firmware root")
		}
		for _, e := range entries {
			if e.IsDir() {
				projects = append(projects, e.Name())
			}
		}
	}

	var out []Info
	for _, proj := range projects {
		dir := filepath.Join(s.root, proj)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, benchapi.Wrap(benchapi.Internal, err, "list project %s", proj)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			fi, err := e.Info()
			if err != nil {
				continue
			}
			out = append(out, Info{Project: proj, File: e.Name(), Size: fi.Size(), ModTime: fi.ModTime()})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Project != out[j].Project {
			return out[i].Project < out[j].Project
		}
		return out[i].File < out[j].File
	})
	return out, nil
}

// Delete removes project/file.
func (s *Store) Delete(project, file string) error {
	full, err := s.path(project, file)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return benchapi.Errorf(benchapi.NotFound, "firmware %s/%s not found", project, file)
		}
		return benchapi.Wrap(benchapi.Internal, err, "delete firmware file")
	}
	return nil
}

// Open resolves project/file to an absolute path for download, failing
// closed on any traversal attempt.
func (s *Store) Open(project, file string) (string, error) {
	full, err := s.path(project, file)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return "", benchapi.Errorf(benchapi.NotFound, "firmware %s/%s not found", project, file)
		}
		return "", benchapi.Wrap(benchapi.Internal, err, "stat firmware file")
	}
	return full, nil
}
