// Package db implements the namespace manager of hydrodb: the hierarchical
// project → track → channel directory layout and the handle-based dispatch
// that the public façade and any transport marshal.
//
// On disk, a project is a directory under the base path carrying a
// `project.ini` marker, a track is a directory under its project carrying a
// `track.ini` marker, and a channel is a pair of part files inside its track
// directory. Parameter groups are `.ini` files next to the objects they
// describe.
//
// Open objects are addressed by positive int32 handles. Handles issued for
// the same named object share one backing instance through a reference
// count, so two opens of the same channel observe the same engine state.
package db

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/ini.v1"

	"github.com/sonarlab/hydrodb/internal/channel"
	"github.com/sonarlab/hydrodb/internal/param"
	"github.com/sonarlab/hydrodb/pkg/errors"
	"github.com/sonarlab/hydrodb/pkg/filesys"
	"github.com/sonarlab/hydrodb/pkg/options"
)

// apiVersion is stored in project and track markers; directories whose
// marker carries a different version are not recognized as objects.
const apiVersion = 20150700

const (
	projectMarker = "project"
	trackMarker   = "track"
)

// DB is the namespace manager. All namespace state is guarded by one mutex;
// per-channel serialization happens inside the channel engines themselves.
type DB struct {
	log  *zap.SugaredLogger
	opts *options.Options
	fs   afero.Fs
	path string // Base directory holding project directories.

	closed atomic.Bool

	mu       sync.Mutex
	nextID   int32
	projects map[int32]*projectInfo
	tracks   map[int32]*trackInfo
	channels map[int32]*channelInfo
	params   map[int32]*paramInfo
}

type projectInfo struct {
	name string
	path string
	refs int
}

type trackInfo struct {
	project string
	name    string
	path    string
	refs    int
}

type channelInfo struct {
	project  string
	track    string
	name     string
	path     string
	readonly bool
	refs     int
	channel  *channel.Channel
}

type paramInfo struct {
	project string
	track   string // Empty for project-level groups.
	group   string
	path    string
	refs    int
	param   *param.Param
}

// Config holds the parameters needed to initialize a DB instance.
type Config struct {
	Options *options.Options
	Logger  *zap.SugaredLogger
}

// New creates a namespace manager rooted at the configured data directory,
// creating the directory if needed.
func New(ctx context.Context, config *Config) (*DB, error) {
	if config == nil || config.Options == nil || config.Logger == nil {
		return nil, errors.NewValidationError(
			nil, errors.ErrorCodeInvalidInput, "DB configuration is required",
		).WithField("config").WithRule("required").WithProvided(config)
	}

	db := &DB{
		log:      config.Logger,
		opts:     config.Options,
		fs:       config.Options.Fs,
		path:     config.Options.DataDir,
		nextID:   1,
		projects: make(map[int32]*projectInfo),
		tracks:   make(map[int32]*trackInfo),
		channels: make(map[int32]*channelInfo),
		params:   make(map[int32]*paramInfo),
	}

	if err := filesys.CreateDir(db.fs, db.path, 0755, true); err != nil {
		return nil, errors.ClassifyDirectoryCreationError(err, db.path)
	}

	db.log.Infow("Namespace manager initialized", "dataDir", db.path)

	return db, nil
}

// Close releases every open object. The DB must not be used afterwards.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return errors.NewValidationError(
			nil, errors.ErrorCodeInvalidInput, "DB is already closed",
		).WithField("db").WithRule("open")
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	var err error
	for id, info := range db.channels {
		err = multierr.Append(err, info.channel.Close())
		delete(db.channels, id)
	}
	clear(db.params)
	clear(db.tracks)
	clear(db.projects)

	db.log.Infow("Namespace manager closed")

	return err
}

// ProjectList returns the names of all directories under the base path that
// contain a valid project marker.
func (db *DB) ProjectList() ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	names, err := filesys.ReadSubdirNames(db.fs, db.path)
	if err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to list projects").
			WithPath(db.path)
	}

	var projects []string
	for _, name := range names {
		if db.isProject(filepath.Join(db.path, name)) {
			projects = append(projects, name)
		}
	}

	return projects, nil
}

// OpenProject opens a project for work and returns its handle. Opening an
// already open project shares the existing instance.
func (db *DB) OpenProject(name string) (int32, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.openProject(name)
}

func (db *DB) openProject(name string) (int32, error) {
	for id, info := range db.projects {
		if info.name == name {
			info.refs++
			return id, nil
		}
	}

	path := filepath.Join(db.path, name)
	if !db.isProject(path) {
		return 0, errors.NewValidationError(
			nil, errors.ErrorCodeNotFound, fmt.Sprintf("%q is not a project", name),
		).WithField("project").WithProvided(name)
	}

	id := db.issueID()
	db.projects[id] = &projectInfo{name: name, path: path, refs: 1}

	return id, nil
}

// CreateProject creates a new project directory with its marker file and
// opens it for work.
func (db *DB) CreateProject(name string) (int32, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	path := filepath.Join(db.path, name)
	if exists, err := filesys.Exists(db.fs, path); err != nil {
		return 0, errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to stat project directory").
			WithPath(path)
	} else if exists {
		return 0, errors.NewValidationError(
			nil, errors.ErrorCodeInvalidInput, fmt.Sprintf("Project %q already exists", name),
		).WithField("project").WithRule("unique").WithProvided(name)
	}

	if err := filesys.CreateDir(db.fs, path, 0755, false); err != nil {
		return 0, errors.ClassifyDirectoryCreationError(err, path)
	}
	if err := db.writeMarker(path, projectMarker); err != nil {
		return 0, err
	}

	db.log.Infow("Project created", "project", name)

	return db.openProject(name)
}

// CloseProject releases a project handle. The project stays open while other
// handles still reference it.
func (db *DB) CloseProject(projectID int32) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	info, ok := db.projects[projectID]
	if !ok {
		return db.unknownHandle("project", projectID)
	}

	info.refs--
	if info.refs == 0 {
		delete(db.projects, projectID)
	}

	return nil
}

// RemoveProject deletes a project directory with everything in it. Open
// handles to the project or any of its contents are force-closed first.
func (db *DB) RemoveProject(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.dropChannels(func(info *channelInfo) bool { return info.project == name })
	db.dropParams(func(info *paramInfo) bool { return info.project == name })
	for id, info := range db.tracks {
		if info.project == name {
			delete(db.tracks, id)
		}
	}
	for id, info := range db.projects {
		if info.name == name {
			delete(db.projects, id)
		}
	}

	path := filepath.Join(db.path, name)
	if !db.isProject(path) {
		return errors.NewValidationError(
			nil, errors.ErrorCodeNotFound, fmt.Sprintf("%q is not a project", name),
		).WithField("project").WithProvided(name)
	}

	if err := filesys.DeleteDir(db.fs, path); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to remove project directory").
			WithPath(path)
	}

	db.log.Infow("Project removed", "project", name)

	return nil
}

// TrackList returns the names of all track directories in the project.
func (db *DB) TrackList(projectID int32) ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	project, ok := db.projects[projectID]
	if !ok {
		return nil, db.unknownHandle("project", projectID)
	}

	names, err := filesys.ReadSubdirNames(db.fs, project.path)
	if err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to list tracks").
			WithPath(project.path)
	}

	var tracks []string
	for _, name := range names {
		if db.isTrack(filepath.Join(project.path, name)) {
			tracks = append(tracks, name)
		}
	}

	return tracks, nil
}

// OpenTrack opens a track for work and returns its handle.
func (db *DB) OpenTrack(projectID int32, name string) (int32, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	project, ok := db.projects[projectID]
	if !ok {
		return 0, db.unknownHandle("project", projectID)
	}

	return db.openTrack(project, name)
}

func (db *DB) openTrack(project *projectInfo, name string) (int32, error) {
	for id, info := range db.tracks {
		if info.project == project.name && info.name == name {
			info.refs++
			return id, nil
		}
	}

	path := filepath.Join(project.path, name)
	if !db.isTrack(path) {
		return 0, errors.NewValidationError(
			nil, errors.ErrorCodeNotFound,
			fmt.Sprintf("%q is not a track of project %q", name, project.name),
		).WithField("track").WithProvided(name)
	}

	id := db.issueID()
	db.tracks[id] = &trackInfo{project: project.name, name: name, path: path, refs: 1}

	return id, nil
}

// CreateTrack creates a new track directory with its marker file and opens
// it for work.
func (db *DB) CreateTrack(projectID int32, name string) (int32, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	project, ok := db.projects[projectID]
	if !ok {
		return 0, db.unknownHandle("project", projectID)
	}

	path := filepath.Join(project.path, name)
	if exists, err := filesys.Exists(db.fs, path); err != nil {
		return 0, errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to stat track directory").
			WithPath(path)
	} else if exists {
		return 0, errors.NewValidationError(
			nil, errors.ErrorCodeInvalidInput,
			fmt.Sprintf("Track %q already exists in project %q", name, project.name),
		).WithField("track").WithRule("unique").WithProvided(name)
	}

	if err := filesys.CreateDir(db.fs, path, 0755, false); err != nil {
		return 0, errors.ClassifyDirectoryCreationError(err, path)
	}
	if err := db.writeMarker(path, trackMarker); err != nil {
		return 0, err
	}

	db.log.Infow("Track created", "project", project.name, "track", name)

	return db.openTrack(project, name)
}

// CloseTrack releases a track handle.
func (db *DB) CloseTrack(trackID int32) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	info, ok := db.tracks[trackID]
	if !ok {
		return db.unknownHandle("track", trackID)
	}

	info.refs--
	if info.refs == 0 {
		delete(db.tracks, trackID)
	}

	return nil
}

// RemoveTrack deletes a track directory with everything in it. Open handles
// to the track's contents are force-closed first.
func (db *DB) RemoveTrack(projectID int32, name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	project, ok := db.projects[projectID]
	if !ok {
		return db.unknownHandle("project", projectID)
	}

	db.dropChannels(func(info *channelInfo) bool {
		return info.project == project.name && info.track == name
	})
	db.dropParams(func(info *paramInfo) bool {
		return info.project == project.name && info.track == name
	})
	for id, info := range db.tracks {
		if info.project == project.name && info.name == name {
			delete(db.tracks, id)
		}
	}

	path := filepath.Join(project.path, name)
	if !db.isTrack(path) {
		return errors.NewValidationError(
			nil, errors.ErrorCodeNotFound,
			fmt.Sprintf("%q is not a track of project %q", name, project.name),
		).WithField("track").WithProvided(name)
	}

	if err := filesys.DeleteDir(db.fs, path); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to remove track directory").
			WithPath(path)
	}

	db.log.Infow("Track removed", "project", project.name, "track", name)

	return nil
}

// issueID hands out the next handle. Must be called with the lock held.
func (db *DB) issueID() int32 {
	id := db.nextID
	db.nextID++
	return id
}

// isProject reports whether the directory carries a valid project marker.
func (db *DB) isProject(path string) bool {
	return db.checkMarker(path, projectMarker)
}

// isTrack reports whether the directory carries a valid track marker.
func (db *DB) isTrack(path string) bool {
	return db.checkMarker(path, trackMarker)
}

// checkMarker loads `{marker}.ini` inside the directory and verifies the
// stored API version.
func (db *DB) checkMarker(path, marker string) bool {
	data, err := afero.ReadFile(db.fs, filepath.Join(path, param.FileName(marker)))
	if err != nil {
		return false
	}

	file, err := ini.Load(data)
	if err != nil {
		return false
	}

	version, err := file.Section(marker).Key("version").Int64()
	return err == nil && version == apiVersion
}

// writeMarker creates the `{marker}.ini` file identifying the directory as a
// project or track.
func (db *DB) writeMarker(path, marker string) error {
	file := ini.Empty()
	file.Section(marker).Key("version").SetValue(fmt.Sprintf("%d", apiVersion))
	file.Section(marker).Key("ctime").SetValue(fmt.Sprintf("%d", time.Now().Unix()))

	var buf strings.Builder
	if _, err := file.WriteTo(&buf); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to serialize marker").
			WithPath(path)
	}

	markerPath := filepath.Join(path, param.FileName(marker))
	if err := afero.WriteFile(db.fs, markerPath, []byte(buf.String()), 0644); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to write marker file").
			WithPath(markerPath)
	}

	return nil
}

func (db *DB) unknownHandle(kind string, id int32) error {
	return errors.NewValidationError(
		nil, errors.ErrorCodeNotFound, fmt.Sprintf("Unknown %s handle", kind),
	).WithField(kind + "Id").WithProvided(id)
}
