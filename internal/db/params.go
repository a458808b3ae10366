package db

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sonarlab/hydrodb/internal/param"
	"github.com/sonarlab/hydrodb/pkg/errors"
	"github.com/sonarlab/hydrodb/pkg/filesys"
)

// ProjectParamList returns the parameter group names stored in the project
// directory.
func (db *DB) ProjectParamList(projectID int32) ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	project, ok := db.projects[projectID]
	if !ok {
		return nil, db.unknownHandle("project", projectID)
	}

	return db.directoryParamList(project.path, projectMarker)
}

// OpenProjectParam opens a project-level parameter group for work. The
// group file is created on first write. The marker name is reserved.
func (db *DB) OpenProjectParam(projectID int32, group string) (int32, error) {
	if group == projectMarker {
		return 0, db.reservedGroup(group)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	project, ok := db.projects[projectID]
	if !ok {
		return 0, db.unknownHandle("project", projectID)
	}

	return db.openParam(project.name, "", group, project.path)
}

// RemoveProjectParam deletes a project-level parameter group file.
// Open handles to the group are force-closed first.
func (db *DB) RemoveProjectParam(projectID int32, group string) error {
	if group == projectMarker {
		return db.reservedGroup(group)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	project, ok := db.projects[projectID]
	if !ok {
		return db.unknownHandle("project", projectID)
	}

	db.dropParams(func(info *paramInfo) bool {
		return info.project == project.name && info.track == "" && info.group == group
	})

	return db.removeParamFile(project.path, group)
}

// TrackParamList returns the parameter group names stored in the track
// directory. Groups shadowed by a channel of the same name are not listed;
// they belong to the channel.
func (db *DB) TrackParamList(trackID int32) ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	track, ok := db.tracks[trackID]
	if !ok {
		return nil, db.unknownHandle("track", trackID)
	}

	return db.directoryParamList(track.path, trackMarker)
}

// OpenTrackParam opens a track-level parameter group for work. The marker
// name is reserved.
func (db *DB) OpenTrackParam(trackID int32, group string) (int32, error) {
	if group == trackMarker {
		return 0, db.reservedGroup(group)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	track, ok := db.tracks[trackID]
	if !ok {
		return 0, db.unknownHandle("track", trackID)
	}

	return db.openParam(track.project, track.name, group, track.path)
}

// RemoveTrackParam deletes a track-level parameter group file. Open handles
// to the group are force-closed first. The group of an existing channel
// cannot be removed; it is deleted together with the channel.
func (db *DB) RemoveTrackParam(trackID int32, group string) error {
	if group == trackMarker {
		return db.reservedGroup(group)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	track, ok := db.tracks[trackID]
	if !ok {
		return db.unknownHandle("track", trackID)
	}

	if db.channelExists(track.path, group) {
		return errors.NewValidationError(
			nil, errors.ErrorCodeInvalidInput,
			fmt.Sprintf("%q is the parameter group of a channel", group),
		).WithField("group").WithRule("channel").WithProvided(group)
	}

	db.dropParams(func(info *paramInfo) bool {
		return info.project == track.project && info.track == track.name && info.group == group
	})

	return db.removeParamFile(track.path, group)
}

// CloseParam releases a parameter group handle.
func (db *DB) CloseParam(paramID int32) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	info, ok := db.params[paramID]
	if !ok {
		return db.unknownHandle("param", paramID)
	}

	info.refs--
	if info.refs == 0 {
		delete(db.params, paramID)
	}

	return nil
}

// ParamList returns every parameter in the group as "group.key" names.
func (db *DB) ParamList(paramID int32) ([]string, error) {
	p, err := db.lookupParam(paramID)
	if err != nil {
		return nil, err
	}
	return p.List(), nil
}

// HasParam reports whether the named parameter exists in the group.
func (db *DB) HasParam(paramID int32, name string) (bool, error) {
	p, err := db.lookupParam(paramID)
	if err != nil {
		return false, err
	}
	return p.Has(name), nil
}

// RemoveParam deletes every parameter matching the glob mask.
func (db *DB) RemoveParam(paramID int32, mask string) error {
	p, err := db.lookupParam(paramID)
	if err != nil {
		return err
	}
	return p.Remove(mask)
}

// SetIntegerParam stores an integer parameter.
func (db *DB) SetIntegerParam(paramID int32, name string, value int64) error {
	p, err := db.lookupParam(paramID)
	if err != nil {
		return err
	}
	return p.SetInteger(name, value)
}

// IncIntegerParam increments an integer parameter and returns the new value.
func (db *DB) IncIntegerParam(paramID int32, name string) (int64, error) {
	p, err := db.lookupParam(paramID)
	if err != nil {
		return 0, err
	}
	return p.IncInteger(name)
}

// SetDoubleParam stores a floating point parameter.
func (db *DB) SetDoubleParam(paramID int32, name string, value float64) error {
	p, err := db.lookupParam(paramID)
	if err != nil {
		return err
	}
	return p.SetDouble(name, value)
}

// SetBooleanParam stores a boolean parameter.
func (db *DB) SetBooleanParam(paramID int32, name string, value bool) error {
	p, err := db.lookupParam(paramID)
	if err != nil {
		return err
	}
	return p.SetBoolean(name, value)
}

// SetStringParam stores a string parameter.
func (db *DB) SetStringParam(paramID int32, name string, value string) error {
	p, err := db.lookupParam(paramID)
	if err != nil {
		return err
	}
	return p.SetString(name, value)
}

// GetIntegerParam returns an integer parameter, or zero when missing.
func (db *DB) GetIntegerParam(paramID int32, name string) (int64, error) {
	p, err := db.lookupParam(paramID)
	if err != nil {
		return 0, err
	}
	return p.GetInteger(name), nil
}

// GetDoubleParam returns a floating point parameter, or zero when missing.
func (db *DB) GetDoubleParam(paramID int32, name string) (float64, error) {
	p, err := db.lookupParam(paramID)
	if err != nil {
		return 0, err
	}
	return p.GetDouble(name), nil
}

// GetBooleanParam returns a boolean parameter, or false when missing.
func (db *DB) GetBooleanParam(paramID int32, name string) (bool, error) {
	p, err := db.lookupParam(paramID)
	if err != nil {
		return false, err
	}
	return p.GetBoolean(name), nil
}

// GetStringParam returns a string parameter, or "" when missing.
func (db *DB) GetStringParam(paramID int32, name string) (string, error) {
	p, err := db.lookupParam(paramID)
	if err != nil {
		return "", err
	}
	return p.GetString(name), nil
}

// openParam shares an already open group or opens the file. Project and
// track groups are always writable. Must be called with the lock held.
func (db *DB) openParam(project, track, group, path string) (int32, error) {
	for id, info := range db.params {
		if info.project == project && info.track == track && info.group == group {
			info.refs++
			return id, nil
		}
	}

	p, err := param.New(&param.Config{
		Path:   path,
		Name:   group,
		Fs:     db.fs,
		Logger: db.log,
	})
	if err != nil {
		return 0, err
	}

	id := db.issueID()
	db.params[id] = &paramInfo{
		project: project,
		track:   track,
		group:   group,
		path:    path,
		refs:    1,
		param:   p,
	}

	return id, nil
}

// lookupParam resolves a handle to its parameter group.
func (db *DB) lookupParam(paramID int32) (*param.Param, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	info, ok := db.params[paramID]
	if !ok {
		return nil, db.unknownHandle("param", paramID)
	}
	return info.param, nil
}

// directoryParamList names every `.ini` file in the directory that is not
// the reserved marker and is not shadowed by a channel of the same name.
func (db *DB) directoryParamList(path, reserved string) ([]string, error) {
	names, err := filesys.ReadDirNames(db.fs, path)
	if err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to list parameter groups").
			WithPath(path)
	}

	var groups []string
	for _, fileName := range names {
		if isDir, err := filesys.IsDir(db.fs, filepath.Join(path, fileName)); err != nil || isDir {
			continue
		}
		group, found := strings.CutSuffix(fileName, param.FileExtension)
		if !found || group == "" || strings.Contains(group, ".") {
			continue
		}
		if group == reserved {
			continue
		}
		if db.channelExists(path, group) {
			continue
		}
		groups = append(groups, group)
	}

	return groups, nil
}

// removeParamFile deletes a group file if it exists. A missing file is fine;
// the group simply had no stored parameters.
func (db *DB) removeParamFile(path, group string) error {
	filePath := filepath.Join(path, param.FileName(group))

	exists, err := filesys.Exists(db.fs, filePath)
	if err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to stat parameter file").
			WithPath(filePath)
	}
	if !exists {
		return nil
	}

	if err := db.fs.Remove(filePath); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to remove parameter file").
			WithPath(filePath)
	}

	return nil
}

func (db *DB) reservedGroup(group string) error {
	return errors.NewValidationError(
		nil, errors.ErrorCodeInvalidInput,
		fmt.Sprintf("%q is a reserved parameter group name", group),
	).WithField("group").WithRule("reserved").WithProvided(group)
}
