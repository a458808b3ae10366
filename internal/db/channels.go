package db

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sonarlab/hydrodb/internal/channel"
	"github.com/sonarlab/hydrodb/internal/param"
	"github.com/sonarlab/hydrodb/internal/segment"
	"github.com/sonarlab/hydrodb/pkg/errors"
	"github.com/sonarlab/hydrodb/pkg/filesys"
	"github.com/sonarlab/hydrodb/pkg/options"
)

// ChannelList returns the names of all channels recorded in the track.
// A channel exists when both files of its part zero are present.
func (db *DB) ChannelList(trackID int32) ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	track, ok := db.tracks[trackID]
	if !ok {
		return nil, db.unknownHandle("track", trackID)
	}

	names, err := filesys.ReadDirNames(db.fs, track.path)
	if err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to list channels").
			WithPath(track.path)
	}

	var channels []string
	for _, fileName := range names {
		name, found := strings.CutSuffix(fileName, ".000000.d")
		if !found || name == "" {
			continue
		}
		if db.channelExists(track.path, name) {
			channels = append(channels, name)
		}
	}

	return channels, nil
}

// OpenChannel opens an existing channel read-only and returns its handle.
func (db *DB) OpenChannel(ctx context.Context, trackID int32, name string) (int32, error) {
	return db.openChannelInternal(ctx, trackID, name, true)
}

// CreateChannel creates a new writable channel and returns its handle.
// The channel must not already exist.
func (db *DB) CreateChannel(ctx context.Context, trackID int32, name string) (int32, error) {
	return db.openChannelInternal(ctx, trackID, name, false)
}

func (db *DB) openChannelInternal(ctx context.Context, trackID int32, name string, readonly bool) (int32, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	track, ok := db.tracks[trackID]
	if !ok {
		return 0, db.unknownHandle("track", trackID)
	}

	// An already open channel can be shared by readers; asking to create it
	// again is an error.
	for id, info := range db.channels {
		if info.project == track.project && info.track == track.name && info.name == name {
			if !readonly {
				return 0, errors.NewValidationError(
					nil, errors.ErrorCodeInvalidInput,
					fmt.Sprintf("Channel %q is already open for writing", name),
				).WithField("channel").WithRule("unique").WithProvided(name)
			}
			info.refs++
			return id, nil
		}
	}

	if db.channelExists(track.path, name) != readonly {
		if readonly {
			return 0, errors.NewValidationError(
				nil, errors.ErrorCodeNotFound, fmt.Sprintf("No such channel %q", name),
			).WithField("channel").WithProvided(name)
		}
		return 0, errors.NewValidationError(
			nil, errors.ErrorCodeInvalidInput, fmt.Sprintf("Channel %q already exists", name),
		).WithField("channel").WithRule("unique").WithProvided(name)
	}

	ch, err := channel.New(ctx, &channel.Config{
		Path:     track.path,
		Name:     name,
		ReadOnly: readonly,
		Options:  db.opts,
		Logger:   db.log,
	})
	if err != nil {
		return 0, err
	}

	id := db.issueID()
	db.channels[id] = &channelInfo{
		project:  track.project,
		track:    track.name,
		name:     name,
		path:     track.path,
		readonly: readonly,
		refs:     1,
		channel:  ch,
	}

	return id, nil
}

// CloseChannel releases a channel handle; the engine closes once the last
// handle is gone.
func (db *DB) CloseChannel(channelID int32) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	info, ok := db.channels[channelID]
	if !ok {
		return db.unknownHandle("channel", channelID)
	}

	info.refs--
	if info.refs > 0 {
		return nil
	}

	delete(db.channels, channelID)
	return info.channel.Close()
}

// RemoveChannel deletes every file belonging to the channel: its parameter
// group and all part files. Open handles are force-closed first.
func (db *DB) RemoveChannel(trackID int32, name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	track, ok := db.tracks[trackID]
	if !ok {
		return db.unknownHandle("track", trackID)
	}

	db.dropChannels(func(info *channelInfo) bool {
		return info.project == track.project && info.track == track.name && info.name == name
	})
	db.dropParams(func(info *paramInfo) bool {
		return info.project == track.project && info.track == track.name && info.group == name
	})

	if err := db.removeChannelFiles(track.path, name); err != nil {
		return err
	}

	db.log.Infow("Channel removed",
		"project", track.project, "track", track.name, "channel", name)

	return nil
}

// OpenChannelParam opens the channel's attached parameter group. The group
// inherits the channel's read-only state.
func (db *DB) OpenChannelParam(channelID int32) (int32, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	info, ok := db.channels[channelID]
	if !ok {
		return 0, db.unknownHandle("channel", channelID)
	}

	for id, pi := range db.params {
		if pi.project == info.project && pi.track == info.track && pi.group == info.name {
			pi.refs++
			return id, nil
		}
	}

	p, err := param.New(&param.Config{
		Path:     info.path,
		Name:     info.name,
		ReadOnly: info.readonly,
		Fs:       db.fs,
		Logger:   db.log,
	})
	if err != nil {
		return 0, err
	}

	id := db.issueID()
	db.params[id] = &paramInfo{
		project: info.project,
		track:   info.track,
		group:   info.name,
		path:    info.path,
		refs:    1,
		param:   p,
	}

	return id, nil
}

// AppendChannelData writes one record to the channel and returns its index.
func (db *DB) AppendChannelData(channelID int32, time int64, data []byte) (int32, error) {
	ch, err := db.lookupChannel(channelID)
	if err != nil {
		return 0, err
	}
	return ch.Append(time, data)
}

// GetChannelData reads the record at the given index. With a nil buf only
// the record size and timestamp are returned.
func (db *DB) GetChannelData(channelID int32, index int32, buf []byte) (int, int64, error) {
	ch, err := db.lookupChannel(channelID)
	if err != nil {
		return 0, 0, err
	}
	return ch.Read(index, buf)
}

// GetChannelDataRange returns the first and last record indices of the channel.
func (db *DB) GetChannelDataRange(channelID int32) (int32, int32, error) {
	ch, err := db.lookupChannel(channelID)
	if err != nil {
		return 0, 0, err
	}
	return ch.Range()
}

// FindChannelData locates a timestamp within the channel's records.
func (db *DB) FindChannelData(channelID int32, time int64) (channel.FindResult, error) {
	ch, err := db.lookupChannel(channelID)
	if err != nil {
		return channel.FindResult{}, err
	}
	return ch.Find(time)
}

// SetChannelChunkSize updates the channel's maximum data file size.
func (db *DB) SetChannelChunkSize(channelID int32, size int32) error {
	ch, err := db.lookupChannel(channelID)
	if err != nil {
		return err
	}
	return ch.SetMaxSegmentSize(size)
}

// SetChannelSaveTime updates the channel's retention interval, microseconds.
func (db *DB) SetChannelSaveTime(channelID int32, interval int64) error {
	ch, err := db.lookupChannel(channelID)
	if err != nil {
		return err
	}
	return ch.SetRetentionTime(interval)
}

// SetChannelSaveSize updates the channel's retention volume bound, bytes.
func (db *DB) SetChannelSaveSize(channelID int32, size int64) error {
	ch, err := db.lookupChannel(channelID)
	if err != nil {
		return err
	}
	return ch.SetRetentionSize(size)
}

// FinalizeChannel irreversibly flips the channel to read-only.
func (db *DB) FinalizeChannel(channelID int32) error {
	ch, err := db.lookupChannel(channelID)
	if err != nil {
		return err
	}
	ch.Finalize()
	return nil
}

// ChannelIsWritable reports whether the channel currently accepts appends.
func (db *DB) ChannelIsWritable(channelID int32) (bool, error) {
	ch, err := db.lookupChannel(channelID)
	if err != nil {
		return false, err
	}
	return ch.IsWritable(), nil
}

// lookupChannel resolves a handle to its engine. The engine is returned
// outside the namespace lock; it serializes its own operations.
func (db *DB) lookupChannel(channelID int32) (*channel.Channel, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	info, ok := db.channels[channelID]
	if !ok {
		return nil, db.unknownHandle("channel", channelID)
	}
	return info.channel, nil
}

// channelExists reports whether both part-zero files of the channel are
// present in the directory.
func (db *DB) channelExists(path, name string) bool {
	for _, fileName := range []string{
		segment.IndexFileName(name, 0),
		segment.DataFileName(name, 0),
	} {
		exists, err := filesys.Exists(db.fs, filepath.Join(path, fileName))
		if err != nil || !exists {
			return false
		}
	}
	return true
}

// removeChannelFiles deletes the channel's parameter file and every part
// file pair, walking part numbers until a gap.
func (db *DB) removeChannelFiles(path, name string) error {
	paramPath := filepath.Join(path, param.FileName(name))
	if exists, err := filesys.Exists(db.fs, paramPath); err == nil && exists {
		if err := db.fs.Remove(paramPath); err != nil {
			return errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to remove channel parameters").
				WithPath(paramPath)
		}
	}

	for part := 0; part < options.MaxParts; part++ {
		indexPath := filepath.Join(path, segment.IndexFileName(name, part))
		dataPath := filepath.Join(path, segment.DataFileName(name, part))

		indexExists, _ := filesys.Exists(db.fs, indexPath)
		dataExists, _ := filesys.Exists(db.fs, dataPath)
		if !indexExists && !dataExists {
			break
		}

		if indexExists {
			if err := db.fs.Remove(indexPath); err != nil {
				return errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to remove index file").
					WithPath(indexPath)
			}
		}
		if dataExists {
			if err := db.fs.Remove(dataPath); err != nil {
				return errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to remove data file").
					WithPath(dataPath)
			}
		}
	}

	return nil
}

// dropChannels force-closes every open channel matching the predicate.
// Must be called with the lock held.
func (db *DB) dropChannels(match func(*channelInfo) bool) {
	for id, info := range db.channels {
		if match(info) {
			info.channel.Close()
			delete(db.channels, id)
		}
	}
}

// dropParams force-closes every open parameter group matching the predicate.
// Must be called with the lock held.
func (db *DB) dropParams(match func(*paramInfo) bool) {
	for id, info := range db.params {
		if match(info) {
			delete(db.params, id)
		}
	}
}
