// Package hydrodb provides an embedded, append-only time-series store
// organized around a hierarchical namespace: projects contain tracks, tracks
// contain channels, and every channel is a segmented time-indexed binary log.
// Projects, tracks and channels additionally carry key/value parameter
// groups stored as INI text.
//
// The store is designed for continuously arriving sensor data: records are
// appended with strictly increasing timestamps, read back by index, and
// located by time through bisection. Retention bounds the on-disk footprint
// per channel by age and volume.
//
// Instance is the primary entry point. All objects are addressed by integer
// handles, which keeps the surface uniform for in-process use and makes it
// directly marshalable over a transport.
package hydrodb

import (
	"context"

	"github.com/sonarlab/hydrodb/internal/channel"
	"github.com/sonarlab/hydrodb/internal/db"
	"github.com/sonarlab/hydrodb/pkg/logger"
	"github.com/sonarlab/hydrodb/pkg/options"
)

// FindResult re-exports the outcome type of channel time searches.
type FindResult = channel.FindResult

// Bound re-exports one endpoint of a find result.
type Bound = channel.Bound

// Find outcome kinds.
const (
	FindExact   = channel.FindExact
	FindBefore  = channel.FindBefore
	FindAfter   = channel.FindAfter
	FindBetween = channel.FindBetween
)

// Instance represents one hydrodb store rooted at a data directory.
type Instance struct {
	db      *db.DB
	options *options.Options
}

// NewInstance creates and initializes a hydrodb store.
func NewInstance(ctx context.Context, service string, opts ...options.OptionFunc) (*Instance, error) {
	log := logger.New(service)

	defaultOpts := options.NewDefaultOptions()
	for _, opt := range opts {
		opt(&defaultOpts)
	}

	database, err := db.New(ctx, &db.Config{Logger: log, Options: &defaultOpts})
	if err != nil {
		return nil, err
	}

	return &Instance{db: database, options: &defaultOpts}, nil
}

// ProjectList returns the names of all projects in the store.
func (i *Instance) ProjectList() ([]string, error) {
	return i.db.ProjectList()
}

// OpenProject opens a project and returns its handle.
func (i *Instance) OpenProject(name string) (int32, error) {
	return i.db.OpenProject(name)
}

// CreateProject creates a project and returns its handle.
func (i *Instance) CreateProject(name string) (int32, error) {
	return i.db.CreateProject(name)
}

// CloseProject releases a project handle.
func (i *Instance) CloseProject(projectID int32) error {
	return i.db.CloseProject(projectID)
}

// RemoveProject deletes a project and everything in it.
func (i *Instance) RemoveProject(name string) error {
	return i.db.RemoveProject(name)
}

// TrackList returns the names of all tracks in a project.
func (i *Instance) TrackList(projectID int32) ([]string, error) {
	return i.db.TrackList(projectID)
}

// OpenTrack opens a track and returns its handle.
func (i *Instance) OpenTrack(projectID int32, name string) (int32, error) {
	return i.db.OpenTrack(projectID, name)
}

// CreateTrack creates a track and returns its handle.
func (i *Instance) CreateTrack(projectID int32, name string) (int32, error) {
	return i.db.CreateTrack(projectID, name)
}

// CloseTrack releases a track handle.
func (i *Instance) CloseTrack(trackID int32) error {
	return i.db.CloseTrack(trackID)
}

// RemoveTrack deletes a track and everything in it.
func (i *Instance) RemoveTrack(projectID int32, name string) error {
	return i.db.RemoveTrack(projectID, name)
}

// ChannelList returns the names of all channels in a track.
func (i *Instance) ChannelList(trackID int32) ([]string, error) {
	return i.db.ChannelList(trackID)
}

// OpenChannel opens an existing channel read-only and returns its handle.
func (i *Instance) OpenChannel(ctx context.Context, trackID int32, name string) (int32, error) {
	return i.db.OpenChannel(ctx, trackID, name)
}

// CreateChannel creates a new writable channel and returns its handle.
func (i *Instance) CreateChannel(ctx context.Context, trackID int32, name string) (int32, error) {
	return i.db.CreateChannel(ctx, trackID, name)
}

// CloseChannel releases a channel handle.
func (i *Instance) CloseChannel(channelID int32) error {
	return i.db.CloseChannel(channelID)
}

// RemoveChannel deletes a channel's files, including its parameter group.
func (i *Instance) RemoveChannel(trackID int32, name string) error {
	return i.db.RemoveChannel(trackID, name)
}

// AppendChannelData writes one timestamped record and returns its index.
// Timestamps are microseconds and must strictly increase per channel.
func (i *Instance) AppendChannelData(channelID int32, time int64, data []byte) (int32, error) {
	return i.db.AppendChannelData(channelID, time, data)
}

// GetChannelData reads the record at the given index into buf, returning the
// byte count and the record timestamp. With a nil buf only the record size
// and timestamp are returned.
func (i *Instance) GetChannelData(channelID int32, index int32, buf []byte) (int, int64, error) {
	return i.db.GetChannelData(channelID, index, buf)
}

// GetChannelDataRange returns the first and last record indices of a channel.
func (i *Instance) GetChannelDataRange(channelID int32) (int32, int32, error) {
	return i.db.GetChannelDataRange(channelID)
}

// FindChannelData locates a timestamp within a channel's records.
func (i *Instance) FindChannelData(channelID int32, time int64) (FindResult, error) {
	return i.db.FindChannelData(channelID, time)
}

// SetChannelChunkSize updates a channel's maximum data file size.
func (i *Instance) SetChannelChunkSize(channelID int32, size int32) error {
	return i.db.SetChannelChunkSize(channelID, size)
}

// SetChannelSaveTime updates a channel's retention interval, microseconds.
func (i *Instance) SetChannelSaveTime(channelID int32, interval int64) error {
	return i.db.SetChannelSaveTime(channelID, interval)
}

// SetChannelSaveSize updates a channel's retention volume bound, bytes.
func (i *Instance) SetChannelSaveSize(channelID int32, size int64) error {
	return i.db.SetChannelSaveSize(channelID, size)
}

// FinalizeChannel irreversibly flips a channel to read-only.
func (i *Instance) FinalizeChannel(channelID int32) error {
	return i.db.FinalizeChannel(channelID)
}

// OpenChannelParam opens a channel's attached parameter group.
func (i *Instance) OpenChannelParam(channelID int32) (int32, error) {
	return i.db.OpenChannelParam(channelID)
}

// ProjectParamList returns a project's parameter group names.
func (i *Instance) ProjectParamList(projectID int32) ([]string, error) {
	return i.db.ProjectParamList(projectID)
}

// OpenProjectParam opens a project-level parameter group.
func (i *Instance) OpenProjectParam(projectID int32, group string) (int32, error) {
	return i.db.OpenProjectParam(projectID, group)
}

// RemoveProjectParam deletes a project-level parameter group.
func (i *Instance) RemoveProjectParam(projectID int32, group string) error {
	return i.db.RemoveProjectParam(projectID, group)
}

// TrackParamList returns a track's parameter group names.
func (i *Instance) TrackParamList(trackID int32) ([]string, error) {
	return i.db.TrackParamList(trackID)
}

// OpenTrackParam opens a track-level parameter group.
func (i *Instance) OpenTrackParam(trackID int32, group string) (int32, error) {
	return i.db.OpenTrackParam(trackID, group)
}

// RemoveTrackParam deletes a track-level parameter group.
func (i *Instance) RemoveTrackParam(trackID int32, group string) error {
	return i.db.RemoveTrackParam(trackID, group)
}

// CloseParam releases a parameter group handle.
func (i *Instance) CloseParam(paramID int32) error {
	return i.db.CloseParam(paramID)
}

// ParamList returns every parameter of a group as "group.key" names.
func (i *Instance) ParamList(paramID int32) ([]string, error) {
	return i.db.ParamList(paramID)
}

// HasParam reports whether the named parameter exists.
func (i *Instance) HasParam(paramID int32, name string) (bool, error) {
	return i.db.HasParam(paramID, name)
}

// RemoveParam deletes parameters matching a glob mask.
func (i *Instance) RemoveParam(paramID int32, mask string) error {
	return i.db.RemoveParam(paramID, mask)
}

// SetIntegerParam stores an integer parameter.
func (i *Instance) SetIntegerParam(paramID int32, name string, value int64) error {
	return i.db.SetIntegerParam(paramID, name, value)
}

// IncIntegerParam increments an integer parameter and returns the new value.
func (i *Instance) IncIntegerParam(paramID int32, name string) (int64, error) {
	return i.db.IncIntegerParam(paramID, name)
}

// SetDoubleParam stores a floating point parameter.
func (i *Instance) SetDoubleParam(paramID int32, name string, value float64) error {
	return i.db.SetDoubleParam(paramID, name, value)
}

// SetBooleanParam stores a boolean parameter.
func (i *Instance) SetBooleanParam(paramID int32, name string, value bool) error {
	return i.db.SetBooleanParam(paramID, name, value)
}

// SetStringParam stores a string parameter.
func (i *Instance) SetStringParam(paramID int32, name string, value string) error {
	return i.db.SetStringParam(paramID, name, value)
}

// GetIntegerParam returns an integer parameter, or zero when missing.
func (i *Instance) GetIntegerParam(paramID int32, name string) (int64, error) {
	return i.db.GetIntegerParam(paramID, name)
}

// GetDoubleParam returns a floating point parameter, or zero when missing.
func (i *Instance) GetDoubleParam(paramID int32, name string) (float64, error) {
	return i.db.GetDoubleParam(paramID, name)
}

// GetBooleanParam returns a boolean parameter, or false when missing.
func (i *Instance) GetBooleanParam(paramID int32, name string) (bool, error) {
	return i.db.GetBooleanParam(paramID, name)
}

// GetStringParam returns a string parameter, or "" when missing.
func (i *Instance) GetStringParam(paramID int32, name string) (string, error) {
	return i.db.GetStringParam(paramID, name)
}

// Close shuts the store down, releasing every open object.
func (i *Instance) Close(ctx context.Context) error {
	return i.db.Close()
}
