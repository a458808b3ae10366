// Package param implements key/value parameter groups serialized as INI text.
//
// One parameter group is one `{name}.ini` file in the owning object's
// directory. INI sections are parameter groups; parameter names are addressed
// as "group.key", with a bare "key" resolving to the "default" group. Typed
// accessors cover the four value kinds the store supports: integer, double,
// boolean and string.
//
// Every mutation rewrites the whole file, in the manner of the original
// store. Missing parameters read as zero values. Read-only groups reject
// setters; I/O and parse failures set a sticky failure flag that permanently
// rejects operations.
package param

import (
	"bytes"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gopkg.in/ini.v1"

	"github.com/sonarlab/hydrodb/pkg/errors"
	"github.com/sonarlab/hydrodb/pkg/filesys"
)

// DefaultGroup is the section a bare parameter name resolves into.
const DefaultGroup = "default"

// FileExtension is the on-disk suffix of parameter group files.
const FileExtension = ".ini"

// Param is one parameter group backed by a single INI file.
type Param struct {
	path string // Directory holding the group file.
	name string // Group name; the file name without extension.
	file string // Full path of the group file.

	log *zap.SugaredLogger
	fs  afero.Fs

	mu       sync.Mutex
	readonly bool
	failed   bool

	params *ini.File
}

// Config holds the parameters needed to open a parameter group.
type Config struct {
	// Path is the directory the group file lives in.
	Path string

	// Name is the group name used as the file name.
	Name string

	// ReadOnly rejects all setters.
	ReadOnly bool

	Fs     afero.Fs
	Logger *zap.SugaredLogger
}

// FileName returns the on-disk file name for a parameter group.
func FileName(name string) string {
	return name + FileExtension
}

// New opens a parameter group, loading the INI file if it exists. A missing
// file is an empty group; an unreadable or unparsable file puts the group
// into the sticky failed state.
func New(config *Config) (*Param, error) {
	if config == nil || config.Name == "" || config.Path == "" ||
		config.Fs == nil || config.Logger == nil {
		return nil, errors.NewValidationError(
			nil, errors.ErrorCodeInvalidInput, "Parameter group configuration is required",
		).WithField("config").WithRule("required").WithProvided(config)
	}

	p := &Param{
		path:     config.Path,
		name:     config.Name,
		file:     filepath.Join(config.Path, FileName(config.Name)),
		log:      config.Logger,
		fs:       config.Fs,
		readonly: config.ReadOnly,
		params:   ini.Empty(),
	}

	exists, err := filesys.Exists(p.fs, p.file)
	if err != nil {
		p.failed = true
		p.log.Errorw("Failed to stat parameter file", "file", p.file, "error", err)
		return p, nil
	}
	if exists {
		data, err := afero.ReadFile(p.fs, p.file)
		if err != nil {
			p.failed = true
			p.log.Errorw("Failed to read parameter file", "file", p.file, "error", err)
			return p, nil
		}
		loaded, err := ini.Load(data)
		if err != nil {
			p.failed = true
			p.log.Errorw("Failed to parse parameter file", "file", p.file, "error", err)
			return p, nil
		}
		p.params = loaded
	}

	return p, nil
}

// List returns every parameter as "group.key" names.
func (p *Param) List() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failed {
		return nil
	}

	var names []string
	for _, section := range p.params.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		for _, key := range section.KeyStrings() {
			names = append(names, section.Name()+"."+key)
		}
	}

	return names
}

// Has reports whether the named parameter exists.
func (p *Param) Has(name string) bool {
	group, key, err := parseName(name)
	if err != nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failed {
		return false
	}

	return p.params.Section(group).HasKey(key)
}

// Remove deletes every parameter whose "group.key" name matches the glob
// mask. Groups left without keys are dropped from the file.
func (p *Param) Remove(mask string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.guardWrite(); err != nil {
		return err
	}

	for _, section := range p.params.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		for _, key := range section.KeyStrings() {
			matched, err := path.Match(mask, section.Name()+"."+key)
			if err != nil {
				return errors.NewValidationError(
					err, errors.ErrorCodeInvalidInput, "Malformed parameter mask",
				).WithField("mask").WithRule("glob").WithProvided(mask)
			}
			if matched {
				section.DeleteKey(key)
			}
		}
		if len(section.KeyStrings()) == 0 {
			p.params.DeleteSection(section.Name())
		}
	}

	return p.flush()
}

// SetInteger stores an integer parameter.
func (p *Param) SetInteger(name string, value int64) error {
	return p.set(name, strconv.FormatInt(value, 10))
}

// IncInteger increments an integer parameter by one and returns the new
// value. A missing parameter starts from zero.
func (p *Param) IncInteger(name string) (int64, error) {
	group, key, err := parseName(name)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.guardWrite(); err != nil {
		return 0, err
	}

	value := p.params.Section(group).Key(key).MustInt64(0) + 1
	p.params.Section(group).Key(key).SetValue(strconv.FormatInt(value, 10))

	if err := p.flush(); err != nil {
		return 0, err
	}
	return value, nil
}

// SetDouble stores a floating point parameter.
func (p *Param) SetDouble(name string, value float64) error {
	return p.set(name, strconv.FormatFloat(value, 'g', -1, 64))
}

// SetBoolean stores a boolean parameter as a true/false literal.
func (p *Param) SetBoolean(name string, value bool) error {
	return p.set(name, strconv.FormatBool(value))
}

// SetString stores a string parameter.
func (p *Param) SetString(name string, value string) error {
	return p.set(name, value)
}

// GetInteger returns an integer parameter, or zero when missing or malformed.
func (p *Param) GetInteger(name string) int64 {
	group, key, err := parseName(name)
	if err != nil {
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failed {
		return 0
	}
	return p.params.Section(group).Key(key).MustInt64(0)
}

// GetDouble returns a floating point parameter, or zero when missing.
func (p *Param) GetDouble(name string) float64 {
	group, key, err := parseName(name)
	if err != nil {
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failed {
		return 0
	}
	return p.params.Section(group).Key(key).MustFloat64(0)
}

// GetBoolean returns a boolean parameter, or false when missing.
func (p *Param) GetBoolean(name string) bool {
	group, key, err := parseName(name)
	if err != nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failed {
		return false
	}
	return p.params.Section(group).Key(key).MustBool(false)
}

// GetString returns a string parameter, or the empty string when missing.
func (p *Param) GetString(name string) string {
	group, key, err := parseName(name)
	if err != nil {
		return ""
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failed {
		return ""
	}
	return p.params.Section(group).Key(key).String()
}

// Name returns the group name.
func (p *Param) Name() string {
	return p.name
}

// IsReadOnly reports whether setters are rejected.
func (p *Param) IsReadOnly() bool {
	return p.readonly
}

func (p *Param) set(name, value string) error {
	group, key, err := parseName(name)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.guardWrite(); err != nil {
		return err
	}

	p.params.Section(group).Key(key).SetValue(value)

	return p.flush()
}

// guardWrite checks the failed and read-only states. Must be called with the
// lock held.
func (p *Param) guardWrite() error {
	if p.failed {
		return errors.NewChannelError(
			nil, errors.ErrorCodeChannelFailed, "Parameter group is in the failed state",
		).WithChannel(p.name)
	}
	if p.readonly {
		return errors.NewChannelError(
			nil, errors.ErrorCodeReadOnly, "Cannot modify read-only parameter group",
		).WithChannel(p.name)
	}
	return nil
}

// flush rewrites the whole group file from the in-memory state. Must be
// called with the lock held. Failures are sticky.
func (p *Param) flush() error {
	var buf bytes.Buffer
	if _, err := p.params.WriteTo(&buf); err != nil {
		p.failed = true
		p.log.Errorw("Failed to serialize parameters", "file", p.file, "error", err)
		return errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to serialize parameters").
			WithPath(p.file)
	}

	if err := afero.WriteFile(p.fs, p.file, buf.Bytes(), 0644); err != nil {
		p.failed = true
		p.log.Errorw("Failed to write parameter file", "file", p.file, "error", err)
		return errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to write parameter file").
			WithPath(p.file)
	}

	return nil
}

// parseName splits a parameter name into its group and key components.
// A name without a group resolves to the default group.
func parseName(name string) (string, string, error) {
	parts := strings.Split(name, ".")

	switch {
	case len(parts) == 1 && parts[0] != "":
		return DefaultGroup, parts[0], nil
	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		return parts[0], parts[1], nil
	default:
		return "", "", errors.NewValidationError(
			nil, errors.ErrorCodeInvalidInput,
			fmt.Sprintf("Syntax error in parameter name %q", name),
		).WithField("name").WithRule("group.key").WithProvided(name)
	}
}
