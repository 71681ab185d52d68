// Package settings holds tiercache's immutable configuration: the
// eviction strategy, L1/L2 size bounds, and the L2 directory. Loading
// these values from a property file is an external collaborator's job;
// this package only validates them.
package settings

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/kvtier/tiercache/tiererr"
)

// Strategy selects the L1 eviction policy.
type Strategy string

// Supported strategies.
const (
	FIFO Strategy = "FIFO"
	LRU  Strategy = "LRU"
	LFU  Strategy = "LFU"
)

var validate = validator.New()

// Settings is tiercache's immutable configuration.
//
// Construct via New, which validates; the zero value is not guaranteed to
// satisfy the invariants below and should not be used directly.
type Settings struct {
	// Strategy selects the L1 eviction policy.
	Strategy Strategy `validate:"required,oneof=FIFO LRU LFU"`

	// MemMax bounds the number of entries L1 may hold.
	MemMax uint64 `validate:"gte=5,lte=1000000"`

	// FsMax bounds the total bytes L2's log files may occupy.
	FsMax int64 `validate:"gte=100,lte=1000000"`

	// FsFiles bounds the number of log files L2 may keep.
	FsFiles int `validate:"gte=2,lte=1000"`

	// FsDir is the directory L2's log files live in. Must already exist.
	FsDir string `validate:"required"`
}

// New validates s and returns it, or a *tiererr.ConfigError describing
// the first violation.
//
// Beyond the per-field struct tags, one cross-field invariant is checked
// that the validator tag language cannot express directly:
// FsMax/FsFiles >= 100 (each log file must be able to hold at least a
// reasonably sized record).
func New(s Settings) (Settings, error) {
	if err := validate.Struct(s); err != nil {
		return Settings{}, &tiererr.ConfigError{Cause: err}
	}

	if s.FsMax/int64(s.FsFiles) < 100 {
		return Settings{}, &tiererr.ConfigError{Cause: fmt.Errorf(
			"fsMax/fsFiles must be >= 100, got %d/%d = %d", s.FsMax, s.FsFiles, s.FsMax/int64(s.FsFiles))}
	}

	if info, err := os.Stat(s.FsDir); err != nil || !info.IsDir() {
		return Settings{}, &tiererr.ConfigError{Cause: fmt.Errorf("fsDir %q is not an existing directory", s.FsDir)}
	}

	return s, nil
}

// FileMax is the per-file byte budget derived from FsMax and FsFiles.
// No single record may be >= this size.
func (s Settings) FileMax() int64 {
	return s.FsMax / int64(s.FsFiles)
}
