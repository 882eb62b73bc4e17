package plot

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cleverdata/plotmover/internal/ledger"
	"github.com/cleverdata/plotmover/internal/logging"
	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
)

const DefaultExtension = ".plot"

// MinK32Size is the smallest size a finished k32 plot can have.
const MinK32Size int64 = 83 * 1000 * 1000 * 1000

// Candidate is a plot file found in a source directory.
type Candidate struct {
	Dir  string
	File string
	Size int64
}

func (c Candidate) Path() string {
	return filepath.Join(c.Dir, c.File)
}

// Scanner lists source directories for plots that are not yet reserved.
type Scanner struct {
	FS      afero.Fs
	Ext     string
	MinSize int64
	Logger  logging.Logger
}

func NewScanner(fs afero.Fs, minSize int64, logger logging.Logger) *Scanner {
	return &Scanner{
		FS:      fs,
		Ext:     DefaultExtension,
		MinSize: minSize,
		Logger:  logging.OrDiscard(logger),
	}
}

// Scan returns every plot in sources that is big enough and whose filename
// is not reserved. An unreadable directory is logged and skipped.
func (s *Scanner) Scan(sources []string, l ledger.Reserver) []Candidate {
	logger := logging.OrDiscard(s.Logger)
	ext := s.Ext
	if ext == "" {
		ext = DefaultExtension
	}

	var result []Candidate
	for _, dir := range sources {
		entries, err := afero.ReadDir(s.FS, dir)
		if err != nil {
			logger.Warningf("[scan] Cannot list source %s: %v", dir, err)
			continue
		}

		for _, entry := range entries {
			name := entry.Name()
			if !strings.HasSuffix(name, ext) {
				continue
			}
			path := filepath.Join(dir, name)
			if entry.Mode()&os.ModeSymlink != 0 {
				// ReadDir lstats; the size that matters is the target's.
				target, err := s.FS.Stat(path)
				if err != nil {
					logger.Warningf("[scan] Cannot follow symlink %s: %v", path, err)
					continue
				}
				entry = target
			}
			if entry.IsDir() {
				continue
			}
			if l.IsFileReserved(name) {
				logging.Debugf(logger, "[scan] %s already reserved, skipping", name)
				continue
			}

			if entry.Size() < s.MinSize {
				logger.Warningf("[scan] Plot file %s is too small (%s < %s). Is it a real plot?",
					path, humanize.Bytes(uint64(entry.Size())), humanize.Bytes(uint64(s.MinSize)))
				continue
			}

			result = append(result, Candidate{Dir: dir, File: name, Size: entry.Size()})
		}
	}
	return result
}
